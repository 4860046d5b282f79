package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/opd-ai/vpuomx/config"
	"github.com/opd-ai/vpuomx/omx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestRolesCommand(t *testing.T) {
	out, err := execute(t, "roles")
	require.NoError(t, err)
	assert.Contains(t, out, "COMPONENT")
	assert.Contains(t, out, "OMX.vpu.video_decoder.avc")
	assert.Contains(t, out, "video_encoder.vp8")
}

func TestSessionCommands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"decode", []string{"decode", "--codec", "hevc", "--frames", "3"}, []string{
			"OMX.vpu.video_decoder.hevc", "outputs:       3",
		}},
		{"encode", []string{"encode", "-k", "vp8", "-n", "2"}, []string{
			"OMX.vpu.video_encoder.vp8", "codec config:  1",
		}},
		{"loopback", []string{"loopback", "-n", "2"}, []string{
			"OMX.vpu.video_encoder.avc", "OMX.vpu.video_decoder.avc",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err, out)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}
}

func TestUnknownCodec(t *testing.T) {
	_, err := execute(t, "decode", "--codec", "mpeg2")
	assert.ErrorIs(t, err, omx.ErrComponentNotFound)
}

func TestConfigCommand(t *testing.T) {
	src := filepath.Join(t.TempDir(), "in.yaml")
	require.NoError(t, os.WriteFile(src, []byte("component:\n  width: 640\n  height: 480\n"), 0o600))

	out, err := execute(t, "--config", src, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "width: 640")

	dst := filepath.Join(t.TempDir(), "out.yaml")
	_, err = execute(t, "--config", src, "config", "--write", dst)
	require.NoError(t, err)
	cfg, err := config.Load(dst)
	require.NoError(t, err)
	assert.Equal(t, uint32(480), cfg.Component.Height)
}

func TestInvalidConfigFails(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(src, []byte("engine:\n  channels: 0\n"), 0o600))

	_, err := execute(t, "--config", src, "roles")
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = execute(t, "--log-level", "chatty", "roles")
	assert.ErrorIs(t, err, config.ErrInvalid)
}
