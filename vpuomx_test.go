package vpuomx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/opd-ai/vpuomx/component"
	"github.com/opd-ai/vpuomx/engine/soft"
	"github.com/opd-ai/vpuomx/omx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestComponentNameEnum(t *testing.T) {
	var names []string
	for i := uint32(0); ; i++ {
		name, err := ComponentNameEnum(i)
		if errors.Is(err, omx.ErrNoMore) {
			break
		}
		require.NoError(t, err)
		names = append(names, name)
	}
	assert.Equal(t, []string{
		"OMX.vpu.video_decoder.avc",
		"OMX.vpu.video_decoder.hevc",
		"OMX.vpu.video_decoder.vp8",
		"OMX.vpu.video_encoder.avc",
		"OMX.vpu.video_encoder.hevc",
		"OMX.vpu.video_encoder.vp8",
	}, names)

	_, err := ComponentNameEnum(1000)
	assert.ErrorIs(t, err, omx.ErrNoMore)
}

func TestComponentsReturnsCopy(t *testing.T) {
	entries := Components()
	require.Len(t, entries, 6)
	entries[0].Name = "changed"
	name, err := ComponentNameEnum(0)
	require.NoError(t, err)
	assert.Equal(t, "OMX.vpu.video_decoder.avc", name)
}

func TestGetRolesOfComponent(t *testing.T) {
	roles, err := GetRolesOfComponent("OMX.vpu.video_encoder.hevc")
	require.NoError(t, err)
	assert.Equal(t, []string{"video_encoder.hevc"}, roles)

	_, err = GetRolesOfComponent("OMX.other.video_encoder.hevc")
	assert.ErrorIs(t, err, omx.ErrComponentNotFound)
}

func TestGetComponentsOfRole(t *testing.T) {
	names, err := GetComponentsOfRole("video_decoder.vp8")
	require.NoError(t, err)
	assert.Equal(t, []string{"OMX.vpu.video_decoder.vp8"}, names)

	_, err = GetComponentsOfRole("audio_decoder.aac")
	assert.ErrorIs(t, err, omx.ErrComponentNotFound)
}

func TestGetHandle(t *testing.T) {
	eng := soft.New(soft.DefaultConfig())

	c, err := GetHandle("OMX.vpu.video_decoder.hevc", eng, omx.Callbacks{})
	require.NoError(t, err)
	info := c.Info()
	assert.Equal(t, "OMX.vpu.video_decoder.hevc", info.Name)
	assert.Equal(t, "video_decoder.hevc", info.Role)
	assert.Equal(t, component.KindDecoder, c.Role().Kind)

	state, err := c.GetState()
	require.NoError(t, err)
	assert.Equal(t, omx.StateLoaded, state)
	require.NoError(t, FreeHandle(c))

	named, err := GetHandle("OMX.vpu.video_encoder.avc", eng, omx.Callbacks{}, component.WithName("OMX.test.enc"))
	require.NoError(t, err)
	assert.Equal(t, "OMX.test.enc", named.Info().Name)
	require.NoError(t, FreeHandle(named))
}

func TestGetHandleErrors(t *testing.T) {
	eng := soft.New(soft.DefaultConfig())

	_, err := GetHandle("OMX.vpu.video_decoder.mpeg2", eng, omx.Callbacks{})
	assert.ErrorIs(t, err, omx.ErrComponentNotFound)

	_, err = GetHandle("OMX.vpu.video_encoder.avc", eng, omx.Callbacks{}, component.WithBufferCounts(0, 0))
	assert.ErrorIs(t, err, omx.ErrBadParameter)

	assert.ErrorIs(t, FreeHandle(nil), omx.ErrBadParameter)
}
