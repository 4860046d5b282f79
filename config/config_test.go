package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/vpuomx/component"
	"github.com/opd-ai/vpuomx/engine/soft"
	"github.com/opd-ai/vpuomx/limits"
	"github.com/opd-ai/vpuomx/metrics"
	"github.com/opd-ai/vpuomx/omx"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vpuomx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, uint32(component.DefaultWidth), cfg.Component.Width)
	assert.Equal(t, soft.DefaultConfig().Channels, cfg.Engine.Channels)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
  format: json
component:
  width: 1280
  height: 720
  output_buffers: 6
  zero_copy: true
engine:
  channels: 2
  frame_delay: 5ms
metrics:
  enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, uint32(1280), cfg.Component.Width)
	assert.Equal(t, uint32(720), cfg.Component.Height)
	assert.Equal(t, uint32(6), cfg.Component.OutputBuffers)
	assert.Equal(t, uint32(component.DefaultInputCount), cfg.Component.InputBuffers)
	assert.True(t, cfg.Component.ZeroCopy)
	assert.Equal(t, 2, cfg.Engine.Channels)
	assert.Equal(t, 5*time.Millisecond, cfg.Engine.FrameDelay)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed yaml", "component: [1, 2"},
		{"zero width", "component:\n  width: 0\n"},
		{"too many buffers", "component:\n  input_buffers: 99\n"},
		{"bad level", "log:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("VPUOMX_COMPONENT_WIDTH", "640")
	t.Setenv("VPUOMX_LOG_FORMAT", "json")
	t.Setenv("VPUOMX_ENGINE_CHANNELS", "8")

	path := writeFile(t, "component:\n  width: 1920\n  height: 1080\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(640), cfg.Component.Width)
	assert.Equal(t, uint32(1080), cfg.Component.Height)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Engine.Channels)
}

func TestSaveThenLoad(t *testing.T) {
	cfg := Default()
	cfg.Component.Width = 1920
	cfg.Component.Height = 1088
	cfg.Component.RegionSize = 1 << 18
	cfg.Engine.FrameDelay = 2 * time.Millisecond
	cfg.Metrics.Enabled = true

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"oversized width", func(c *Config) { c.Component.Width = 10000 }},
		{"zero output buffers", func(c *Config) { c.Component.OutputBuffers = 0 }},
		{"stride alignment", func(c *Config) { c.Component.StrideAlign = 12 }},
		{"region size", func(c *Config) { c.Component.RegionSize = 1 << 30 }},
		{"no channels", func(c *Config) { c.Engine.Channels = 0 }},
		{"negative delay", func(c *Config) { c.Engine.FrameDelay = -time.Second }},
		{"zero engine region", func(c *Config) { c.Engine.RegionSize = 0 }},
		{"metrics without listener", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = ""
		}},
	}
	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestApplyLogging(t *testing.T) {
	level, formatter := logrus.GetLevel(), logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetLevel(level)
		logrus.SetFormatter(formatter)
	})

	cfg := Default()
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"
	require.NoError(t, cfg.ApplyLogging())
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	cfg.Log.Level = "nope"
	assert.ErrorIs(t, cfg.ApplyLogging(), ErrInvalid)
}

func TestComponentOptions(t *testing.T) {
	cfg := Default()
	cfg.Component.Width = 640
	cfg.Component.Height = 480
	cfg.Component.OutputBuffers = 5

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	eng := soft.New(cfg.SoftEngine())
	c, err := component.New("video_decoder.avc", eng, omx.Callbacks{}, cfg.ComponentOptions(m)...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })

	out := omx.PortDefinition{Header: omx.NewHeader(), Index: component.OutputPort}
	require.NoError(t, c.GetParameter(omx.IndexParamPortDefinition, &out))
	assert.Equal(t, uint32(640), out.Video.Width)
	assert.Equal(t, uint32(480), out.Video.Height)
	assert.Equal(t, uint32(5), out.BufferCountActual)
	assert.Equal(t, limits.FrameSize(limits.Align(640, limits.DefaultStrideAlign), 480), out.BufferSize)
}

func TestSoftEngine(t *testing.T) {
	cfg := Default()
	cfg.Engine.Channels = 3
	cfg.Engine.MemoryBudget = 1 << 20
	got := cfg.SoftEngine()
	assert.Equal(t, 3, got.Channels)
	assert.Equal(t, int64(1<<20), got.MemoryBudget)
	assert.Equal(t, cfg.Engine.RegionSize, got.RegionSize)
}
