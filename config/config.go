// Package config loads component, engine and logging settings from YAML files
// and VPUOMX_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/vpuomx/component"
	"github.com/opd-ai/vpuomx/engine/soft"
	"github.com/opd-ai/vpuomx/limits"
	"github.com/opd-ai/vpuomx/metrics"
)

// EnvPrefix prefixes every environment override, e.g. VPUOMX_LOG_LEVEL.
const EnvPrefix = "VPUOMX"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete settings tree.
type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Component ComponentConfig `mapstructure:"component" yaml:"component"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// ComponentConfig holds the initial port layout of a component.
type ComponentConfig struct {
	Width         uint32 `mapstructure:"width" yaml:"width"`
	Height        uint32 `mapstructure:"height" yaml:"height"`
	InputBuffers  uint32 `mapstructure:"input_buffers" yaml:"input_buffers"`
	OutputBuffers uint32 `mapstructure:"output_buffers" yaml:"output_buffers"`
	StrideAlign   uint32 `mapstructure:"stride_align" yaml:"stride_align"`
	ZeroCopy      bool   `mapstructure:"zero_copy" yaml:"zero_copy"`
	RegionSize    uint32 `mapstructure:"region_size" yaml:"region_size"`
}

// EngineConfig configures the software engine.
type EngineConfig struct {
	Channels     int           `mapstructure:"channels" yaml:"channels"`
	MemoryBudget int64         `mapstructure:"memory_budget" yaml:"memory_budget"`
	FrameDelay   time.Duration `mapstructure:"frame_delay" yaml:"frame_delay"`
	RegionSize   uint32        `mapstructure:"region_size" yaml:"region_size"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Default returns the settings used when no file or environment is present.
func Default() *Config {
	eng := soft.DefaultConfig()
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Component: ComponentConfig{
			Width:         component.DefaultWidth,
			Height:        component.DefaultHeight,
			InputBuffers:  component.DefaultInputCount,
			OutputBuffers: component.DefaultOutputCount,
			StrideAlign:   limits.DefaultStrideAlign,
		},
		Engine: EngineConfig{
			Channels:     eng.Channels,
			MemoryBudget: eng.MemoryBudget,
			FrameDelay:   eng.FrameDelay,
			RegionSize:   eng.RegionSize,
		},
		Metrics: MetricsConfig{Listen: "127.0.0.1:9464", Path: "/metrics"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("component.width", d.Component.Width)
	v.SetDefault("component.height", d.Component.Height)
	v.SetDefault("component.input_buffers", d.Component.InputBuffers)
	v.SetDefault("component.output_buffers", d.Component.OutputBuffers)
	v.SetDefault("component.stride_align", d.Component.StrideAlign)
	v.SetDefault("component.zero_copy", d.Component.ZeroCopy)
	v.SetDefault("component.region_size", d.Component.RegionSize)

	v.SetDefault("engine.channels", d.Engine.Channels)
	v.SetDefault("engine.memory_budget", d.Engine.MemoryBudget)
	v.SetDefault("engine.frame_delay", d.Engine.FrameDelay)
	v.SetDefault("engine.region_size", d.Engine.RegionSize)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Load reads path, applies environment overrides and validates the result.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"path":     path,
	}).Debug("Loading configuration")

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			logrus.WithFields(logrus.Fields{
				"function": "Load",
				"path":     path,
			}).Warn("Config file not found, using defaults")
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate checks every bound before the settings reach a component.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}

	cc := c.Component
	if cc.Width == 0 || cc.Height == 0 || cc.Width > limits.MaxDimension || cc.Height > limits.MaxDimension {
		return fmt.Errorf("%w: frame size %dx%d", ErrInvalid, cc.Width, cc.Height)
	}
	if err := limits.ValidateBufferCount(cc.InputBuffers); err != nil {
		return fmt.Errorf("%w: component.input_buffers: %v", ErrInvalid, err)
	}
	if err := limits.ValidateBufferCount(cc.OutputBuffers); err != nil {
		return fmt.Errorf("%w: component.output_buffers: %v", ErrInvalid, err)
	}
	if err := limits.ValidateAlignment(cc.StrideAlign); err != nil {
		return fmt.Errorf("%w: component.stride_align: %v", ErrInvalid, err)
	}
	if cc.RegionSize > limits.MaxBufferSize {
		return fmt.Errorf("%w: component.region_size %d", ErrInvalid, cc.RegionSize)
	}

	ec := c.Engine
	if ec.Channels < 1 {
		return fmt.Errorf("%w: engine.channels %d", ErrInvalid, ec.Channels)
	}
	if ec.MemoryBudget < 0 || ec.FrameDelay < 0 {
		return fmt.Errorf("%w: negative engine limit", ErrInvalid)
	}
	if err := limits.ValidateBufferSize(ec.RegionSize, limits.MaxBufferSize); err != nil {
		return fmt.Errorf("%w: engine.region_size: %v", ErrInvalid, err)
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is empty", ErrInvalid)
	}
	return nil
}

// ApplyLogging configures the standard logrus logger.
func (c *Config) ApplyLogging() error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	logrus.SetLevel(level)
	if c.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// ComponentOptions converts the component section into construction options.
// m may be nil.
func (c *Config) ComponentOptions(m *metrics.Metrics) []component.Option {
	cc := c.Component
	opts := []component.Option{
		component.WithFrameSize(cc.Width, cc.Height),
		component.WithBufferCounts(cc.InputBuffers, cc.OutputBuffers),
		component.WithStrideAlign(cc.StrideAlign),
		component.WithZeroCopy(cc.ZeroCopy),
	}
	if cc.RegionSize != 0 {
		opts = append(opts, component.WithRegionSize(cc.RegionSize))
	}
	if m != nil {
		opts = append(opts, component.WithMetrics(m))
	}
	return opts
}

// SoftEngine returns the software engine settings.
func (c *Config) SoftEngine() soft.Config {
	return soft.Config{
		Channels:     c.Engine.Channels,
		MemoryBudget: c.Engine.MemoryBudget,
		FrameDelay:   c.Engine.FrameDelay,
		RegionSize:   c.Engine.RegionSize,
	}
}
