// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Typed configuration loaded from YAML/TOML/JSON files and HMQ_ environment
// variables, with defaults for every key.

package control

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoopConfig tunes the host event loop.
type LoopConfig struct {
	BatchSize int `mapstructure:"batchSize"`
}

// SocketConfig holds transport socket defaults.
type SocketConfig struct {
	SendHWM int           `mapstructure:"sendHWM"`
	RecvHWM int           `mapstructure:"recvHWM"`
	Linger  time.Duration `mapstructure:"linger"`
}

// AdapterConfig bounds the adapter queues; zero means unbounded.
type AdapterConfig struct {
	MaxPendingSends int `mapstructure:"maxPendingSends"`
	MaxPendingRecvs int `mapstructure:"maxPendingRecvs"`
}

// LumberjackConfig configures the rotating log file. An empty Filename
// disables the file sink.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig selects level, encoder and sinks.
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig controls Prometheus exposure.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config is the top-level configuration.
type Config struct {
	Loop    LoopConfig    `mapstructure:"loop"`
	Socket  SocketConfig  `mapstructure:"socket"`
	Adapter AdapterConfig `mapstructure:"adapter"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// EnvPrefix prefixes environment overrides, e.g. HMQ_SOCKET_SENDHWM.
const EnvPrefix = "HMQ"

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Loop:   LoopConfig{BatchSize: 128},
		Socket: SocketConfig{SendHWM: 1000, RecvHWM: 1000, Linger: time.Second},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File:   LumberjackConfig{MaxSizeMB: 100, MaxBackups: 7, MaxAgeDays: 30, Compress: true},
		},
		Metrics: MetricsConfig{Enable: true, Path: "/metrics"},
	}
}

// Load reads configuration from path (any format viper understands) and the
// environment. An empty path falls back to HMQ_CONFIG, then ./hioload-mq.yaml;
// a missing file is not an error.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return decode(v)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("hioload-mq")
		v.SetConfigType("yaml")
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("loop.batchSize", d.Loop.BatchSize)

	v.SetDefault("socket.sendHWM", d.Socket.SendHWM)
	v.SetDefault("socket.recvHWM", d.Socket.RecvHWM)
	v.SetDefault("socket.linger", d.Socket.Linger.String())

	v.SetDefault("adapter.maxPendingSends", d.Adapter.MaxPendingSends)
	v.SetDefault("adapter.maxPendingRecvs", d.Adapter.MaxPendingRecvs)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file.filename", d.Logging.File.Filename)
	v.SetDefault("logging.file.maxSize", d.Logging.File.MaxSizeMB)
	v.SetDefault("logging.file.maxBackups", d.Logging.File.MaxBackups)
	v.SetDefault("logging.file.maxAge", d.Logging.File.MaxAgeDays)
	v.SetDefault("logging.file.compress", d.Logging.File.Compress)

	v.SetDefault("metrics.enable", d.Metrics.Enable)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch {
	case c.Loop.BatchSize <= 0:
		return fmt.Errorf("config: loop.batchSize must be positive, got %d", c.Loop.BatchSize)
	case c.Socket.SendHWM <= 0 || c.Socket.RecvHWM <= 0:
		return fmt.Errorf("config: socket high-water marks must be positive")
	case c.Adapter.MaxPendingSends < 0 || c.Adapter.MaxPendingRecvs < 0:
		return fmt.Errorf("config: adapter limits must not be negative")
	}
	return nil
}
