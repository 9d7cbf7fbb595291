// Package config provides configuration management for the DOA pipeline
// daemon.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Kernel  KernelConfig  `mapstructure:"kernel"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// KernelConfig configures the per-frame DOA kernel. Driver selects which
// concrete implementation the daemon wires in.
type KernelConfig struct {
	Driver          string  `mapstructure:"driver"` // "usb" or "sim"
	SampleRateHz    int     `mapstructure:"sample_rate_hz"`
	SoundSpeed      float64 `mapstructure:"sound_speed"`
	MicDistanceM    float64 `mapstructure:"mic_distance_m"`
	SamplesPerFrame int     `mapstructure:"samples_per_frame"`
}

// TrackerConfig configures the DOA tracker's output cadence and rate
// limiting.
type TrackerConfig struct {
	OutputIntervalMs        int     `mapstructure:"output_interval_ms"`
	MinAngleChangeThreshold float64 `mapstructure:"min_angle_change_threshold"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Kernel: KernelConfig{
			Driver:          "sim",
			SampleRateHz:    16000,
			SoundSpeed:      10,
			MicDistanceM:    0.046,
			SamplesPerFrame: 512,
		},
		Tracker: TrackerConfig{
			OutputIntervalMs:        1000,
			MinAngleChangeThreshold: 15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				fmt.Printf("Warning: config file not found at %s, using defaults\n", path)
			}
		}
	}

	v.SetEnvPrefix("DOAPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")

	v.SetDefault("kernel.driver", "sim")
	v.SetDefault("kernel.sample_rate_hz", 16000)
	v.SetDefault("kernel.sound_speed", 10)
	v.SetDefault("kernel.mic_distance_m", 0.046)
	v.SetDefault("kernel.samples_per_frame", 512)

	v.SetDefault("tracker.output_interval_ms", 1000)
	v.SetDefault("tracker.min_angle_change_threshold", 15)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Kernel.Driver != "usb" && c.Kernel.Driver != "sim" {
		return fmt.Errorf("kernel.driver must be \"usb\" or \"sim\", got %q", c.Kernel.Driver)
	}

	if c.Kernel.MicDistanceM < 0 {
		return fmt.Errorf("kernel.mic_distance_m must be non-negative, got %f", c.Kernel.MicDistanceM)
	}

	if c.Tracker.OutputIntervalMs < 0 {
		return fmt.Errorf("tracker.output_interval_ms must be non-negative, got %d", c.Tracker.OutputIntervalMs)
	}

	if c.Tracker.MinAngleChangeThreshold < 0 {
		return fmt.Errorf("tracker.min_angle_change_threshold must be non-negative, got %f", c.Tracker.MinAngleChangeThreshold)
	}

	return nil
}
