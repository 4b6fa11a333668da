// Package config loads the glow host configuration from file and
// environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/vnaveen0/glow/internal/runtime"
)

// Config holds all host configuration.
type Config struct {
	Host        runtime.HostConfig      `mapstructure:"host"`
	Devices     []runtime.DeviceConfig  `mapstructure:"devices"`
	Partition   runtime.PartitionConfig `mapstructure:"partition"`
	Partitioner PartitionerConfig       `mapstructure:"partitioner"`
	Admin       AdminConfig             `mapstructure:"admin"`
	Tracing     TracingConfig           `mapstructure:"tracing"`
	Log         LogConfig               `mapstructure:"log"`
}

// PartitionerConfig mirrors the partitioning flags.
type PartitionerConfig struct {
	SaturateHost  bool   `mapstructure:"saturate_host"`
	LoadBalance   bool   `mapstructure:"load_balance"`
	LogPartition  bool   `mapstructure:"log_partition"`
	DumpPartition bool   `mapstructure:"dump_partition"`
	DumpDir       string `mapstructure:"dump_dir"`
}

// AdminConfig configures the admin HTTP surface.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Setup builds the process logger from the log config.
func (c LogConfig) Setup() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(c.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Validate checks the configuration and returns warnings; malformed device
// entries are hard errors.
func (c *Config) Validate() ([]string, error) {
	var warnings []string
	for i, dev := range c.Devices {
		if dev.BackendName == "" {
			return nil, fmt.Errorf("device %d: backend is required", i)
		}
		if dev.DeviceMemory < 0 {
			return nil, fmt.Errorf("device %d: memory %d is negative", i, dev.DeviceMemory)
		}
	}
	if c.Host.MaxActiveRequests < 0 {
		warnings = append(warnings, fmt.Sprintf("host max_active_requests %d is negative, using default", c.Host.MaxActiveRequests))
	}
	if c.Host.MaxQueueSize < 0 {
		warnings = append(warnings, fmt.Sprintf("host max_queue_size %d is negative, using default", c.Host.MaxQueueSize))
	}
	if c.Partition.Enabled() {
		if len(c.Partition.BackendNames) != c.Partition.NumOfPartitions {
			warnings = append(warnings, "partition backends count does not match num_partitions")
		}
		if len(c.Partition.PartitionNames) != c.Partition.NumOfPartitions {
			warnings = append(warnings, "partition names count does not match num_partitions")
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0, 1]", c.Tracing.SampleRate))
	}
	return warnings, nil
}

// Load reads configuration from path and GLOW_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("host.max_active_requests", runtime.DefaultHostConfig().MaxActiveRequests)
	v.SetDefault("host.max_queue_size", runtime.DefaultHostConfig().MaxQueueSize)
	v.SetDefault("host.executor_threads", runtime.DefaultHostConfig().ExecutorThreads)
	v.SetDefault("admin.addr", ":8080")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, warning := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}
	return &cfg, nil
}
