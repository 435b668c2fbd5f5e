package server

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type BaseServerConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log       LogServerConfig       `mapstructure:"log"       yaml:"log"`
	Metadata  MetadataServerConfig  `mapstructure:"metadata"  yaml:"metadata"`
	Blobs     BlobsServerConfig     `mapstructure:"blobs"     yaml:"blobs"`
	Scheduler SchedulerServerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	GC        GCServerConfig        `mapstructure:"gc"        yaml:"gc"`
}

func LoadServerConfig() (*BaseServerConfig, error) {
	cfg := &BaseServerConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the values a running agent depends on.
func (cfg *BaseServerConfig) Validate() error {
	if cfg.Metadata.Type != "sqlite" {
		return fmt.Errorf("unsupported metadata type '%s'", cfg.Metadata.Type)
	}
	if cfg.Metadata.SQLite.Path == "" {
		return fmt.Errorf("metadata.sqlite.path is required")
	}
	if cfg.Blobs.Path == "" {
		return fmt.Errorf("blobs.path is required")
	}
	if _, err := time.ParseDuration(cfg.Scheduler.Interval); err != nil {
		return fmt.Errorf("scheduler.interval: %w", err)
	}
	for name, src := range cfg.Scheduler.Sources {
		if src.MaxConcurrency < 1 {
			return fmt.Errorf("scheduler.sources.%s.max_concurrency must be at least 1", name)
		}
		if _, err := time.ParseDuration(src.Interval); err != nil {
			return fmt.Errorf("scheduler.sources.%s.interval: %w", name, err)
		}
	}
	if cfg.GC.ChunkSize < 1 || cfg.GC.ScanChunkSize < 1 {
		return fmt.Errorf("gc chunk sizes must be positive")
	}
	return nil
}

// Timeout returns the parsed shutdown timeout, falling back to 60 seconds.
func (cfg *BaseServerConfig) Timeout() time.Duration {
	timeout, err := time.ParseDuration(cfg.ShutdownTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return timeout
}
