package server

import "time"

const (
	SourceReaper       = "reaper"
	SourceContentSweep = "content_sweep"
	SourceBlobScan     = "blob_scan"
)

type SchedulerServerConfig struct {
	Interval string                           `mapstructure:"interval" yaml:"interval"`
	Sources  map[string]SchedulerSourceConfig `mapstructure:"sources"  yaml:"sources"`
}

type SchedulerSourceConfig struct {
	MaxConcurrency int    `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	Interval       string `mapstructure:"interval"        yaml:"interval"`
	RunOnStart     bool   `mapstructure:"run_on_start"    yaml:"run_on_start"`
}

// TickInterval returns the parsed driver interval. Validate guarantees it parses.
func (cfg SchedulerServerConfig) TickInterval() time.Duration {
	d, err := time.ParseDuration(cfg.Interval)
	if err != nil {
		return time.Minute
	}
	return d
}

// Source returns the configuration of a named source, falling back to the defaults.
func (cfg SchedulerServerConfig) Source(name string) SchedulerSourceConfig {
	if src, ok := cfg.Sources[name]; ok {
		return src
	}
	return GetServerDefault().Scheduler.Sources[name]
}

// Every returns the parsed polling interval of the source.
func (src SchedulerSourceConfig) Every() time.Duration {
	d, err := time.ParseDuration(src.Interval)
	if err != nil {
		return time.Hour
	}
	return d
}
