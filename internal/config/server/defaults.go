package server

import "github.com/spf13/viper"

func GetServerDefault() BaseServerConfig {
	return BaseServerConfig{
		ShutdownTimeout: "10s",

		Log: LogServerConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogServerRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},
		Metadata: MetadataServerConfig{
			Type: "sqlite",
			SQLite: MetadataSQLiteConfig{
				Path:        "./data/gamevault.db",
				BusyTimeout: "5s",
			},
		},
		Blobs: BlobsServerConfig{
			Path: "./data/blobs",
		},
		Scheduler: SchedulerServerConfig{
			Interval: "60s",
			Sources: map[string]SchedulerSourceConfig{
				SourceReaper: {
					MaxConcurrency: 1,
					Interval:       "1h",
					RunOnStart:     true,
				},
				SourceContentSweep: {
					MaxConcurrency: 1,
					Interval:       "24h",
					RunOnStart:     false,
				},
				SourceBlobScan: {
					MaxConcurrency: 1,
					Interval:       "168h",
					RunOnStart:     false,
				},
			},
		},
		GC: GCServerConfig{
			ChunkSize:     65536,
			ScanChunkSize: 768,
			Vacuum:        true,
		},
	}
}

func setDefaults() {
	defaults := GetServerDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("metadata.type", defaults.Metadata.Type)
	viper.SetDefault("metadata.sqlite.path", defaults.Metadata.SQLite.Path)
	viper.SetDefault("metadata.sqlite.busy_timeout", defaults.Metadata.SQLite.BusyTimeout)

	viper.SetDefault("blobs.path", defaults.Blobs.Path)

	viper.SetDefault("scheduler.interval", defaults.Scheduler.Interval)
	for name, src := range defaults.Scheduler.Sources {
		viper.SetDefault("scheduler.sources."+name+".max_concurrency", src.MaxConcurrency)
		viper.SetDefault("scheduler.sources."+name+".interval", src.Interval)
		viper.SetDefault("scheduler.sources."+name+".run_on_start", src.RunOnStart)
	}

	viper.SetDefault("gc.chunk_size", defaults.GC.ChunkSize)
	viper.SetDefault("gc.scan_chunk_size", defaults.GC.ScanChunkSize)
	viper.SetDefault("gc.vacuum", defaults.GC.Vacuum)
}
