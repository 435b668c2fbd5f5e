package server

// MetadataServerConfig holds the configuration of the database backing the DBFS tree.
type MetadataServerConfig struct {
	Type   string               `mapstructure:"type"   yaml:"type"`
	SQLite MetadataSQLiteConfig `mapstructure:"sqlite" yaml:"sqlite"`
}

// MetadataSQLiteConfig holds SQLite-specific configuration
type MetadataSQLiteConfig struct {
	Path        string `mapstructure:"path"         yaml:"path"`
	BusyTimeout string `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

// BlobsServerConfig points at the sharded on-disk content store.
type BlobsServerConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// GCServerConfig tunes the batching of the garbage collector.
type GCServerConfig struct {
	ChunkSize     int  `mapstructure:"chunk_size"      yaml:"chunk_size"`
	ScanChunkSize int  `mapstructure:"scan_chunk_size" yaml:"scan_chunk_size"`
	Vacuum        bool `mapstructure:"vacuum"          yaml:"vacuum"`
}
