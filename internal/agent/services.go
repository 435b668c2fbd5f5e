package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/mwantia/gamevault/internal/artifact"
	config "github.com/mwantia/gamevault/internal/config/server"
	"github.com/mwantia/gamevault/pkg/db/store"
	"github.com/mwantia/gamevault/pkg/dbfs"
	"github.com/mwantia/gamevault/pkg/gc"
	"github.com/mwantia/gamevault/pkg/log"
	"github.com/mwantia/gamevault/pkg/scheduler"
)

// Services bundles the components built on top of one metadata store. The agent
// and the maintenance commands share it.
type Services struct {
	Store     *store.SQLiteStore
	FS        *dbfs.FS
	GC        *gc.Collector
	Events    *scheduler.Events
	Artifacts *artifact.Service
}

func OpenServices(ctx context.Context, cfg *config.BaseServerConfig, logger log.LoggerService) (*Services, error) {
	busy, err := time.ParseDuration(cfg.Metadata.SQLite.BusyTimeout)
	if err != nil {
		busy = 5 * time.Second
	}

	st, err := store.Open(ctx, store.SQLiteConfig{
		Path:        cfg.Metadata.SQLite.Path,
		BusyTimeout: busy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	logger.Named("store").Debug("Opened metadata store '%s'", cfg.Metadata.SQLite.Path)

	fs := dbfs.New(st.DB(), dbfs.Blobs{Root: cfg.Blobs.Path})
	collector := gc.New(fs, st, logger.Named("gc"), gc.Options{
		ChunkSize:     cfg.GC.ChunkSize,
		ScanChunkSize: cfg.GC.ScanChunkSize,
		Vacuum:        cfg.GC.Vacuum,
	})
	events := scheduler.NewEvents()

	return &Services{
		Store:     st,
		FS:        fs,
		GC:        collector,
		Events:    events,
		Artifacts: artifact.NewService(fs, collector, events, logger.Named("artifact")),
	}, nil
}

// Recover finishes work a previous run left behind: abandoned placeholders are
// tombstoned and every tombstone is reaped.
func (s *Services) Recover(ctx context.Context) error {
	if _, err := s.Artifacts.PurgeStaging(ctx); err != nil {
		return err
	}
	if _, err := s.GC.ReapTombstones(ctx); err != nil {
		return fmt.Errorf("failed to reap tombstones: %w", err)
	}
	return nil
}

func (s *Services) Close() error {
	return s.Store.Close()
}
