package artifact

import (
	"context"
	"time"

	config "github.com/mwantia/gamevault/internal/config/server"
	"github.com/mwantia/gamevault/pkg/dbfs"
	"github.com/mwantia/gamevault/pkg/scheduler"
)

const (
	jobReapTombstones = "reap-tombstones"
	jobContentSweep   = "content-sweep"
	jobBlobScan       = "blob-scan"
)

func reapJobID(id dbfs.NodeID) string {
	return "reap-" + id.String()
}

func (s *Service) queueReap(id dbfs.NodeID) {
	if s.events == nil {
		return
	}
	s.events.Emit(scheduler.NewJob(reapJobID(id), func(ctx context.Context) error {
		stats, err := s.gc.ReapSubtree(ctx, id, true)
		if err != nil {
			return err
		}
		s.log.Info("Reaped node %s (%d nodes, %d contents, %d blobs)", id, stats.Nodes, stats.Contents, stats.Blobs)
		return nil
	}))
}

// Sources returns the lifecycle job sources: the reaper, fed by deletions and a
// periodic tombstone sweep, the content sweep and the blob scan.
func (s *Service) Sources(cfg config.SchedulerServerConfig) []scheduler.Source {
	reaper := cfg.Source(config.SourceReaper)
	sweep := cfg.Source(config.SourceContentSweep)
	scan := cfg.Source(config.SourceBlobScan)

	var emitter scheduler.Emitter
	if s.events != nil {
		emitter = s.events
	}

	return []scheduler.Source{
		{
			Name:           config.SourceReaper,
			MaxConcurrency: reaper.MaxConcurrency,
			Emitter:        emitter,
			Schedule: periodic(reaper, jobReapTombstones, func(ctx context.Context) error {
				_, err := s.gc.ReapTombstones(ctx)
				return err
			}),
		},
		{
			Name:           config.SourceContentSweep,
			MaxConcurrency: sweep.MaxConcurrency,
			Schedule: periodic(sweep, jobContentSweep, func(ctx context.Context) error {
				_, err := s.gc.ReapUnreferencedContent(ctx)
				return err
			}),
		},
		{
			Name:           config.SourceBlobScan,
			MaxConcurrency: scan.MaxConcurrency,
			Schedule: periodic(scan, jobBlobScan, func(ctx context.Context) error {
				_, err := s.gc.ScanBlobs(ctx)
				return err
			}),
		},
	}
}

func periodic(cfg config.SchedulerSourceConfig, id string, fn func(ctx context.Context) error) *scheduler.Schedule {
	return &scheduler.Schedule{
		Interval:   cfg.Every(),
		RunOnStart: cfg.RunOnStart,
		Check: func(context.Context, time.Time) ([]scheduler.Job, error) {
			return []scheduler.Job{scheduler.NewJob(id, fn)}, nil
		},
	}
}
