// Package artifact maps (game, version, platform) keys onto DBFS subtrees and
// drives their lifecycle: Requested, Committed, QueuedForDeletion and Reaped.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mwantia/gamevault/pkg/db/models"
	"github.com/mwantia/gamevault/pkg/dbfs"
	"github.com/mwantia/gamevault/pkg/gc"
	"github.com/mwantia/gamevault/pkg/log"
	"github.com/mwantia/gamevault/pkg/scheduler"
	"gorm.io/gorm"
)

type Key struct {
	Game     string
	Version  string
	Platform string
}

func (k Key) String() string {
	return k.Game + "/" + k.Version + "/" + k.Platform
}

func (k Key) validate() error {
	for _, part := range []string{k.Game, k.Version, k.Platform} {
		if !dbfs.ValidName(part) {
			return fmt.Errorf("%w: invalid artifact key %q", dbfs.ErrLogic, k.String())
		}
	}
	return nil
}

// Association is a committed artifact and the root of its subtree.
type Association struct {
	Key
	Node      dbfs.NodeID
	CreatedAt time.Time
}

func fromModel(m models.Artifact) Association {
	return Association{
		Key:       Key{Game: m.Game, Version: m.Version, Platform: m.Platform},
		Node:      dbfs.NodeID(m.NodeID),
		CreatedAt: m.CreatedAt,
	}
}

type Service struct {
	fs     *dbfs.FS
	gc     *gc.Collector
	events *scheduler.Events
	log    log.LoggerService
}

// NewService creates the artifact service. Reap jobs for deleted artifacts are
// emitted through events, which backs the reaper source.
func NewService(fs *dbfs.FS, collector *gc.Collector, events *scheduler.Events, logger log.LoggerService) *Service {
	return &Service{
		fs:     fs,
		gc:     collector,
		events: events,
		log:    logger,
	}
}

// CreatePlaceholder creates an empty staging directory below tmp/import.
func (s *Service) CreatePlaceholder(ctx context.Context) (dbfs.NodeID, error) {
	name := uuid.NewString()
	id, err := s.fs.EnsureDirectory(ctx, dbfs.ImportDir, name, false)
	if err != nil {
		return 0, fmt.Errorf("failed to create placeholder: %w", err)
	}
	s.log.Debug("Created placeholder '%s' (%s)", name, id)
	return id, nil
}

// Commit moves a staged placeholder to artifacts/<game>/<version>/<platform> and
// associates it with key. An artifact already committed under key is queued for
// deletion in the same transaction.
func (s *Service) Commit(ctx context.Context, key Key, placeholder dbfs.NodeID) (Association, error) {
	if err := key.validate(); err != nil {
		return Association{}, err
	}

	var committed Association
	var replaced *models.Artifact
	err := s.fs.Transaction(ctx, func(tx *dbfs.FS) error {
		node, err := tx.Stat(ctx, placeholder)
		if err != nil {
			return err
		}
		if !node.IsDir() || node.Parent != dbfs.ImportDir || node.Name == "" {
			return fmt.Errorf("%w: node %s is not a staged placeholder", dbfs.ErrLogic, placeholder)
		}

		existing, ok, err := lookup(ctx, tx.DB(), key)
		if err != nil {
			return err
		}
		if ok {
			if err := tombstone(ctx, tx, existing); err != nil {
				return err
			}
			replaced = &existing
		}

		parent, err := tx.EnsureDirectory(ctx, dbfs.ArtifactsDir, key.Game+dbfs.Separator+key.Version, true)
		if err != nil {
			return err
		}
		if err := tx.Reparent(ctx, placeholder, parent, key.Platform); err != nil {
			return err
		}

		row := models.Artifact{
			Game:     key.Game,
			Version:  key.Version,
			Platform: key.Platform,
			NodeID:   int64(placeholder),
		}
		if err := tx.DB().WithContext(ctx).Create(&row).Error; err != nil {
			return fmt.Errorf("failed to associate artifact %s: %w", key, err)
		}
		committed = fromModel(row)
		return nil
	})
	if err != nil {
		return Association{}, fmt.Errorf("failed to commit artifact %s: %w", key, err)
	}

	if replaced != nil {
		s.log.Info("Replaced artifact %s, queued node %d for deletion", key, replaced.NodeID)
		s.queueReap(dbfs.NodeID(replaced.NodeID))
	}
	s.log.Info("Committed artifact %s as node %s", key, committed.Node)
	return committed, nil
}

// Delete removes the association of key and tombstones its subtree below the
// cleanup directory. The subtree is reaped asynchronously.
func (s *Service) Delete(ctx context.Context, key Key) error {
	var deleted models.Artifact
	err := s.fs.Transaction(ctx, func(tx *dbfs.FS) error {
		existing, ok, err := lookup(ctx, tx.DB(), key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("artifact %s: %w", key, dbfs.ErrNotFound)
		}
		deleted = existing
		return tombstone(ctx, tx, existing)
	})
	if err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", key, err)
	}

	s.log.Info("Queued artifact %s (node %d) for deletion", key, deleted.NodeID)
	s.queueReap(dbfs.NodeID(deleted.NodeID))
	return nil
}

// Lookup returns the association of key.
func (s *Service) Lookup(ctx context.Context, key Key) (Association, bool, error) {
	row, ok, err := lookup(ctx, s.fs.DB(), key)
	if err != nil || !ok {
		return Association{}, ok, err
	}
	return fromModel(row), true, nil
}

// List returns all associations ordered by key.
func (s *Service) List(ctx context.Context) ([]Association, error) {
	var rows []models.Artifact
	err := s.fs.DB().WithContext(ctx).
		Order("game").Order("version").Order("platform").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	list := make([]Association, 0, len(rows))
	for _, row := range rows {
		list = append(list, fromModel(row))
	}
	return list, nil
}

// PurgeStaging tombstones every placeholder left in tmp/import. It must only run
// before new placeholders can be created.
func (s *Service) PurgeStaging(ctx context.Context) (int, error) {
	var purged int
	err := s.fs.Transaction(ctx, func(tx *dbfs.FS) error {
		staged, err := tx.ReadDir(ctx, dbfs.ImportDir)
		if err != nil {
			return err
		}
		for _, node := range staged {
			if err := tx.Reparent(ctx, node.ID, dbfs.CleanupDir, node.ID.String()); err != nil {
				return err
			}
		}
		purged = len(staged)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge staging: %w", err)
	}

	if purged > 0 {
		s.log.Info("Purged %d abandoned placeholders", purged)
	}
	return purged, nil
}

func lookup(ctx context.Context, db *gorm.DB, key Key) (models.Artifact, bool, error) {
	var row models.Artifact
	err := db.WithContext(ctx).
		Where("game = ? AND version = ? AND platform = ?", key.Game, key.Version, key.Platform).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, false, nil
	}
	if err != nil {
		return row, false, fmt.Errorf("failed to look up artifact %s: %w", key, err)
	}
	return row, true, nil
}

// tombstone drops the association row and parks its subtree below cleanup, named
// by the root node id.
func tombstone(ctx context.Context, tx *dbfs.FS, row models.Artifact) error {
	res := tx.DB().WithContext(ctx).
		Where("game = ? AND version = ? AND platform = ?", row.Game, row.Version, row.Platform).
		Delete(&models.Artifact{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove association: %w", res.Error)
	}

	id := dbfs.NodeID(row.NodeID)
	return tx.Reparent(ctx, id, dbfs.CleanupDir, id.String())
}
