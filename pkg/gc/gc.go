// Package gc destroys tombstoned DBFS subtrees and frees content that no file
// references anymore, both in the database and in the blob store.
//
// Metadata phases are single transactions. Disk unlinks happen after the matching
// rows are committed, so a crash can only leave stale blobs behind, which ScanBlobs
// later removes. Every pass is safe to retry.
package gc

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/gamevault/pkg/dbfs"
	"github.com/mwantia/gamevault/pkg/log"
	"gorm.io/gorm"
)

const (
	DefaultChunkSize     = 65536
	DefaultScanChunkSize = 768
)

// Vacuumer reclaims storage after deletions.
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

type Options struct {
	// ChunkSize bounds the number of content hashes handled per transaction.
	ChunkSize int
	// ScanChunkSize bounds the number of blob files checked per transaction.
	ScanChunkSize int
	// Vacuum runs a storage reclaim pass at the end of every reap.
	Vacuum bool
}

// Stats counts what a pass destroyed.
type Stats struct {
	Nodes    int64
	Contents int64
	Blobs    int64
}

func (s *Stats) add(o Stats) {
	s.Nodes += o.Nodes
	s.Contents += o.Contents
	s.Blobs += o.Blobs
}

type Collector struct {
	fs     *dbfs.FS
	vacuum Vacuumer
	log    log.LoggerService
	opts   Options
}

// New creates a collector. vacuum may be nil, which disables the reclaim pass.
func New(fs *dbfs.FS, vacuum Vacuumer, logger log.LoggerService, opts Options) *Collector {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ScanChunkSize <= 0 {
		opts.ScanChunkSize = DefaultScanChunkSize
	}
	return &Collector{
		fs:     fs,
		vacuum: vacuum,
		log:    logger,
		opts:   opts,
	}
}

type deletedContent struct {
	Hash     dbfs.Hash
	External bool
}

type deletedRow struct {
	Hash     []byte
	External bool
}

func (r deletedRow) content() (deletedContent, error) {
	var d deletedContent
	if err := d.Hash.Scan(r.Hash); err != nil {
		return d, err
	}
	d.External = r.External
	return d, nil
}

const (
	deleteSubtreeMembers = `
WITH RECURSIVE subtree(id) AS (
	SELECT ?
	UNION ALL
	SELECT m.child_id FROM dbfs_members m JOIN subtree ON m.parent_id = subtree.id
)
DELETE FROM dbfs_members WHERE child_id IN (SELECT id FROM subtree)`

	deleteDetachedFiles = `
DELETE FROM dbfs_files
WHERE node_id NOT IN (SELECT child_id FROM dbfs_members)
RETURNING content_hash AS hash`

	deleteDetachedDirectories = `
DELETE FROM dbfs_directories
WHERE node_id <> 0 AND node_id NOT IN (SELECT child_id FROM dbfs_members)`

	deleteDetachedNodes = `
DELETE FROM dbfs_nodes
WHERE id <> 0 AND id NOT IN (SELECT child_id FROM dbfs_members)`

	deleteUnreferencedContent = `
DELETE FROM dbfs_contents
WHERE hash = ? AND NOT EXISTS (SELECT 1 FROM dbfs_files f WHERE f.content_hash = dbfs_contents.hash)
RETURNING hash, data IS NULL AS external`

	deleteAllUnreferencedContent = `
DELETE FROM dbfs_contents
WHERE NOT EXISTS (SELECT 1 FROM dbfs_files f WHERE f.content_hash = dbfs_contents.hash)
RETURNING hash, data IS NULL AS external`
)

// ReapSubtree destroys node id and everything below it. With collectHashes the
// content of the deleted files is released as well once nothing else references it.
func (c *Collector) ReapSubtree(ctx context.Context, id dbfs.NodeID, collectHashes bool) (Stats, error) {
	stats, err := c.reapSubtree(ctx, id, collectHashes)
	if err != nil {
		return stats, err
	}
	return stats, c.reclaim(ctx)
}

func (c *Collector) reapSubtree(ctx context.Context, id dbfs.NodeID, collectHashes bool) (Stats, error) {
	var stats Stats
	if dbfs.IsWellKnown(id) {
		return stats, fmt.Errorf("%w: well-known directory %s cannot be reaped", dbfs.ErrLogic, id)
	}

	var hashes []dbfs.Hash
	err := c.fs.Transaction(ctx, func(tx *dbfs.FS) error {
		db := tx.DB().WithContext(ctx)

		if err := db.Exec(deleteSubtreeMembers, int64(id)).Error; err != nil {
			return fmt.Errorf("failed to unlink subtree %s: %w", id, err)
		}

		if collectHashes {
			var rows []deletedRow
			if err := db.Raw(deleteDetachedFiles).Scan(&rows).Error; err != nil {
				return fmt.Errorf("failed to delete files: %w", err)
			}
			for _, row := range rows {
				var h dbfs.Hash
				if err := h.Scan(row.Hash); err != nil {
					return err
				}
				hashes = append(hashes, h)
			}
		} else if err := db.Exec(`DELETE FROM dbfs_files WHERE node_id NOT IN (SELECT child_id FROM dbfs_members)`).Error; err != nil {
			return fmt.Errorf("failed to delete files: %w", err)
		}

		if err := db.Exec(deleteDetachedDirectories).Error; err != nil {
			return fmt.Errorf("failed to delete directories: %w", err)
		}

		res := db.Exec(deleteDetachedNodes)
		if res.Error != nil {
			return fmt.Errorf("failed to delete nodes: %w", res.Error)
		}
		stats.Nodes = res.RowsAffected
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	c.log.Debug("Reaped %d nodes below %s", stats.Nodes, id)

	if len(hashes) > 0 {
		released, err := c.releaseHashes(ctx, hashes)
		stats.add(released)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// releaseHashes deletes the content records of hashes that are still unreferenced,
// one chunk per transaction, and unlinks their blobs after each commit.
func (c *Collector) releaseHashes(ctx context.Context, hashes []dbfs.Hash) (Stats, error) {
	var stats Stats
	unique := dedupe(hashes)

	for start := 0; start < len(unique); start += c.opts.ChunkSize {
		end := min(start+c.opts.ChunkSize, len(unique))
		chunk := unique[start:end]

		var deleted []deletedContent
		err := c.fs.Transaction(ctx, func(tx *dbfs.FS) error {
			deleted = deleted[:0]
			db := tx.DB().WithContext(ctx)
			for _, h := range chunk {
				rows, err := deleteContent(db, deleteUnreferencedContent, h.Bytes())
				if err != nil {
					return err
				}
				deleted = append(deleted, rows...)
			}
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("failed to release content chunk: %w", err)
		}

		stats.Contents += int64(len(deleted))
		removed, err := c.unlink(deleted)
		stats.Blobs += removed
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// ReapUnreferencedContent deletes every content record no file references, then
// unlinks the blobs of the records that were stored externally.
func (c *Collector) ReapUnreferencedContent(ctx context.Context) (Stats, error) {
	var stats Stats
	var deleted []deletedContent

	err := c.fs.Transaction(ctx, func(tx *dbfs.FS) error {
		rows, err := deleteContent(tx.DB().WithContext(ctx), deleteAllUnreferencedContent)
		deleted = rows
		return err
	})
	if err != nil {
		return stats, fmt.Errorf("failed to sweep content: %w", err)
	}
	stats.Contents = int64(len(deleted))

	for start := 0; start < len(deleted); start += c.opts.ChunkSize {
		end := min(start+c.opts.ChunkSize, len(deleted))
		removed, err := c.unlink(deleted[start:end])
		stats.Blobs += removed
		if err != nil {
			return stats, err
		}
	}

	c.log.Info("Content sweep released %d records and %d blobs", stats.Contents, stats.Blobs)
	return stats, c.reclaim(ctx)
}

// ReapTombstones reaps everything parked below the cleanup directory. It runs at
// startup to finish deletions interrupted by a previous crash.
func (c *Collector) ReapTombstones(ctx context.Context) (Stats, error) {
	var stats Stats

	tombstones, err := c.fs.ReadDir(ctx, dbfs.CleanupDir)
	if err != nil {
		return stats, fmt.Errorf("failed to list tombstones: %w", err)
	}
	if len(tombstones) == 0 {
		return stats, nil
	}

	var errs []error
	for _, node := range tombstones {
		reaped, err := c.reapSubtree(ctx, node.ID, true)
		stats.add(reaped)
		if err != nil {
			errs = append(errs, fmt.Errorf("tombstone %s: %w", node.ID, err))
		}
	}

	c.log.Info("Reaped %d tombstones (%d nodes, %d contents, %d blobs)", len(tombstones), stats.Nodes, stats.Contents, stats.Blobs)
	if err := errors.Join(errs...); err != nil {
		return stats, err
	}
	return stats, c.reclaim(ctx)
}

func (c *Collector) unlink(deleted []deletedContent) (int64, error) {
	var removed int64
	for _, d := range deleted {
		if !d.External {
			continue
		}
		ok, err := c.fs.Blobs().Remove(d.Hash)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (c *Collector) reclaim(ctx context.Context) error {
	if !c.opts.Vacuum || c.vacuum == nil {
		return nil
	}
	if err := c.vacuum.Vacuum(ctx); err != nil {
		return fmt.Errorf("failed to reclaim storage: %w", err)
	}
	return nil
}

func deleteContent(db *gorm.DB, query string, args ...any) ([]deletedContent, error) {
	var rows []deletedRow
	if err := db.Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to delete content: %w", err)
	}

	deleted := make([]deletedContent, 0, len(rows))
	for _, row := range rows {
		d, err := row.content()
		if err != nil {
			return nil, err
		}
		deleted = append(deleted, d)
	}
	return deleted, nil
}

func dedupe(hashes []dbfs.Hash) []dbfs.Hash {
	seen := make(map[dbfs.Hash]struct{}, len(hashes))
	unique := make([]dbfs.Hash, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		unique = append(unique, h)
	}
	return unique
}
