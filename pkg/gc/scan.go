package gc

import (
	"context"
	"fmt"

	"github.com/mwantia/gamevault/pkg/dbfs"
)

// ScanBlobs walks the blob store and unlinks every blob that no externally stored
// content record references. Each chunk runs in its own transaction that holds the
// write lock, so no writer can register a blob between the check and the unlink.
func (c *Collector) ScanBlobs(ctx context.Context) (Stats, error) {
	var stats Stats
	chunk := make([]dbfs.Hash, 0, c.opts.ScanChunkSize)

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		removed, err := c.scanChunk(ctx, chunk)
		stats.Blobs += removed
		chunk = chunk[:0]
		return err
	}

	err := c.fs.Blobs().Walk(func(h dbfs.Hash) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk = append(chunk, h)
		if len(chunk) < c.opts.ScanChunkSize {
			return nil
		}
		return flush()
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return stats, fmt.Errorf("blob scan stopped after %d removals: %w", stats.Blobs, err)
	}

	c.log.Info("Blob scan removed %d stale blobs", stats.Blobs)
	return stats, nil
}

func (c *Collector) scanChunk(ctx context.Context, chunk []dbfs.Hash) (int64, error) {
	var removed int64
	err := c.fs.Transaction(ctx, func(tx *dbfs.FS) error {
		removed = 0
		db := tx.DB().WithContext(ctx)

		// A no-op write takes the write lock up front, like BEGIN IMMEDIATE.
		if err := db.Exec(`UPDATE dbfs_nodes SET kind = kind WHERE id = 0`).Error; err != nil {
			return fmt.Errorf("failed to lock database: %w", err)
		}

		for _, h := range chunk {
			var referenced int64
			err := db.Raw(`SELECT count(*) FROM dbfs_contents WHERE hash = ? AND data IS NULL`, h.Bytes()).Scan(&referenced).Error
			if err != nil {
				return fmt.Errorf("failed to check blob %s: %w", h, err)
			}
			if referenced > 0 {
				continue
			}

			ok, err := c.fs.Blobs().Remove(h)
			if err != nil {
				return err
			}
			if ok {
				removed++
			}
		}
		return nil
	})
	return removed, err
}
