package dbfs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mwantia/gamevault/pkg/db/models"
)

// walkQuery follows the segments from the anchor one edge at a time and returns the
// deepest node reached. No row means the anchor itself does not exist.
const walkQuery = `
WITH RECURSIVE
	segments(depth, name) AS (
		SELECT CAST(key AS INTEGER) + 1, value FROM json_each(?)
	),
	walk(depth, node_id) AS (
		SELECT 0, id FROM dbfs_nodes WHERE id = ?
		UNION ALL
		SELECT walk.depth + 1, m.child_id
		FROM walk
		JOIN segments ON segments.depth = walk.depth + 1
		JOIN dbfs_members m ON m.parent_id = walk.node_id AND m.name = segments.name
	)
SELECT walk.depth AS depth, walk.node_id AS node_id, n.kind AS kind
FROM walk
JOIN dbfs_nodes n ON n.id = walk.node_id
ORDER BY walk.depth DESC
LIMIT 1`

type walkRow struct {
	Depth  int
	NodeID int64
	Kind   models.NodeKind
}

// walk returns the deepest existing prefix of segments below anchor.
func (f *FS) walk(ctx context.Context, anchor NodeID, segments []string) (walkRow, bool, error) {
	encoded, err := json.Marshal(segments)
	if err != nil {
		return walkRow{}, false, err
	}

	var rows []walkRow
	if err := f.conn(ctx).Raw(walkQuery, string(encoded), int64(anchor)).Scan(&rows).Error; err != nil {
		return walkRow{}, false, fmt.Errorf("failed to walk path: %w", err)
	}
	if len(rows) == 0 {
		return walkRow{}, false, nil
	}
	return rows[0], true, nil
}

// Resolve looks up p below anchor. A missing node is reported through the boolean,
// never as an error; errors are reserved for misuse and database failures.
func (f *FS) Resolve(ctx context.Context, anchor NodeID, p string) (NodeID, bool, error) {
	segments, err := splitAnchored("resolve", anchor, p)
	if err != nil {
		return 0, false, err
	}

	// The anchor may be stale, so even an empty path is checked against the table.
	if len(segments) == 0 {
		ok, err := f.Exists(ctx, anchor)
		if err != nil || !ok {
			return 0, false, err
		}
		return anchor, true, nil
	}

	row, ok, err := f.walk(ctx, anchor, segments)
	if err != nil || !ok {
		return 0, false, err
	}
	if row.Depth != len(segments) {
		return 0, false, nil
	}
	return NodeID(row.NodeID), true, nil
}

// Exists reports whether a node with the given id exists.
func (f *FS) Exists(ctx context.Context, id NodeID) (bool, error) {
	var count int64
	if err := f.conn(ctx).Model(&models.Node{}).Where("id = ?", int64(id)).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check node %s: %w", id, err)
	}
	return count > 0, nil
}
