package dbfs

import (
	"context"
	"fmt"

	"github.com/mwantia/gamevault/pkg/db/models"
)

// edgeQuery returns the anchor's own edge and the (anchor, name) edge in one round
// trip. The root has no edge of its own, so for it only the member row can appear.
const edgeQuery = `
SELECT m.child_id AS child_id, m.parent_id AS parent_id, n.kind AS kind
FROM dbfs_members m JOIN dbfs_nodes n ON n.id = m.child_id
WHERE m.child_id = ?
UNION ALL
SELECT m.child_id, m.parent_id, n.kind
FROM dbfs_members m JOIN dbfs_nodes n ON n.id = m.child_id
WHERE m.parent_id = ? AND m.name = ?`

type edgeRow struct {
	ChildID  int64
	ParentID int64
	Kind     models.NodeKind
}

// EnsureDirectory makes sure p exists below anchor as a directory and returns it.
// Without recursive only the last segment may be missing. Calling it again with the
// same arguments returns the same node.
func (f *FS) EnsureDirectory(ctx context.Context, anchor NodeID, p string, recursive bool) (NodeID, error) {
	segments, err := splitAnchored("mkdir", anchor, p)
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 0, &PathError{Op: "mkdir", Anchor: anchor, Path: p, Err: logicf("empty target name")}
	}

	var id NodeID
	err = f.Transaction(ctx, func(tx *FS) error {
		var err error
		if len(segments) == 1 {
			id, err = tx.ensureChild(ctx, anchor, segments[0])
		} else {
			id, err = tx.ensurePath(ctx, anchor, segments, recursive)
		}
		return err
	})
	if err != nil {
		return 0, &PathError{Op: "mkdir", Anchor: anchor, Path: p, Err: err}
	}
	return id, nil
}

func (f *FS) ensureChild(ctx context.Context, anchor NodeID, name string) (NodeID, error) {
	var rows []edgeRow
	if err := f.conn(ctx).Raw(edgeQuery, int64(anchor), int64(anchor), name).Scan(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to look up %s/%s: %w", anchor, name, err)
	}

	existing := func(row edgeRow) (NodeID, error) {
		if row.Kind != models.KindDirectory {
			return 0, ErrNotDirectory
		}
		return NodeID(row.ChildID), nil
	}

	switch len(rows) {
	case 0:
		if anchor != Root {
			return 0, ErrNotFound
		}
		return f.createDirectory(ctx, anchor, name)

	case 1:
		row := rows[0]
		if anchor == Root || row.ChildID != int64(anchor) {
			return existing(row)
		}
		// Only the anchor's own edge came back: no member of that name yet.
		if row.Kind != models.KindDirectory {
			return 0, ErrNotDirectory
		}
		return f.createDirectory(ctx, anchor, name)

	case 2:
		for _, row := range rows {
			if row.ParentID == int64(anchor) && row.ChildID != int64(anchor) {
				return existing(row)
			}
		}
	}
	return 0, fmt.Errorf("unexpected edge lookup result with %d rows for %s/%s", len(rows), anchor, name)
}

func (f *FS) ensurePath(ctx context.Context, anchor NodeID, segments []string, recursive bool) (NodeID, error) {
	row, ok, err := f.walk(ctx, anchor, segments)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	if row.Kind != models.KindDirectory {
		return 0, ErrNotDirectory
	}
	if row.Depth == len(segments) {
		return NodeID(row.NodeID), nil
	}
	if !recursive && row.Depth < len(segments)-1 {
		return 0, ErrNotFound
	}

	parent := NodeID(row.NodeID)
	for _, name := range segments[row.Depth:] {
		if parent, err = f.createDirectory(ctx, parent, name); err != nil {
			return 0, err
		}
	}
	return parent, nil
}

// createDirectory inserts the node, its directory marker and its edge below parent.
func (f *FS) createDirectory(ctx context.Context, parent NodeID, name string) (NodeID, error) {
	if !ValidName(name) {
		return 0, logicf("invalid name %q", name)
	}

	db := f.conn(ctx)
	node := models.Node{Kind: models.KindDirectory}
	if err := db.Create(&node).Error; err != nil {
		return 0, fmt.Errorf("failed to create node: %w", err)
	}
	if err := db.Create(&models.Directory{NodeID: node.ID}).Error; err != nil {
		return 0, fmt.Errorf("failed to create directory %d: %w", node.ID, err)
	}
	if err := db.Create(&models.Member{ChildID: node.ID, Name: name, ParentID: int64(parent)}).Error; err != nil {
		return 0, fmt.Errorf("failed to link directory %d below %s: %w", node.ID, parent, err)
	}
	return NodeID(node.ID), nil
}
