package dbfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mwantia/gamevault/pkg/db/models"
)

// Node describes a node and its place in the tree. Parent and Name are empty for
// the root.
type Node struct {
	ID     NodeID
	Kind   models.NodeKind
	Parent NodeID
	Name   string
}

func (n Node) IsDir() bool {
	return n.Kind == models.KindDirectory
}

// Content is a content record. A nil Data means the bytes live in the blob store.
type Content struct {
	Hash Hash
	Size int64
	Data []byte
}

// FileInfo holds the attributes of a file node.
type FileInfo struct {
	Node
	Mode     os.FileMode
	Hash     Hash
	Size     int64
	External bool
}

type nodeRow struct {
	ID       int64
	Kind     models.NodeKind
	ParentID *int64
	Name     *string
}

func (r nodeRow) node() Node {
	n := Node{ID: NodeID(r.ID), Kind: r.Kind}
	if r.ParentID != nil {
		n.Parent = NodeID(*r.ParentID)
	}
	if r.Name != nil {
		n.Name = *r.Name
	}
	return n
}

// Stat returns the node with the given id.
func (f *FS) Stat(ctx context.Context, id NodeID) (Node, error) {
	var rows []nodeRow
	err := f.conn(ctx).Raw(`
		SELECT n.id AS id, n.kind AS kind, m.parent_id AS parent_id, m.name AS name
		FROM dbfs_nodes n LEFT JOIN dbfs_members m ON m.child_id = n.id
		WHERE n.id = ?`, int64(id)).Scan(&rows).Error
	if err != nil {
		return Node{}, fmt.Errorf("failed to stat node %s: %w", id, err)
	}
	if len(rows) == 0 {
		return Node{}, &PathError{Op: "stat", Anchor: id, Err: ErrNotFound}
	}
	return rows[0].node(), nil
}

// Parent returns the directory id holds its membership edge in. The root has none.
func (f *FS) Parent(ctx context.Context, id NodeID) (NodeID, bool, error) {
	node, err := f.Stat(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if node.Name == "" {
		return 0, false, nil
	}
	return node.Parent, true, nil
}

// Lookup returns the member called name below parent.
func (f *FS) Lookup(ctx context.Context, parent NodeID, name string) (Node, bool, error) {
	var rows []nodeRow
	err := f.conn(ctx).Raw(`
		SELECT n.id AS id, n.kind AS kind, m.parent_id AS parent_id, m.name AS name
		FROM dbfs_members m JOIN dbfs_nodes n ON n.id = m.child_id
		WHERE m.parent_id = ? AND m.name = ?`, int64(parent), name).Scan(&rows).Error
	if err != nil {
		return Node{}, false, fmt.Errorf("failed to look up %s/%s: %w", parent, name, err)
	}
	if len(rows) == 0 {
		return Node{}, false, nil
	}
	return rows[0].node(), true, nil
}

// ReadDir lists the members of a directory ordered by name.
func (f *FS) ReadDir(ctx context.Context, id NodeID) ([]Node, error) {
	if err := f.requireDirectory(ctx, "readdir", id); err != nil {
		return nil, err
	}

	var rows []nodeRow
	err := f.conn(ctx).Raw(`
		SELECT n.id AS id, n.kind AS kind, m.parent_id AS parent_id, m.name AS name
		FROM dbfs_members m JOIN dbfs_nodes n ON n.id = m.child_id
		WHERE m.parent_id = ?
		ORDER BY m.name`, int64(id)).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list directory %s: %w", id, err)
	}

	nodes := make([]Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, row.node())
	}
	return nodes, nil
}

func (f *FS) requireDirectory(ctx context.Context, op string, id NodeID) error {
	node, err := f.Stat(ctx, id)
	if err != nil {
		return err
	}
	if !node.IsDir() {
		return &PathError{Op: op, Anchor: id, Err: ErrNotDirectory}
	}
	return nil
}

// Reparent moves the edge of id below newParent under newName. Node identity never
// changes; this is how artifacts are committed and tombstoned.
func (f *FS) Reparent(ctx context.Context, id, newParent NodeID, newName string) error {
	fail := func(err error) error {
		return &PathError{Op: "reparent", Anchor: id, Path: newName, Err: err}
	}
	if IsWellKnown(id) {
		return fail(logicf("well-known directory %s cannot be moved", id))
	}
	if !ValidName(newName) {
		return fail(logicf("invalid name %q", newName))
	}

	return f.Transaction(ctx, func(tx *FS) error {
		if err := tx.requireDirectory(ctx, "reparent", newParent); err != nil {
			return err
		}

		var loops int64
		err := tx.conn(ctx).Raw(`
			WITH RECURSIVE up(id) AS (
				SELECT ?
				UNION ALL
				SELECT m.parent_id FROM dbfs_members m JOIN up ON m.child_id = up.id
			)
			SELECT count(*) FROM up WHERE id = ?`, int64(newParent), int64(id)).Scan(&loops).Error
		if err != nil {
			return fmt.Errorf("failed to check ancestry of %s: %w", newParent, err)
		}
		if loops > 0 {
			return fail(logicf("cannot move %s below its own subtree", id))
		}

		if existing, ok, err := tx.Lookup(ctx, newParent, newName); err != nil {
			return err
		} else if ok && existing.ID != id {
			return fail(ErrExist)
		}

		res := tx.conn(ctx).Model(&models.Member{}).
			Where("child_id = ?", int64(id)).
			Updates(map[string]any{"parent_id": int64(newParent), "name": newName})
		if res.Error != nil {
			return fmt.Errorf("failed to move node %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fail(ErrNotFound)
		}
		return nil
	})
}

// PutContent inserts a content record unless one with the same hash exists.
func (f *FS) PutContent(ctx context.Context, c Content) error {
	if c.Data != nil && int64(len(c.Data)) != c.Size {
		return logicf("content %s has %d inline bytes but size %d", c.Hash, len(c.Data), c.Size)
	}
	if c.Size < 0 {
		return logicf("content %s has negative size", c.Hash)
	}

	// A nil slice would be bound as an empty blob; external content needs a real NULL.
	var data any
	if c.Data != nil {
		data = c.Data
	}
	err := f.conn(ctx).Exec(`
		INSERT INTO dbfs_contents (hash, size, data) VALUES (?, ?, ?)
		ON CONFLICT (hash) DO NOTHING`, c.Hash.Bytes(), c.Size, data).Error
	if err != nil {
		return fmt.Errorf("failed to store content %s: %w", c.Hash, err)
	}
	return nil
}

// CreateFile links a new file node below parent referencing existing content.
func (f *FS) CreateFile(ctx context.Context, parent NodeID, name string, mode os.FileMode, hash Hash) (NodeID, error) {
	fail := func(err error) error {
		return &PathError{Op: "create", Anchor: parent, Path: name, Err: err}
	}
	if !ValidName(name) {
		return 0, fail(logicf("invalid name %q", name))
	}

	var id NodeID
	err := f.Transaction(ctx, func(tx *FS) error {
		if err := tx.requireDirectory(ctx, "create", parent); err != nil {
			return err
		}
		if _, ok, err := tx.Lookup(ctx, parent, name); err != nil {
			return err
		} else if ok {
			return fail(ErrExist)
		}

		var contents int64
		if err := tx.conn(ctx).Model(&models.Content{}).Where("hash = ?", hash.Bytes()).Count(&contents).Error; err != nil {
			return fmt.Errorf("failed to check content %s: %w", hash, err)
		}
		if contents == 0 {
			return fail(fmt.Errorf("content %s: %w", hash, ErrNotFound))
		}

		db := tx.conn(ctx)
		node := models.Node{Kind: models.KindFile}
		if err := db.Create(&node).Error; err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		if err := db.Create(&models.File{NodeID: node.ID, Mode: uint32(mode), ContentHash: hash.Bytes()}).Error; err != nil {
			return fmt.Errorf("failed to create file %d: %w", node.ID, err)
		}
		if err := db.Create(&models.Member{ChildID: node.ID, Name: name, ParentID: int64(parent)}).Error; err != nil {
			return fmt.Errorf("failed to link file %d below %s: %w", node.ID, parent, err)
		}
		id = NodeID(node.ID)
		return nil
	})
	return id, err
}

// DefaultInlineLimit is the largest payload WriteFile keeps inside the database.
const DefaultInlineLimit = 16 << 10

// WriteFile stores data as content and links a new file referencing it below parent.
// Payloads larger than inlineLimit go to the blob store. The blob is written last,
// once the file is linked, while the transaction holds the write lock, so a
// concurrent blob scan cannot observe it without its record.
func (f *FS) WriteFile(ctx context.Context, parent NodeID, name string, mode os.FileMode, data []byte, inlineLimit int) (NodeID, error) {
	h := Sum(data)
	content := Content{Hash: h, Size: int64(len(data))}
	if len(data) <= inlineLimit {
		content.Data = data
		if content.Data == nil {
			content.Data = []byte{}
		}
	}

	var id NodeID
	err := f.Transaction(ctx, func(tx *FS) error {
		if err := tx.PutContent(ctx, content); err != nil {
			return err
		}

		created, err := tx.CreateFile(ctx, parent, name, mode, h)
		if err != nil {
			return err
		}
		id = created

		var rows []contentRow
		if err := tx.conn(ctx).Raw(`SELECT data IS NULL AS external FROM dbfs_contents WHERE hash = ?`, h.Bytes()).Scan(&rows).Error; err != nil {
			return fmt.Errorf("failed to read content %s: %w", h, err)
		}
		if len(rows) == 1 && rows[0].External {
			return tx.blobs.Write(h, data)
		}
		return nil
	})
	return id, err
}

type fileRow struct {
	Mode        uint32
	ContentHash []byte
	Size        int64
	External    bool
}

// StatFile returns the attributes of a file node.
func (f *FS) StatFile(ctx context.Context, id NodeID) (FileInfo, error) {
	node, err := f.Stat(ctx, id)
	if err != nil {
		return FileInfo{}, err
	}
	if node.Kind != models.KindFile {
		return FileInfo{}, &PathError{Op: "statfile", Anchor: id, Err: logicf("node %s is a %s", id, node.Kind)}
	}

	var rows []fileRow
	err = f.conn(ctx).Raw(`
		SELECT f.mode AS mode, f.content_hash AS content_hash, c.size AS size, c.data IS NULL AS external
		FROM dbfs_files f JOIN dbfs_contents c ON c.hash = f.content_hash
		WHERE f.node_id = ?`, int64(id)).Scan(&rows).Error
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat file %s: %w", id, err)
	}
	if len(rows) == 0 {
		return FileInfo{}, &PathError{Op: "statfile", Anchor: id, Err: ErrNotFound}
	}

	info := FileInfo{
		Node:     node,
		Mode:     os.FileMode(rows[0].Mode),
		Size:     rows[0].Size,
		External: rows[0].External,
	}
	if err := info.Hash.Scan(rows[0].ContentHash); err != nil {
		return FileInfo{}, err
	}
	return info, nil
}

type contentRow struct {
	Data     []byte
	External bool
}

// OpenContent returns the bytes of a content record, inline or from the blob store.
func (f *FS) OpenContent(ctx context.Context, hash Hash) (io.ReadCloser, error) {
	var rows []contentRow
	err := f.conn(ctx).Raw(`SELECT data, data IS NULL AS external FROM dbfs_contents WHERE hash = ?`, hash.Bytes()).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read content %s: %w", hash, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("content %s: %w", hash, ErrNotFound)
	}
	if rows[0].External {
		return f.blobs.Open(hash)
	}
	return io.NopCloser(bytes.NewReader(rows[0].Data)), nil
}

// ReadFile opens the content of a file node.
func (f *FS) ReadFile(ctx context.Context, id NodeID) (io.ReadCloser, error) {
	info, err := f.StatFile(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.OpenContent(ctx, info.Hash)
}
