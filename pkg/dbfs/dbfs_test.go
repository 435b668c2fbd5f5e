package dbfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwantia/gamevault/pkg/db/migrations"
	"github.com/mwantia/gamevault/pkg/db/models"
	"github.com/mwantia/gamevault/pkg/db/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.SQLiteConfig{Path: filepath.Join(dir, "dbfs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s.DB(), Blobs{Root: filepath.Join(dir, "blobs")})
}

func countNodes(t *testing.T, f *FS) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.DB().Model(&models.Node{}).Count(&n).Error)
	return n
}

func putInline(t *testing.T, f *FS, data string) Hash {
	t.Helper()
	h := Sum([]byte(data))
	require.NoError(t, f.PutContent(context.Background(), Content{Hash: h, Size: int64(len(data)), Data: []byte(data)}))
	return h
}

func TestWellKnownMatchesSchema(t *testing.T) {
	ids := map[string]NodeID{"": Root, "tmp": TmpDir, "artifacts": ArtifactsDir, "cleanup": CleanupDir, "import": ImportDir}
	for _, wk := range migrations.WellKnownDirectories {
		id, ok := ids[wk.Name]
		require.True(t, ok, "unexpected well-known directory %q", wk.Name)
		assert.Equal(t, id, NodeID(wk.ID))
		assert.True(t, IsWellKnown(NodeID(wk.ID)))
	}
	assert.False(t, IsWellKnown(1))
	assert.False(t, IsWellKnown(-1))
}

func TestResolveWellKnown(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	id, ok, err := f.Resolve(ctx, Root, "/tmp/import")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ImportDir, id)

	id, ok, err = f.Resolve(ctx, TmpDir, "import")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ImportDir, id)

	id, ok, err = f.Resolve(ctx, Root, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Root, id)
}

func TestResolveMissing(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	_, ok, err := f.Resolve(ctx, Root, "tmp/import/nothing/here")
	require.NoError(t, err)
	assert.False(t, ok)

	// A stale anchor with an empty path is not found rather than echoed back.
	_, ok, err = f.Resolve(ctx, NodeID(4242), ".")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = f.Resolve(ctx, NodeID(4242), "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveMisuse(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	_, _, err := f.Resolve(ctx, TmpDir, "/import")
	require.ErrorIs(t, err, ErrLogic)

	_, _, err = f.Resolve(ctx, TmpDir, "../artifacts")
	require.ErrorIs(t, err, ErrLogic)

	var pathErr *PathError
	require.True(t, errors.As(err, &pathErr))
	assert.Equal(t, "resolve", pathErr.Op)
}

func TestEnsureDirectoryRecursive(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()
	before := countNodes(t, f)

	c, err := f.EnsureDirectory(ctx, Root, "a/b/c", true)
	require.NoError(t, err)
	assert.Equal(t, before+3, countNodes(t, f))

	a, ok, err := f.Resolve(ctx, Root, "a")
	require.NoError(t, err)
	require.True(t, ok)
	b, ok, err := f.Resolve(ctx, Root, "a/b")
	require.NoError(t, err)
	require.True(t, ok)

	for _, tc := range []struct {
		id     NodeID
		parent NodeID
		name   string
	}{{a, Root, "a"}, {b, a, "b"}, {c, b, "c"}} {
		node, err := f.Stat(ctx, tc.id)
		require.NoError(t, err)
		assert.True(t, node.IsDir())
		assert.Equal(t, tc.parent, node.Parent)
		assert.Equal(t, tc.name, node.Name)
	}

	resolved, ok, err := f.Resolve(ctx, Root, "/a/./b//c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, c, resolved)
}

func TestEnsureDirectoryIdempotent(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	for _, p := range []string{"single", "x/y/z"} {
		first, err := f.EnsureDirectory(ctx, Root, p, true)
		require.NoError(t, err)
		count := countNodes(t, f)

		second, err := f.EnsureDirectory(ctx, Root, p, true)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, count, countNodes(t, f))

		resolved, ok, err := f.Resolve(ctx, Root, p)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first, resolved)
	}

	// Well-known directories resolve to their sentinel ids.
	id, err := f.EnsureDirectory(ctx, Root, "tmp", false)
	require.NoError(t, err)
	assert.Equal(t, TmpDir, id)

	id, err = f.EnsureDirectory(ctx, Root, "tmp/import", false)
	require.NoError(t, err)
	assert.Equal(t, ImportDir, id)
}

func TestEnsureDirectorySingleSegment(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	child, err := f.EnsureDirectory(ctx, ArtifactsDir, "game", false)
	require.NoError(t, err)

	again, err := f.EnsureDirectory(ctx, ArtifactsDir, "game", false)
	require.NoError(t, err)
	assert.Equal(t, child, again)

	nested, err := f.EnsureDirectory(ctx, child, "1.0", false)
	require.NoError(t, err)
	node, err := f.Stat(ctx, nested)
	require.NoError(t, err)
	assert.Equal(t, child, node.Parent)

	_, err = f.EnsureDirectory(ctx, NodeID(9999), "orphan", false)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnsureDirectoryNonRecursive(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	_, err := f.EnsureDirectory(ctx, Root, "p/q/r", false)
	require.ErrorIs(t, err, ErrNotFound)

	_, ok, err := f.Resolve(ctx, Root, "p")
	require.NoError(t, err)
	assert.False(t, ok, "failed call must not leave intermediate directories behind")

	_, err = f.EnsureDirectory(ctx, Root, "p", false)
	require.NoError(t, err)
	_, err = f.EnsureDirectory(ctx, Root, "p/q", false)
	require.NoError(t, err)

	// Only the leaf is missing: created without recursion.
	_, err = f.EnsureDirectory(ctx, Root, "p/q/r", false)
	require.NoError(t, err)
}

func TestEnsureDirectoryConflicts(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	dir, err := f.EnsureDirectory(ctx, Root, "games", false)
	require.NoError(t, err)
	h := putInline(t, f, "readme")
	file, err := f.CreateFile(ctx, dir, "README", 0o644, h)
	require.NoError(t, err)
	_, err = f.CreateFile(ctx, Root, "top", 0o644, h)
	require.NoError(t, err)

	t.Run("single segment below root is a file", func(t *testing.T) {
		_, err := f.EnsureDirectory(ctx, Root, "top", false)
		require.ErrorIs(t, err, ErrNotDirectory)
		require.ErrorIs(t, err, ErrExist)
	})

	t.Run("single segment below directory is a file", func(t *testing.T) {
		_, err := f.EnsureDirectory(ctx, dir, "README", false)
		require.ErrorIs(t, err, ErrNotDirectory)
	})

	t.Run("anchor is a file", func(t *testing.T) {
		_, err := f.EnsureDirectory(ctx, file, "sub", false)
		require.ErrorIs(t, err, ErrNotDirectory)
	})

	t.Run("file in the middle of the path", func(t *testing.T) {
		_, err := f.EnsureDirectory(ctx, Root, "games/README/sub", true)
		require.ErrorIs(t, err, ErrNotDirectory)
	})

	t.Run("full path is a file", func(t *testing.T) {
		_, err := f.EnsureDirectory(ctx, Root, "games/README", true)
		require.ErrorIs(t, err, ErrNotDirectory)
	})

	t.Run("missing anchor", func(t *testing.T) {
		_, err := f.EnsureDirectory(ctx, NodeID(777), "a/b", true)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEnsureDirectoryMisuse(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	for name, p := range map[string]string{
		"empty":       "",
		"only dots":   "./.",
		"climbs":      "a/../..",
		"collapses":   "a/..",
		"nul in name": "a\x00b",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.EnsureDirectory(ctx, Root, p, true)
			require.ErrorIs(t, err, ErrLogic)
		})
	}

	_, err := f.EnsureDirectory(ctx, TmpDir, "/abs", true)
	require.ErrorIs(t, err, ErrLogic)
}

func TestEnsureDirectoryJoinsTransaction(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()
	rollback := errors.New("rollback")

	err := f.Transaction(ctx, func(tx *FS) error {
		id, err := tx.EnsureDirectory(ctx, Root, "staged/deep", true)
		require.NoError(t, err)

		resolved, ok, err := tx.Resolve(ctx, Root, "staged/deep")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, id, resolved)
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	_, ok, err := f.Resolve(ctx, Root, "staged")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMembershipUniqueness(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	_, err := f.EnsureDirectory(ctx, Root, "dup", false)
	require.NoError(t, err)
	_, err = f.EnsureDirectory(ctx, Root, "dup/inner", true)
	require.NoError(t, err)

	type dupRow struct {
		ParentID int64
		Name     string
		Total    int64
	}
	var dups []dupRow
	require.NoError(t, f.DB().Raw(`
		SELECT parent_id, name, count(*) AS total FROM dbfs_members
		GROUP BY parent_id, name HAVING count(*) > 1`).Scan(&dups).Error)
	assert.Empty(t, dups)
}

func TestReadDirAndLookup(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	_, err := f.EnsureDirectory(ctx, ArtifactsDir, "zeta", false)
	require.NoError(t, err)
	_, err = f.EnsureDirectory(ctx, ArtifactsDir, "alpha", false)
	require.NoError(t, err)

	entries, err := f.ReadDir(ctx, ArtifactsDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].Name)
	assert.Equal(t, "zeta", entries[1].Name)

	node, ok, err := f.Lookup(ctx, ArtifactsDir, "zeta")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entries[1].ID, node.ID)

	_, ok, err = f.Lookup(ctx, ArtifactsDir, "beta")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.ReadDir(ctx, NodeID(31337))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestParent(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	parent, ok, err := f.Parent(ctx, ImportDir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TmpDir, parent)

	_, ok, err = f.Parent(ctx, Root)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = f.Parent(ctx, NodeID(31337))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReparent(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	b, err := f.EnsureDirectory(ctx, Root, "a/b", true)
	require.NoError(t, err)
	a, ok, err := f.Resolve(ctx, Root, "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.Reparent(ctx, b, CleanupDir, b.String()))
	_, ok, err = f.Resolve(ctx, Root, "a/b")
	require.NoError(t, err)
	assert.False(t, ok)

	moved, ok, err := f.Resolve(ctx, Root, "cleanup/"+b.String())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b, moved)

	t.Run("below own subtree", func(t *testing.T) {
		child, err := f.EnsureDirectory(ctx, a, "child", false)
		require.NoError(t, err)
		err = f.Reparent(ctx, a, child, "loop")
		require.ErrorIs(t, err, ErrLogic)
	})

	t.Run("name collision", func(t *testing.T) {
		err := f.Reparent(ctx, a, Root, "tmp")
		require.ErrorIs(t, err, ErrExist)
	})

	t.Run("well-known", func(t *testing.T) {
		err := f.Reparent(ctx, ImportDir, Root, "import")
		require.ErrorIs(t, err, ErrLogic)
	})

	t.Run("missing parent", func(t *testing.T) {
		err := f.Reparent(ctx, a, NodeID(5555), "x")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestContentInlineAndExternal(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	inline := putInline(t, f, "inline bytes")
	// Storing the same content twice is a no-op.
	putInline(t, f, "inline bytes")

	external := Sum([]byte("external bytes"))
	require.NoError(t, f.PutContent(ctx, Content{Hash: external, Size: 14}))
	path := f.Blobs().Path(external)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("external bytes"), 0o644))

	for h, want := range map[Hash]string{inline: "inline bytes", external: "external bytes"} {
		rc, err := f.OpenContent(ctx, h)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}

	id, err := f.CreateFile(ctx, Root, "ext.bin", 0o600, external)
	require.NoError(t, err)
	info, err := f.StatFile(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.External)
	assert.Equal(t, os.FileMode(0o600), info.Mode)
	assert.Equal(t, external, info.Hash)
	assert.EqualValues(t, 14, info.Size)

	_, err = f.CreateFile(ctx, Root, "ext.bin", 0o600, external)
	require.ErrorIs(t, err, ErrExist)

	_, err = f.CreateFile(ctx, Root, "missing.bin", 0o600, Sum([]byte("nope")))
	require.ErrorIs(t, err, ErrNotFound)

	err = f.PutContent(ctx, Content{Hash: Sum([]byte("x")), Size: 3, Data: []byte("x")})
	require.ErrorIs(t, err, ErrLogic)
}

func TestWriteFile(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	small, err := f.WriteFile(ctx, Root, "small.txt", 0o644, []byte("tiny"), 8)
	require.NoError(t, err)
	large, err := f.WriteFile(ctx, Root, "large.bin", 0o644, []byte("larger than eight"), 8)
	require.NoError(t, err)
	empty, err := f.WriteFile(ctx, Root, "empty", 0o644, nil, 8)
	require.NoError(t, err)

	for id, want := range map[NodeID]string{small: "tiny", large: "larger than eight", empty: ""} {
		rc, err := f.ReadFile(ctx, id)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}

	info, err := f.StatFile(ctx, large)
	require.NoError(t, err)
	assert.True(t, info.External)
	_, err = os.Stat(f.Blobs().Path(info.Hash))
	require.NoError(t, err)

	info, err = f.StatFile(ctx, small)
	require.NoError(t, err)
	assert.False(t, info.External)
	_, err = os.Stat(f.Blobs().Path(info.Hash))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFileOntoExistingName(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	_, err := f.WriteFile(ctx, Root, "large.bin", 0o644, []byte("the first large payload"), 8)
	require.NoError(t, err)

	payload := []byte("another large payload")
	_, err = f.WriteFile(ctx, Root, "large.bin", 0o644, payload, 8)
	require.ErrorIs(t, err, ErrExist)

	var contents int64
	require.NoError(t, f.DB().Model(&models.Content{}).Count(&contents).Error)
	assert.EqualValues(t, 1, contents)

	_, err = os.Stat(f.Blobs().Path(Sum(payload)))
	assert.True(t, os.IsNotExist(err), "rolled back write left a blob behind")
}

func TestPutContentExternalIsNull(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	external := Sum([]byte("external bytes"))
	require.NoError(t, f.PutContent(ctx, Content{Hash: external, Size: 14}))
	empty := Sum(nil)
	require.NoError(t, f.PutContent(ctx, Content{Hash: empty, Size: 0, Data: []byte{}}))

	for h, want := range map[Hash]string{external: "null", empty: "blob"} {
		var kind string
		require.NoError(t, f.DB().Raw(`SELECT typeof(data) FROM dbfs_contents WHERE hash = ?`, h.Bytes()).Scan(&kind).Error)
		assert.Equal(t, want, kind)
	}
}

func TestFileKindIsImmutable(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	id, err := f.CreateFile(ctx, Root, "f", 0o644, putInline(t, f, "f"))
	require.NoError(t, err)

	err = f.DB().Model(&models.Node{}).Where("id = ?", int64(id)).Update("kind", models.KindDirectory).Error
	require.Error(t, err)
}

func TestTransactionHandleIsUsed(t *testing.T) {
	f := newTestFS(t)
	ctx := context.Background()

	require.NoError(t, f.DB().Transaction(func(tx *gorm.DB) error {
		_, err := f.WithTx(tx).EnsureDirectory(ctx, Root, "outer", false)
		return err
	}))

	_, ok, err := f.Resolve(ctx, Root, "outer")
	require.NoError(t, err)
	assert.True(t, ok)
}
