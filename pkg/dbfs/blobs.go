package dbfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const shardWidth = 3

// Blobs is the on-disk store for content kept outside the database. A blob lives at
// <root>/<hex[0:3]>/<hex[3:6]>/<hex> which bounds the fan-out of every directory.
type Blobs struct {
	Root string
}

func (b Blobs) Path(h Hash) string {
	name := h.String()
	return filepath.Join(b.Root, name[:shardWidth], name[shardWidth:2*shardWidth], name)
}

func (b Blobs) Open(h Hash) (io.ReadCloser, error) {
	file, err := os.Open(b.Path(h))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", h, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open blob %s: %w", h, err)
	}
	return file, nil
}

// Write stores data as the blob of h. The file is written next to its final path
// and renamed into place, so readers never observe a partial blob.
func (b Blobs) Write(h Hash, data []byte) error {
	path := b.Path(h)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create shard %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to stage blob %s: %w", h, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write blob %s: %w", h, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", h, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to store blob %s: %w", h, err)
	}
	return nil
}

// Remove unlinks the blob of h. A missing blob is not an error; the boolean reports
// whether a file was actually removed.
func (b Blobs) Remove(h Hash) (bool, error) {
	if err := os.Remove(b.Path(h)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove blob %s: %w", h, err)
	}
	return true, nil
}

// Walk calls fn for every file in the two shard levels whose name is a hash that
// belongs to its shard. Anything else in the tree is ignored.
func (b Blobs) Walk(fn func(h Hash) error) error {
	first, err := readShard(b.Root)
	if err != nil {
		return err
	}
	for _, l1 := range first {
		second, err := readShard(filepath.Join(b.Root, l1))
		if err != nil {
			return err
		}
		for _, l2 := range second {
			dir := filepath.Join(b.Root, l1, l2)
			entries, err := os.ReadDir(dir)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return fmt.Errorf("failed to read shard %s: %w", dir, err)
			}
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() || len(name) != HashSize*2 || !isLowerHex(name) {
					continue
				}
				if name[:shardWidth] != l1 || name[shardWidth:2*shardWidth] != l2 {
					continue
				}
				h, err := ParseHash(name)
				if err != nil {
					continue
				}
				if err := fn(h); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func readShard(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read shard %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && len(entry.Name()) == shardWidth && isLowerHex(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
