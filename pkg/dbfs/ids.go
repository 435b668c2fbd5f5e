package dbfs

import "strconv"

// NodeID identifies a node. Non-positive ids other than -1 are reserved for
// well-known directories.
type NodeID int64

const (
	Root NodeID = 0

	TmpDir       NodeID = -2
	ArtifactsDir NodeID = -3
	CleanupDir   NodeID = -4

	ImportDir NodeID = -129
)

// IsWellKnown reports whether id lies in one of the reserved ranges: the root,
// [-128, -2] for top-level directories and [-2^63, -129] for nested ones.
func IsWellKnown(id NodeID) bool {
	return id == Root || id <= -2
}

func (id NodeID) String() string {
	return strconv.FormatInt(int64(id), 10)
}
