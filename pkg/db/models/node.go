package models

// NodeKind discriminates directories from files. It never changes once a node exists.
type NodeKind int

const (
	KindDirectory NodeKind = 1
	KindFile      NodeKind = 2
)

func (k NodeKind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	}
	return "unknown"
}

// Node is an identity in the DBFS tree.
type Node struct {
	ID   int64    `gorm:"column:id;primaryKey"`
	Kind NodeKind `gorm:"column:kind;not null"`
}

func (Node) TableName() string { return "dbfs_nodes" }

// Directory marks a node as a directory; only directories may own members.
type Directory struct {
	NodeID int64 `gorm:"column:node_id;primaryKey;autoIncrement:false"`
}

func (Directory) TableName() string { return "dbfs_directories" }

// Member is the single edge placing a child node under a parent directory.
type Member struct {
	ChildID  int64  `gorm:"column:child_id;primaryKey;autoIncrement:false"`
	Name     string `gorm:"column:name;not null"`
	ParentID int64  `gorm:"column:parent_id;not null"`
}

func (Member) TableName() string { return "dbfs_members" }
