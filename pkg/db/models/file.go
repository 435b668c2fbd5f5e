package models

// File holds the attributes of a file node.
type File struct {
	NodeID      int64  `gorm:"column:node_id;primaryKey;autoIncrement:false"`
	Mode        uint32 `gorm:"column:mode;not null"`
	ContentHash []byte `gorm:"column:content_hash;not null"`
}

func (File) TableName() string { return "dbfs_files" }

// Content is a deduplicated content record. Data is NULL when the bytes live in the
// on-disk blob store. gorm binds a nil slice as an empty blob, so records are written
// through dbfs.FS.PutContent rather than Create.
type Content struct {
	Hash []byte `gorm:"column:hash;primaryKey"`
	Size int64  `gorm:"column:size;not null"`
	Data []byte `gorm:"column:data"`
}

func (Content) TableName() string { return "dbfs_contents" }
