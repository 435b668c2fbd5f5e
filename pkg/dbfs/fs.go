package dbfs

import (
	"context"

	"gorm.io/gorm"
)

// FS runs DBFS operations against a database handle, which may be an open transaction.
type FS struct {
	db    *gorm.DB
	blobs Blobs
}

func New(db *gorm.DB, blobs Blobs) *FS {
	return &FS{db: db, blobs: blobs}
}

// WithTx returns a FS whose operations join tx.
func (f *FS) WithTx(tx *gorm.DB) *FS {
	return &FS{db: tx, blobs: f.blobs}
}

// DB returns the handle the FS runs against.
func (f *FS) DB() *gorm.DB {
	return f.db
}

func (f *FS) Blobs() Blobs {
	return f.blobs
}

// Transaction runs fn inside a transaction, or inside a savepoint when the FS is
// already bound to one. Any error rolls back what fn did.
func (f *FS) Transaction(ctx context.Context, fn func(tx *FS) error) error {
	return f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(f.WithTx(tx))
	})
}

func (f *FS) conn(ctx context.Context) *gorm.DB {
	return f.db.WithContext(ctx)
}
