package store

import (
	"context"

	"gorm.io/gorm"
)

// MetadataStore is the database holding the DBFS tree and the artifact associations.
// It has exactly one writer; transactions are its only concurrency primitive.
type MetadataStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error

	// DB returns the handle every DBFS operation runs against.
	DB() *gorm.DB

	// Vacuum reclaims pages freed by deletions. It must not run inside a transaction.
	Vacuum(ctx context.Context) error
}
