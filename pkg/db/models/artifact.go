package models

import "time"

// Artifact associates a (game, version, platform) triple with the root node of its
// subtree below the artifacts directory.
type Artifact struct {
	Game     string `gorm:"primaryKey;type:text"`
	Version  string `gorm:"primaryKey;type:text"`
	Platform string `gorm:"primaryKey;type:text"`
	NodeID   int64  `gorm:"not null;uniqueIndex"`

	CreatedAt time.Time
}
