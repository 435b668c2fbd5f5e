package migrations

import (
	"fmt"

	"github.com/mwantia/gamevault/pkg/db/models"
	"gorm.io/gorm"
)

var schemaStatements = []string{
	`CREATE TABLE dbfs_nodes (
		id   INTEGER PRIMARY KEY,
		kind INTEGER NOT NULL CHECK (kind IN (1, 2))
	)`,
	`CREATE TRIGGER dbfs_nodes_kind_immutable
		BEFORE UPDATE OF kind ON dbfs_nodes
		WHEN NEW.kind <> OLD.kind
		BEGIN
			SELECT RAISE(ABORT, 'node kind is immutable');
		END`,
	`CREATE TABLE dbfs_directories (
		node_id INTEGER PRIMARY KEY REFERENCES dbfs_nodes (id)
	)`,
	`CREATE TABLE dbfs_members (
		child_id  INTEGER PRIMARY KEY REFERENCES dbfs_nodes (id),
		name      TEXT    NOT NULL CHECK (name <> ''),
		parent_id INTEGER NOT NULL REFERENCES dbfs_directories (node_id),
		UNIQUE (parent_id, name)
	)`,
	`CREATE TABLE dbfs_contents (
		hash BLOB    PRIMARY KEY CHECK (length(hash) = 32),
		size INTEGER NOT NULL CHECK (size >= 0),
		data BLOB
	) WITHOUT ROWID`,
	`CREATE TABLE dbfs_files (
		node_id      INTEGER PRIMARY KEY REFERENCES dbfs_nodes (id),
		mode         INTEGER NOT NULL,
		content_hash BLOB    NOT NULL REFERENCES dbfs_contents (hash)
	)`,
	`CREATE INDEX dbfs_files_content_hash ON dbfs_files (content_hash)`,
}

// WellKnown describes a pre-existing directory. Parent is ignored for the root.
type WellKnown struct {
	ID     int64
	Name   string
	Parent int64
}

// WellKnownDirectories are created once by the schema and never by the path builder.
// Parents are listed before their children.
var WellKnownDirectories = []WellKnown{
	{ID: 0, Name: ""},
	{ID: -2, Name: "tmp", Parent: 0},
	{ID: -3, Name: "artifacts", Parent: 0},
	{ID: -4, Name: "cleanup", Parent: 0},
	{ID: -129, Name: "import", Parent: -2},
}

func seedWellKnown(db *gorm.DB) error {
	for _, wk := range WellKnownDirectories {
		// Raw statements: gorm would treat the root's zero id as unset.
		if err := db.Exec(`INSERT INTO dbfs_nodes (id, kind) VALUES (?, ?)`, wk.ID, models.KindDirectory).Error; err != nil {
			return fmt.Errorf("insert node %d: %w", wk.ID, err)
		}
		if err := db.Exec(`INSERT INTO dbfs_directories (node_id) VALUES (?)`, wk.ID).Error; err != nil {
			return fmt.Errorf("insert directory %d: %w", wk.ID, err)
		}
		if wk.ID == 0 {
			continue
		}
		if err := db.Exec(`INSERT INTO dbfs_members (child_id, name, parent_id) VALUES (?, ?, ?)`, wk.ID, wk.Name, wk.Parent).Error; err != nil {
			return fmt.Errorf("insert member %d (%s): %w", wk.ID, wk.Name, err)
		}
	}
	return nil
}

func dropWellKnown(db *gorm.DB) error {
	for i := len(WellKnownDirectories) - 1; i >= 0; i-- {
		id := WellKnownDirectories[i].ID
		for _, stmt := range []string{
			`DELETE FROM dbfs_members WHERE child_id = ?`,
			`DELETE FROM dbfs_directories WHERE node_id = ?`,
			`DELETE FROM dbfs_nodes WHERE id = ?`,
		} {
			if err := db.Exec(stmt, id).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
