package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrouter/pkg/db"
)

// Migration20261001090000CreateParsedDocuments creates the parsed document table.
// document holds the JSON encoded SkillDocument for the content hash.
func Migration20261001090000CreateParsedDocuments() db.Migration {
	return db.Migration{
		Version:     20261001090000,
		Description: "Create parsed_documents table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS parsed_documents (
					path TEXT PRIMARY KEY,
					content_hash TEXT NOT NULL,
					document TEXT NOT NULL,
					parsed_at DATETIME NOT NULL
				)
			`)
			return errors.Wrap(err, "failed to create parsed_documents table")
		},
	}
}
