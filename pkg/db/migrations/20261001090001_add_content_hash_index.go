package migrations

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrouter/pkg/db"
)

// Migration20261001090001AddContentHashIndex indexes content hashes for the
// prune query.
func Migration20261001090001AddContentHashIndex() db.Migration {
	return db.Migration{
		Version:     20261001090001,
		Description: "Add content hash and parsed_at indexes",
		Up: func(tx *sql.Tx) error {
			indexes := []string{
				"CREATE INDEX IF NOT EXISTS idx_parsed_documents_content_hash ON parsed_documents(content_hash)",
				"CREATE INDEX IF NOT EXISTS idx_parsed_documents_parsed_at ON parsed_documents(parsed_at DESC)",
			}
			for _, idx := range indexes {
				if _, err := tx.Exec(idx); err != nil {
					return errors.Wrap(err, "failed to create index")
				}
			}
			return nil
		},
	}
}
