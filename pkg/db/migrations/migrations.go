// Package migrations holds the parse cache schema, versioned YYYYMMDDHHmmss.
package migrations

import (
	"github.com/jingkaihe/skillrouter/pkg/db"
)

// All returns every cache migration. New migrations are appended here.
func All() []db.Migration {
	return []db.Migration{
		Migration20261001090000CreateParsedDocuments(),
		Migration20261001090001AddContentHashIndex(),
	}
}
