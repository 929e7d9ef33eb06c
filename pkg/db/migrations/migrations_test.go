package migrations

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillrouter/pkg/db"
)

func TestAll_VersionsAscendAndAreUnique(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Version, all[i-1].Version)
	}
}

func TestAll_CreatesParsedDocumentsSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	conn, err := db.OpenMigrated(ctx, path, All())
	require.NoError(t, err)

	var columns []string
	require.NoError(t, conn.Select(&columns, "SELECT name FROM pragma_table_info('parsed_documents') ORDER BY cid"))
	assert.Equal(t, []string{"path", "content_hash", "document", "parsed_at"}, columns)

	var indexes []string
	require.NoError(t, conn.Select(&indexes,
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'parsed_documents' AND name LIKE 'idx_%' ORDER BY name"))
	assert.Equal(t, []string{"idx_parsed_documents_content_hash", "idx_parsed_documents_parsed_at"}, indexes)

	_, err = conn.Exec("INSERT INTO parsed_documents (path, content_hash, document, parsed_at) VALUES (?, ?, ?, ?)",
		"skills/api/SKILL.md", "abc123", `{"id":"api"}`, time.Now())
	require.NoError(t, err)
	_, err = conn.Exec("INSERT INTO parsed_documents (path, content_hash, document, parsed_at) VALUES (?, ?, ?, ?)",
		"skills/api/SKILL.md", "def456", `{"id":"api"}`, time.Now())
	assert.Error(t, err, "path is the primary key")
	require.NoError(t, conn.Close())

	// Reopening an up-to-date cache applies nothing and keeps the rows.
	conn, err = db.OpenMigrated(ctx, path, All())
	require.NoError(t, err)
	defer conn.Close()

	var hash string
	require.NoError(t, conn.Get(&hash, "SELECT content_hash FROM parsed_documents WHERE path = ?", "skills/api/SKILL.md"))
	assert.Equal(t, "abc123", hash)

	var applied int
	require.NoError(t, conn.Get(&applied, "SELECT COUNT(*) FROM schema_migrations"))
	assert.Equal(t, len(All()), applied)
}
