package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrouter/pkg/db"
	"github.com/jingkaihe/skillrouter/pkg/db/migrations"
	"github.com/jingkaihe/skillrouter/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrouter/pkg/types/skills"
)

type documentRecord struct {
	Path        string    `db:"path"`
	ContentHash string    `db:"content_hash"`
	Document    string    `db:"document"`
	ParsedAt    time.Time `db:"parsed_at"`
}

// SQLite persists parsed documents across process restarts.
type SQLite struct {
	db *sqlx.DB
}

// OpenSQLite opens the cache database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	conn, err := db.OpenMigrated(ctx, path, migrations.All())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open parse cache")
	}
	return &SQLite{db: conn}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get decodes the stored document when its hash matches. Read and decode
// failures are logged and reported as misses so the caller reparses.
func (s *SQLite) Get(ctx context.Context, path, hash string) (*skilltypes.SkillDocument, bool) {
	var rec documentRecord
	err := s.db.GetContext(ctx, &rec,
		"SELECT path, content_hash, document, parsed_at FROM parsed_documents WHERE path = ?", path)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logger.G(ctx).WithError(err).WithField("path", path).Warn("parse cache read failed")
		}
		return nil, false
	}
	if rec.ContentHash != hash {
		return nil, false
	}

	var doc skilltypes.SkillDocument
	if err := json.Unmarshal([]byte(rec.Document), &doc); err != nil {
		logger.G(ctx).WithError(err).WithField("path", path).Warn("discarding undecodable cache entry")
		return nil, false
	}
	return &doc, true
}

func (s *SQLite) Put(ctx context.Context, path string, doc *skilltypes.SkillDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to encode document")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parsed_documents (path, content_hash, document, parsed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash = excluded.content_hash,
			document = excluded.document,
			parsed_at = excluded.parsed_at
	`, path, doc.ContentHash, string(data), time.Now().UTC())
	return errors.Wrapf(err, "failed to store parsed document %s", path)
}

func (s *SQLite) Invalidate(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM parsed_documents WHERE path = ?", path)
	return errors.Wrapf(err, "failed to invalidate %s", path)
}

// Prune removes entries for paths not in keep and returns how many were
// deleted.
func (s *SQLite) Prune(ctx context.Context, keep []string) (int, error) {
	var paths []string
	if err := s.db.SelectContext(ctx, &paths, "SELECT path FROM parsed_documents"); err != nil {
		return 0, errors.Wrap(err, "failed to list cached paths")
	}
	live := make(map[string]bool, len(keep))
	for _, p := range keep {
		live[p] = true
	}

	removed := 0
	for _, p := range paths {
		if live[p] {
			continue
		}
		if err := s.Invalidate(ctx, p); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Len returns the number of stored entries.
func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM parsed_documents")
	return n, errors.Wrap(err, "failed to count cached documents")
}
