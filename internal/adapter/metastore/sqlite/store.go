// Package sqlite stores document metadata in a SQLite file using the pure-Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id      TEXT PRIMARY KEY,
	title   TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	url     TEXT NOT NULL DEFAULT '',
	seq     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_seq ON documents(seq);
`

// Store is a MetadataStore backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ port.MetadataStore = (*Store)(nil)

// New opens (creating if needed) the database at path.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Document, error) {
	doc := domain.Document{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT title, content, url FROM documents WHERE id = ?`, id,
	).Scan(&doc.Title, &doc.Content, &doc.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Document{}, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

// PutMany writes the batch in one transaction. Existing ids keep their
// original position.
func (s *Store) PutMany(ctx context.Context, docs []domain.Document) error {
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("%w: document id is required", domain.ErrValidation)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM documents`).Scan(&seq); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents(id, title, content, url, seq) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content, url = excluded.url`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, doc := range docs {
		seq++
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.Title, doc.Content, doc.URL, seq); err != nil {
			return fmt.Errorf("failed to store document %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	return err
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	return n, err
}

// ListIDs returns ids in the order they were first stored.
func (s *Store) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
