// Package state provides document store backends for the configuration
// store contract: SQLite for local use and PostgreSQL for shared
// deployments. Documents are opaque JSON bodies keyed by (collection,
// id) with soft deletion.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// SQLiteStore implements core.DocumentStore using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path)
	} else {
		dsn = ":memory:?_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Get retrieves a document by collection and id.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*core.Document, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	doc := &core.Document{Collection: collection, ID: id}
	var deleted int
	err := s.db.QueryRowContext(ctx,
		`SELECT body, created_at, updated_at, deleted FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&doc.Body, &doc.CreatedAt, &doc.UpdatedAt, &deleted)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}
	doc.Deleted = deleted != 0
	return doc, nil
}

// Save creates a new document. Fails if the (collection, id) pair
// already exists; callers resolving create-vs-update check with Get
// first.
func (s *SQLiteStore) Save(ctx context.Context, doc *core.Document) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at, deleted) VALUES (?, ?, ?, ?, ?, 0)`,
		doc.Collection, doc.ID, string(doc.Body), createdAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save document %s/%s: %w", doc.Collection, doc.ID, err)
	}
	return nil
}

// Update replaces an existing document's body. Updating also clears the
// deleted flag; rewriting a soft-deleted document revives it.
func (s *SQLiteStore) Update(ctx context.Context, doc *core.Document) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET body = ?, updated_at = ?, deleted = 0 WHERE collection = ? AND id = ?`,
		string(doc.Body), updatedAt, doc.Collection, doc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update document %s/%s: %w", doc.Collection, doc.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of %s/%s: %w", doc.Collection, doc.ID, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Delete soft-deletes a document. The record stays queryable with
// IncludeDeleted.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET deleted = 1, updated_at = ? WHERE collection = ? AND id = ?`,
		time.Now().UTC(), collection, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete of %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Query lists documents in a collection, newest first.
func (s *SQLiteStore) Query(ctx context.Context, q core.DocumentQuery) ([]core.Document, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	query := `SELECT id, body, created_at, updated_at, deleted FROM documents WHERE collection = ?`
	args := []any{q.Collection}
	if !q.IncludeDeleted {
		query += ` AND deleted = 0`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents in %s: %w", q.Collection, err)
	}
	defer func() { _ = rows.Close() }()

	wanted := make(map[string]bool, len(q.IDs))
	for _, id := range q.IDs {
		wanted[id] = true
	}

	var docs []core.Document
	for rows.Next() {
		doc := core.Document{Collection: q.Collection}
		var deleted int
		if err := rows.Scan(&doc.ID, &doc.Body, &doc.CreatedAt, &doc.UpdatedAt, &deleted); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Deleted = deleted != 0
		if len(wanted) > 0 && !wanted[doc.ID] {
			continue
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return docs, nil
}
