package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// PostgresStore implements core.DocumentStore using PostgreSQL via the
// pgx stdlib driver.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgreSQL store instance. If logger is
// nil, a discard logger is used.
func NewPostgresStore(logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PostgresStore{logger: logger}
}

// Open establishes a connection using a pgx DSN.
func (s *PostgresStore) Open(ctx context.Context, dsn string) error {
	s.logger.Debug("connecting to postgres document store")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Get retrieves a document by collection and id.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*core.Document, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	doc := &core.Document{Collection: collection, ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT body, created_at, updated_at, deleted FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&doc.Body, &doc.CreatedAt, &doc.UpdatedAt, &doc.Deleted)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// Save creates a new document.
func (s *PostgresStore) Save(ctx context.Context, doc *core.Document) error {
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
		`INSERT INTO documents (collection, id, body, created_at, updated_at, deleted) VALUES ($1, $2, $3, $4, $5, false)`,
		doc.Collection, doc.ID, string(doc.Body), createdAt, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save document %s/%s: %w", doc.Collection, doc.ID, err)
	}
	return nil
}

// Update replaces an existing document's body and revives soft-deleted
// records.
func (s *PostgresStore) Update(ctx context.Context, doc *core.Document) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET body = $1, updated_at = $2, deleted = false WHERE collection = $3 AND id = $4`,
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

// Delete soft-deletes a document.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET deleted = true, updated_at = $1 WHERE collection = $2 AND id = $3`,
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
func (s *PostgresStore) Query(ctx context.Context, q core.DocumentQuery) ([]core.Document, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	query := `SELECT id, body, created_at, updated_at, deleted FROM documents WHERE collection = $1`
	if !q.IncludeDeleted {
		query += ` AND deleted = false`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, q.Collection)
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
		if err := rows.Scan(&doc.ID, &doc.Body, &doc.CreatedAt, &doc.UpdatedAt, &doc.Deleted); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
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
