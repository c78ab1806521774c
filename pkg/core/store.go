package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by document reads when no document exists for
// the given collection and id.
var ErrNotFound = errors.New("document not found")

// Document is an opaque versioned record in the configuration store.
// The store never interprets Body.
type Document struct {
	ID         string
	Collection string
	Body       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Deleted    bool
}

// DocumentQuery narrows a document listing.
type DocumentQuery struct {
	Collection     string
	IDs            []string
	IncludeDeleted bool
}

// DocumentStore is the engine's contract with the external configuration
// store: CRUD plus query over opaque documents keyed by id. Delete is a
// soft delete; deleted documents remain queryable with IncludeDeleted.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q DocumentQuery) ([]Document, error)
}

// QueryableStore is an optional escape hatch exposing the underlying
// database handle, for diagnostics and tests.
type QueryableStore interface {
	DB() *sql.DB
}
