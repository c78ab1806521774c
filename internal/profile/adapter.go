// Package profile maps named, versioned surface configurations to the
// external configuration store. The adapter is the sole writer of
// persisted profiles; the grid state extractor/applier never touches
// storage directly.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// Collection is the document collection holding profiles.
const Collection = "profiles"

// Adapter persists profiles through a core.DocumentStore.
//
// Failure policy: reads degrade gracefully — Get returns nil and Query
// returns an empty list on transport failure, with a logged warning.
// Writes propagate the error to the caller for user-visible reporting; a
// silently-failed save is a worse outcome than a silently-empty read.
type Adapter struct {
	store  core.DocumentStore
	logger *slog.Logger
	now    func() time.Time
}

// NewAdapter creates an Adapter. If logger is nil, a discard logger is
// used.
func NewAdapter(store core.DocumentStore, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{store: store, logger: logger, now: time.Now}
}

// Save persists the profile and returns its id. When a record with the
// same id already exists the save resolves to an update in place;
// otherwise it creates. Callers need not know in advance whether the
// profile exists.
func (a *Adapter) Save(ctx context.Context, p *core.Profile) (string, error) {
	if p == nil {
		return "", fmt.Errorf("nil profile")
	}
	if p.Name == "" {
		return "", fmt.Errorf("profile requires a name")
	}
	if p.GridState != nil {
		if err := p.GridState.Validate(); err != nil {
			return "", fmt.Errorf("invalid grid state for profile %q: %w", p.Name, err)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	now := a.now().UTC()
	existing, err := a.store.Get(ctx, Collection, p.ID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		existing = nil
	case err != nil:
		return "", fmt.Errorf("resolve profile %s: %w", p.ID, err)
	}

	if existing == nil {
		p.CreatedAt = now
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = existing.CreatedAt
	}
	p.UpdatedAt = now

	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode profile %s: %w", p.ID, err)
	}
	doc := &core.Document{
		ID:         p.ID,
		Collection: Collection,
		Body:       body,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}

	if existing == nil {
		if err := a.store.Save(ctx, doc); err != nil {
			return "", fmt.Errorf("create profile %s: %w", p.ID, err)
		}
		a.logger.Info("created profile", "id", p.ID, "name", p.Name)
		return p.ID, nil
	}
	if err := a.store.Update(ctx, doc); err != nil {
		return "", fmt.Errorf("update profile %s: %w", p.ID, err)
	}
	a.logger.Info("updated profile", "id", p.ID, "name", p.Name)
	return p.ID, nil
}

// Get returns the profile, or nil when it does not exist or the store is
// unreachable.
func (a *Adapter) Get(ctx context.Context, id string) *core.Profile {
	doc, err := a.store.Get(ctx, Collection, id)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			a.logger.Warn("profile read failed", "id", id, "error", err)
		}
		return nil
	}
	p, err := decode(doc)
	if err != nil {
		a.logger.Warn("profile decode failed", "id", id, "error", err)
		return nil
	}
	return p
}

// Update applies a mutation to the stored profile and writes it back.
func (a *Adapter) Update(ctx context.Context, id string, mutate func(*core.Profile)) error {
	doc, err := a.store.Get(ctx, Collection, id)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", id, err)
	}
	p, err := decode(doc)
	if err != nil {
		return fmt.Errorf("decode profile %s: %w", id, err)
	}

	mutate(p)
	p.ID = id
	p.UpdatedAt = a.now().UTC()

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", id, err)
	}
	doc.Body = body
	doc.UpdatedAt = p.UpdatedAt
	if err := a.store.Update(ctx, doc); err != nil {
		return fmt.Errorf("update profile %s: %w", id, err)
	}
	return nil
}

// Delete soft-deletes the profile. The record remains queryable with
// IncludeDeleted.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	if err := a.store.Delete(ctx, Collection, id); err != nil {
		return fmt.Errorf("delete profile %s: %w", id, err)
	}
	a.logger.Info("deleted profile", "id", id)
	return nil
}

// Query lists profiles matching the filter. Returns an empty list on
// transport failure.
func (a *Adapter) Query(ctx context.Context, filter core.ProfileFilter) []core.Profile {
	docs, err := a.store.Query(ctx, core.DocumentQuery{
		Collection:     Collection,
		IncludeDeleted: filter.IncludeDeleted,
	})
	if err != nil {
		a.logger.Warn("profile query failed", "error", err)
		return []core.Profile{}
	}

	out := make([]core.Profile, 0, len(docs))
	for _, doc := range docs {
		p, err := decode(&doc)
		if err != nil {
			a.logger.Warn("skipping undecodable profile", "id", doc.ID, "error", err)
			continue
		}
		if doc.Deleted && p.DeletedAt == nil {
			t := doc.UpdatedAt
			p.DeletedAt = &t
		}
		if !match(p, filter) {
			continue
		}
		out = append(out, *p)
	}
	return out
}

func decode(doc *core.Document) (*core.Profile, error) {
	var p core.Profile
	if err := json.Unmarshal(doc.Body, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = doc.ID
	}
	return &p, nil
}

func match(p *core.Profile, f core.ProfileFilter) bool {
	if f.NameContains != "" &&
		!strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if f.DataSourceID != "" && p.DataSourceID != f.DataSourceID {
		return false
	}
	if f.OnlyDefault && !p.IsDefault {
		return false
	}
	return true
}
