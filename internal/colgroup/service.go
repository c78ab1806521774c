// Package colgroup owns named column group definitions and rebuilds the
// surface's column layout from a base column list plus a set of active
// group ids. Definitions are stored per surface instance so multiple
// profiles can share them by id.
package colgroup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// Store collections used by the service.
const (
	DefinitionsCollection = "column_groups"
	OpenStateCollection   = "column_group_open_state"
)

// ErrGroupStateUnsupported is returned when a surface lacks the
// GroupStateCapable capability. Round-tripping group open state without
// the direct accessor is a configuration error, not something to infer
// from visibility side effects.
var ErrGroupStateUnsupported = errors.New("surface does not expose column group state")

// instanceDoc is the persisted shape of one instance's definitions.
type instanceDoc struct {
	Groups []core.ColumnGroupDefinition `json:"groups"`
}

// Service manages column group definitions per surface instance.
// Definitions are cached in memory and persisted to the document store.
type Service struct {
	store  core.DocumentStore
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string][]core.ColumnGroupDefinition
}

// New creates a Service. If logger is nil, a discard logger is used.
func New(store core.DocumentStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		store:  store,
		logger: logger,
		cache:  make(map[string][]core.ColumnGroupDefinition),
	}
}

// Definitions returns the instance's group definitions in registration
// order.
func (s *Service) Definitions(ctx context.Context, instanceID string) ([]core.ColumnGroupDefinition, error) {
	defs, err := s.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	out := make([]core.ColumnGroupDefinition, len(defs))
	copy(out, defs)
	return out, nil
}

// Lookup resolves a list of group ids to their definitions. Unknown ids
// are silently skipped; a profile may reference groups deleted after it
// was saved.
func (s *Service) Lookup(ctx context.Context, instanceID string, ids []string) ([]core.ColumnGroupDefinition, error) {
	defs, err := s.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]core.ColumnGroupDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	var out []core.ColumnGroupDefinition
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			s.logger.Debug("skipping unknown column group id", "instance", instanceID, "group", id)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Register adds or replaces a group definition for the instance.
func (s *Service) Register(ctx context.Context, instanceID string, def core.ColumnGroupDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("column group definition requires an id")
	}
	defs, err := s.load(ctx, instanceID)
	if err != nil {
		return err
	}

	updated := make([]core.ColumnGroupDefinition, 0, len(defs)+1)
	replaced := false
	for _, d := range defs {
		if d.ID == def.ID {
			updated = append(updated, def)
			replaced = true
			continue
		}
		updated = append(updated, d)
	}
	if !replaced {
		updated = append(updated, def)
	}
	return s.persist(ctx, instanceID, updated)
}

// DeleteDefinition removes a group definition. Deletion is allowed even
// while profiles still reference the id; the layout builder skips
// dangling references.
func (s *Service) DeleteDefinition(ctx context.Context, instanceID, groupID string) error {
	defs, err := s.load(ctx, instanceID)
	if err != nil {
		return err
	}
	updated := make([]core.ColumnGroupDefinition, 0, len(defs))
	for _, d := range defs {
		if d.ID != groupID {
			updated = append(updated, d)
		}
	}
	if len(updated) == len(defs) {
		return nil
	}
	return s.persist(ctx, instanceID, updated)
}

// load returns the cached definitions for an instance, reading them from
// the store on first access.
func (s *Service) load(ctx context.Context, instanceID string) ([]core.ColumnGroupDefinition, error) {
	s.mu.RLock()
	defs, ok := s.cache[instanceID]
	s.mu.RUnlock()
	if ok {
		return defs, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if defs, ok := s.cache[instanceID]; ok {
		return defs, nil
	}

	doc, err := s.store.Get(ctx, DefinitionsCollection, instanceID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.cache[instanceID] = nil
			return nil, nil
		}
		return nil, fmt.Errorf("load column groups for %s: %w", instanceID, err)
	}

	var body instanceDoc
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return nil, fmt.Errorf("decode column groups for %s: %w", instanceID, err)
	}
	s.cache[instanceID] = body.Groups
	return body.Groups, nil
}

// persist writes the instance's definitions and refreshes the cache.
// Callers must not hold s.mu; it is acquired after the store round-trip.
func (s *Service) persist(ctx context.Context, instanceID string, defs []core.ColumnGroupDefinition) error {
	body, err := json.Marshal(instanceDoc{Groups: defs})
	if err != nil {
		return fmt.Errorf("encode column groups for %s: %w", instanceID, err)
	}
	doc := &core.Document{
		ID:         instanceID,
		Collection: DefinitionsCollection,
		Body:       body,
	}

	_, err = s.store.Get(ctx, DefinitionsCollection, instanceID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		err = s.store.Save(ctx, doc)
	case err == nil:
		err = s.store.Update(ctx, doc)
	}
	if err != nil {
		return fmt.Errorf("persist column groups for %s: %w", instanceID, err)
	}

	s.mu.Lock()
	s.cache[instanceID] = defs
	s.mu.Unlock()
	return nil
}

// Invalidate drops the cached definitions for an instance.
func (s *Service) Invalidate(instanceID string) {
	s.mu.Lock()
	delete(s.cache, instanceID)
	s.mu.Unlock()
}
