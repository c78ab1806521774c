package colgroup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// openStateDoc is the persisted open/closed state for one instance.
type openStateDoc struct {
	Open map[string]bool `json:"open"`
}

// LoadAndApplyGroupOpenState restores the instance's persisted group
// open/closed state onto the surface for the given active groups. Groups
// with no persisted entry fall back to their definition's OpenByDefault.
//
// Open state is tracked separately from which groups are active: a group
// can be active but collapsed. Surfaces without the direct accessor get
// ErrGroupStateUnsupported; see InferGroupOpenState for the opt-in
// read-only heuristic.
func (s *Service) LoadAndApplyGroupOpenState(ctx context.Context, instanceID string, surface core.Surface, activeIDs []string) error {
	gs, ok := surface.(core.GroupStateCapable)
	if !ok {
		return fmt.Errorf("instance %s: %w", instanceID, ErrGroupStateUnsupported)
	}

	persisted, err := s.loadOpenState(ctx, instanceID)
	if err != nil {
		return err
	}
	defs, err := s.Lookup(ctx, instanceID, activeIDs)
	if err != nil {
		return err
	}

	states := make([]core.GroupOpenState, 0, len(defs))
	for _, def := range defs {
		open := def.OpenByDefault
		if v, ok := persisted[def.ID]; ok {
			open = v
		}
		states = append(states, core.GroupOpenState{GroupID: def.ID, Open: open})
	}
	if len(states) == 0 {
		return nil
	}
	return gs.SetColumnGroupState(states)
}

// SaveGroupOpenState captures the surface's current group open state and
// persists it for the instance.
func (s *Service) SaveGroupOpenState(ctx context.Context, instanceID string, surface core.Surface) error {
	gs, ok := surface.(core.GroupStateCapable)
	if !ok {
		return fmt.Errorf("instance %s: %w", instanceID, ErrGroupStateUnsupported)
	}

	persisted, err := s.loadOpenState(ctx, instanceID)
	if err != nil {
		return err
	}
	if persisted == nil {
		persisted = make(map[string]bool)
	}
	for _, st := range gs.ColumnGroupState() {
		persisted[st.GroupID] = st.Open
	}

	body, err := json.Marshal(openStateDoc{Open: persisted})
	if err != nil {
		return fmt.Errorf("encode group open state for %s: %w", instanceID, err)
	}
	doc := &core.Document{ID: instanceID, Collection: OpenStateCollection, Body: body}

	_, err = s.store.Get(ctx, OpenStateCollection, instanceID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return s.store.Save(ctx, doc)
	case err != nil:
		return fmt.Errorf("persist group open state for %s: %w", instanceID, err)
	}
	return s.store.Update(ctx, doc)
}

func (s *Service) loadOpenState(ctx context.Context, instanceID string) (map[string]bool, error) {
	doc, err := s.store.Get(ctx, OpenStateCollection, instanceID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load group open state for %s: %w", instanceID, err)
	}
	var body openStateDoc
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return nil, fmt.Errorf("decode group open state for %s: %w", instanceID, err)
	}
	return body.Open, nil
}

// InferGroupOpenState derives open/closed state from which rule-bearing
// children are currently hidden. It exists for surfaces that cannot
// report group state directly and is read-only: a group with a visible
// onlyWhenOpen child is considered open, one with a visible
// onlyWhenClosed child closed, anything else falls back to
// OpenByDefault.
func InferGroupOpenState(surface core.Surface, defs []core.ColumnGroupDefinition) []core.GroupOpenState {
	hidden := make(map[string]bool)
	for _, cs := range surface.ColumnState() {
		hidden[cs.ColID] = cs.Hidden
	}

	states := make([]core.GroupOpenState, 0, len(defs))
	for _, def := range defs {
		open := def.OpenByDefault
		for _, child := range def.Children {
			isHidden, known := hidden[child.ColumnID]
			if !known {
				continue
			}
			if child.Show == core.ShowOnlyWhenOpen && !isHidden {
				open = true
				break
			}
			if child.Show == core.ShowOnlyWhenClosed && !isHidden {
				open = false
				break
			}
		}
		states = append(states, core.GroupOpenState{GroupID: def.ID, Open: open})
	}
	return states
}
