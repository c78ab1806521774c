// Package gridstate reads and writes the full configuration state of a
// live rendering surface, producing and consuming a serializable
// GridState. Application follows a strict order: structural column
// grouping is always constructed before per-column state is applied,
// because column ids embedded in column state are only meaningful once
// the grouped structure exists.
package gridstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/gridstream/internal/colgroup"
	"github.com/leapstack-labs/gridstream/internal/pending"
	"github.com/leapstack-labs/gridstream/pkg/core"
)

// Manager is the grid state extractor/applier for one surface instance.
type Manager struct {
	logger     *slog.Logger
	groups     *colgroup.Service
	queue      *pending.Queue
	instanceID string

	mu           sync.Mutex
	surface      core.Surface
	defaultState *core.GridState
}

// NewManager creates a Manager. If logger is nil, a discard logger is
// used.
func NewManager(instanceID string, groups *colgroup.Service, queue *pending.Queue, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		logger:     logger,
		groups:     groups,
		queue:      queue,
		instanceID: instanceID,
	}
}

// AttachSurface sets the live surface. Nil detaches.
func (m *Manager) AttachSurface(s core.Surface) {
	m.mu.Lock()
	m.surface = s
	m.mu.Unlock()
}

// Surface returns the attached surface, or nil.
func (m *Manager) Surface() core.Surface {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.surface
}

// RegisterDefaultState sets the state re-applied by ResetToDefault.
func (m *Manager) RegisterDefaultState(state *core.GridState) {
	m.mu.Lock()
	m.defaultState = state.Clone()
	m.mu.Unlock()
}

// Extract reads the selected facets into a GridState. It is a pure read:
// the surface is never mutated. Returns nil when no surface is attached;
// extraction is frequently attempted opportunistically (e.g. right
// before a save) without a precondition check by the caller.
func (m *Manager) Extract(opts Options) *core.GridState {
	surface := m.Surface()
	if surface == nil {
		m.logger.Debug("extract skipped, no surface attached")
		return nil
	}

	state := &core.GridState{}
	if opts.Columns {
		state.ColumnState = append([]core.ColumnState(nil), surface.ColumnState()...)
		if gs, ok := surface.(core.GroupStateCapable); ok {
			state.ColumnGroupState = append([]core.GroupOpenState(nil), gs.ColumnGroupState()...)
		}
	}
	if opts.Filters {
		if fm := surface.FilterModel(); len(fm) > 0 {
			state.FilterModel = make(map[string]core.FilterSpec, len(fm))
			for k, v := range fm {
				state.FilterModel[k] = v
			}
		}
	}
	if opts.RowGrouping {
		if pc, ok := surface.(core.PivotCapable); ok {
			state.RowGrouping = pc.RowGrouping()
		}
	}
	if opts.Pagination {
		if pg, ok := surface.(core.PaginationCapable); ok {
			state.Pagination = pg.Pagination()
		}
	}
	if opts.Selection {
		if sel, ok := surface.(core.SelectionCapable); ok {
			state.SelectedKeys = append([]string(nil), sel.SelectedRows()...)
		}
	}
	if opts.Expansion {
		if ex, ok := surface.(core.ExpansionCapable); ok {
			state.ExpandedGroups = append([]string(nil), ex.ExpandedGroups()...)
		}
	}
	if opts.PinnedRows {
		if pr, ok := surface.(core.PinnedRowCapable); ok {
			top, bottom := pr.PinnedRows()
			for _, rec := range top {
				state.PinnedTop = append(state.PinnedTop, rec.Clone())
			}
			for _, rec := range bottom {
				state.PinnedBottom = append(state.PinnedBottom, rec.Clone())
			}
		}
	}
	if opts.DisplayOptions {
		if do, ok := surface.(core.DisplayOptionCapable); ok {
			if bag := do.DisplayOptions(); len(bag) > 0 {
				state.DisplayOptions = make(map[string]any, len(bag))
				for k, v := range bag {
					state.DisplayOptions[k] = v
				}
			}
		}
	}
	if opts.Focus {
		if fc, ok := surface.(core.FocusCapable); ok {
			if cell := fc.FocusedCell(); cell != nil {
				c := *cell
				state.FocusedCell = &c
			}
		}
	}
	if opts.Scroll {
		if sc, ok := surface.(core.ScrollCapable); ok {
			state.ScrollOffset = sc.ScrollPosition()
		}
	}
	if opts.SidePanel {
		if sp, ok := surface.(core.SidePanelCapable); ok {
			state.SidePanel = sp.SidePanel()
		}
	}
	return state
}

// Apply writes the selected facets of state onto the surface.
//
// When activeGroupIDs is non-empty, column-state application is deferred:
// the column state is parked in the pending queue, the column group
// service rebuilds the grouped layout first, and only then is the queued
// column state applied. Applying visibility or width to ids that do not
// exist yet would be a silent no-op and desync the saved profile from
// the rendered layout.
//
// A facet that fails is logged and skipped, and the remaining facets are
// still applied; a single malformed filter clause must not abort
// pagination or selection. The trade-off sacrifices atomicity for
// availability: a failed facet is abandoned, not rolled back. Apply
// reports false when any facet failed.
func (m *Manager) Apply(ctx context.Context, state *core.GridState, activeGroupIDs []string, opts Options) bool {
	if state == nil {
		return false
	}
	surface := m.Surface()
	if surface == nil {
		m.logger.Warn("apply skipped, no surface attached")
		return false
	}

	ok := true
	facet := func(name string, enabled bool, fn func() error) {
		if !enabled {
			return
		}
		if err := fn(); err != nil {
			m.logger.Warn("failed to apply grid state facet", "facet", name, "error", err)
			ok = false
		}
	}

	if opts.Columns {
		if len(activeGroupIDs) > 0 {
			m.queue.Enqueue(pending.Entry{
				ColumnState:    append([]core.ColumnState(nil), state.ColumnState...),
				GroupOpenState: append([]core.GroupOpenState(nil), state.ColumnGroupState...),
			})
			facet("columnLayout", true, func() error {
				return m.groups.ApplyLayout(ctx, m.instanceID, surface, surface.Columns(), activeGroupIDs)
			})
			// The grouped structure now exists; release the parked state.
			m.queue.FlushOnReady(surface)
		} else {
			facet("columnState", true, func() error {
				return surface.ApplyColumnState(state.ColumnState)
			})
			if gs, capable := surface.(core.GroupStateCapable); capable && len(state.ColumnGroupState) > 0 {
				facet("columnGroupState", true, func() error {
					return gs.SetColumnGroupState(state.ColumnGroupState)
				})
			}
		}
	}

	facet("filters", opts.Filters, func() error {
		model := state.FilterModel
		if model == nil {
			model = map[string]core.FilterSpec{}
		}
		return surface.SetFilterModel(model)
	})

	if pc, capable := surface.(core.PivotCapable); capable {
		facet("rowGrouping", opts.RowGrouping, func() error {
			return pc.SetRowGrouping(state.RowGrouping)
		})
	}
	if pg, capable := surface.(core.PaginationCapable); capable {
		facet("pagination", opts.Pagination, func() error {
			return pg.SetPagination(state.Pagination)
		})
	}
	if sel, capable := surface.(core.SelectionCapable); capable {
		facet("selection", opts.Selection, func() error {
			return sel.SelectRows(state.SelectedKeys)
		})
	}
	if ex, capable := surface.(core.ExpansionCapable); capable {
		facet("expansion", opts.Expansion, func() error {
			return ex.SetExpandedGroups(state.ExpandedGroups)
		})
	}
	if pr, capable := surface.(core.PinnedRowCapable); capable {
		facet("pinnedRows", opts.PinnedRows, func() error {
			return pr.SetPinnedRows(state.PinnedTop, state.PinnedBottom)
		})
	}
	if do, capable := surface.(core.DisplayOptionCapable); capable {
		facet("displayOptions", opts.DisplayOptions, func() error {
			return do.SetDisplayOptions(state.DisplayOptions)
		})
	}
	if fc, capable := surface.(core.FocusCapable); capable {
		facet("focus", opts.Focus, func() error {
			return fc.SetFocusedCell(state.FocusedCell)
		})
	}
	if sc, capable := surface.(core.ScrollCapable); capable {
		facet("scroll", opts.Scroll, func() error {
			return sc.SetScrollPosition(state.ScrollOffset)
		})
	}
	if sp, capable := surface.(core.SidePanelCapable); capable {
		facet("sidePanel", opts.SidePanel, func() error {
			return sp.SetSidePanel(state.SidePanel)
		})
	}

	return ok
}

// ApplyDeferred applies a pending-queue entry: the column state parked
// behind a structural rebuild. Used as part of the queue's apply
// function.
func (m *Manager) ApplyDeferred(surface core.Surface, entry pending.Entry) error {
	if surface == nil || !surface.Ready() {
		return core.ErrSurfaceDetached
	}
	if err := surface.ApplyColumnState(entry.ColumnState); err != nil {
		return fmt.Errorf("apply deferred column state: %w", err)
	}
	if gs, ok := surface.(core.GroupStateCapable); ok && len(entry.GroupOpenState) > 0 {
		if err := gs.SetColumnGroupState(entry.GroupOpenState); err != nil {
			return fmt.Errorf("apply deferred group state: %w", err)
		}
	}
	return nil
}

// ResetToDefault clears column state, filters, sort, selection and
// pagination to the surface's built-in defaults, then re-applies any
// registered default state, in that order.
func (m *Manager) ResetToDefault(ctx context.Context) {
	surface := m.Surface()
	if surface == nil {
		return
	}

	surface.ResetColumnState()
	if err := surface.SetFilterModel(map[string]core.FilterSpec{}); err != nil {
		m.logger.Warn("failed to clear filters", "error", err)
	}
	if sel, ok := surface.(core.SelectionCapable); ok {
		if err := sel.SelectRows(nil); err != nil {
			m.logger.Warn("failed to clear selection", "error", err)
		}
	}
	if pg, ok := surface.(core.PaginationCapable); ok {
		if err := pg.SetPagination(core.PaginationState{}); err != nil {
			m.logger.Warn("failed to reset pagination", "error", err)
		}
	}

	m.mu.Lock()
	def := m.defaultState
	m.mu.Unlock()
	if def != nil {
		m.Apply(ctx, def, nil, AllOptions())
	}
}
