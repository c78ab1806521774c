// Package surface provides rendering surface implementations. Memory is
// the full-capability in-memory surface used by the engine's headless
// mode and the test suite; package term holds the terminal surface.
package surface

import (
	"fmt"
	"sync"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// Memory is an in-memory Surface implementing every optional capability.
type Memory struct {
	mu sync.Mutex

	ready     bool
	keyColumn string

	layout   []core.ColumnNode
	order    []string
	states   map[string]core.ColumnState
	defaults map[string]core.ColumnState

	filter    map[string]core.FilterSpec
	groupOpen map[string]bool
	groupIDs  []string

	rows     map[string]core.RowRecord
	rowOrder []string

	rowGrouping  core.RowGroupingState
	pagination   core.PaginationState
	selection    []string
	expansion    []string
	pinnedTop    []core.RowRecord
	pinnedBottom []core.RowRecord
	displayOpts  map[string]any
	focused      *core.CellRef
	scroll       core.ScrollPosition
	sidePanel    core.SidePanelState
}

// NewMemory creates a surface with the given base columns, not yet
// ready.
func NewMemory(keyColumn string, base []core.Column) *Memory {
	if keyColumn == "" {
		keyColumn = core.DefaultKeyColumn
	}
	m := &Memory{
		keyColumn: keyColumn,
		rows:      make(map[string]core.RowRecord),
	}
	layout := make([]core.ColumnNode, 0, len(base))
	for _, c := range base {
		col := c
		layout = append(layout, core.ColumnNode{Column: &col})
	}
	m.setColumnsLocked(layout)
	return m
}

// KeyColumn returns the row identity field the surface was built with.
func (m *Memory) KeyColumn() string {
	return m.keyColumn
}

// SetReady toggles the ready state. The host signals readiness to the
// engine separately; this only flips what Ready reports.
func (m *Memory) SetReady(ready bool) {
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()
}

// Ready reports whether the surface accepts state and rows.
func (m *Memory) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Columns returns the current leaf columns in display order.
func (m *Memory) Columns() []core.Column {
	m.mu.Lock()
	defer m.mu.Unlock()
	return core.LeafColumns(m.layout)
}

// Layout returns the structural column layout tree.
func (m *Memory) Layout() []core.ColumnNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.ColumnNode, len(m.layout))
	copy(out, m.layout)
	return out
}

// SetColumns replaces the structural column layout. Column state for
// leaf ids surviving the change is preserved; new ids start from
// built-in defaults.
func (m *Memory) SetColumns(layout []core.ColumnNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setColumnsLocked(layout)
	return nil
}

func (m *Memory) setColumnsLocked(layout []core.ColumnNode) {
	prev := m.states
	m.layout = layout
	m.order = nil
	m.states = make(map[string]core.ColumnState)
	if m.defaults == nil {
		m.defaults = make(map[string]core.ColumnState)
	}
	m.groupIDs = nil
	groupOpen := make(map[string]bool)

	record := func(col core.Column) {
		m.order = append(m.order, col.ID)
		if st, ok := prev[col.ID]; ok {
			m.states[col.ID] = st
			return
		}
		def := core.ColumnState{ColID: col.ID, Width: 100}
		m.states[col.ID] = def
		if _, ok := m.defaults[col.ID]; !ok {
			m.defaults[col.ID] = def
		}
	}

	for _, n := range layout {
		switch {
		case n.Column != nil:
			record(*n.Column)
		case n.Group != nil:
			m.groupIDs = append(m.groupIDs, n.Group.ID)
			open, known := m.groupOpen[n.Group.ID]
			if !known {
				open = n.Group.Open
			}
			groupOpen[n.Group.ID] = open
			for _, c := range n.Group.Children {
				record(c.Column)
			}
		}
	}
	m.groupOpen = groupOpen
}

// ColumnState reads per-column state for all leaf columns in order.
func (m *Memory) ColumnState() []core.ColumnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.ColumnState, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.states[id])
	}
	return out
}

// ApplyColumnState merges states into matching columns. Ids unknown to
// the current layout are silent no-ops.
func (m *Memory) ApplyColumnState(states []core.ColumnState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range states {
		if _, ok := m.states[st.ColID]; !ok {
			continue
		}
		m.states[st.ColID] = st
	}
	return nil
}

// ResetColumnState restores built-in column defaults.
func (m *Memory) ResetColumnState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if def, ok := m.defaults[id]; ok {
			m.states[id] = def
		} else {
			m.states[id] = core.ColumnState{ColID: id, Width: 100}
		}
	}
}

// VisibleColumns returns leaf column ids that are effectively visible:
// not explicitly hidden, and whose show rule matches the owning group's
// open state.
func (m *Memory) VisibleColumns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	appendVisible := func(id string, show core.ShowRule, open bool) {
		if m.states[id].Hidden {
			return
		}
		switch show {
		case core.ShowOnlyWhenOpen:
			if !open {
				return
			}
		case core.ShowOnlyWhenClosed:
			if open {
				return
			}
		}
		out = append(out, id)
	}

	for _, n := range m.layout {
		switch {
		case n.Column != nil:
			appendVisible(n.Column.ID, core.ShowAlways, false)
		case n.Group != nil:
			open := m.groupOpen[n.Group.ID]
			for _, c := range n.Group.Children {
				appendVisible(c.Column.ID, c.Show, open)
			}
		}
	}
	return out
}

// FilterModel reads the active filter model.
func (m *Memory) FilterModel() map[string]core.FilterSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]core.FilterSpec, len(m.filter))
	for k, v := range m.filter {
		out[k] = v
	}
	return out
}

// SetFilterModel replaces the active filter model.
func (m *Memory) SetFilterModel(model map[string]core.FilterSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = make(map[string]core.FilterSpec, len(model))
	for k, v := range model {
		m.filter[k] = v
	}
	return nil
}

// SetRows replaces the full row set.
func (m *Memory) SetRows(rows []core.RowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[string]core.RowRecord, len(rows))
	m.rowOrder = m.rowOrder[:0]
	for _, rec := range rows {
		key, ok := rec.Key(m.keyColumn)
		if !ok {
			return fmt.Errorf("row without %q key", m.keyColumn)
		}
		if _, exists := m.rows[key]; !exists {
			m.rowOrder = append(m.rowOrder, key)
		}
		m.rows[key] = rec
	}
	return nil
}

// ApplyTransaction applies an incremental row mutation without a full
// reload.
func (m *Memory) ApplyTransaction(tx core.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range tx.Upserts {
		key, ok := rec.Key(m.keyColumn)
		if !ok {
			return fmt.Errorf("upsert without %q key", m.keyColumn)
		}
		if _, exists := m.rows[key]; !exists {
			m.rowOrder = append(m.rowOrder, key)
		}
		m.rows[key] = rec
	}
	for _, key := range tx.RemoveKeys {
		if _, exists := m.rows[key]; !exists {
			continue
		}
		delete(m.rows, key)
		for i, k := range m.rowOrder {
			if k == key {
				m.rowOrder = append(m.rowOrder[:i], m.rowOrder[i+1:]...)
				break
			}
		}
	}
	return nil
}

// RowCount returns the current size of the live row set.
func (m *Memory) RowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Row returns the record for a key.
func (m *Memory) Row(key string) (core.RowRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[key]
	return rec, ok
}

// Rows returns all records in insertion order.
func (m *Memory) Rows() []core.RowRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.RowRecord, 0, len(m.rowOrder))
	for _, key := range m.rowOrder {
		out = append(out, m.rows[key])
	}
	return out
}

// ColumnGroupState reports group open state in layout order.
func (m *Memory) ColumnGroupState() []core.GroupOpenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.GroupOpenState, 0, len(m.groupIDs))
	for _, id := range m.groupIDs {
		out = append(out, core.GroupOpenState{GroupID: id, Open: m.groupOpen[id]})
	}
	return out
}

// SetColumnGroupState sets group open state. Unknown group ids are
// ignored.
func (m *Memory) SetColumnGroupState(states []core.GroupOpenState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range states {
		if _, known := m.groupOpen[st.GroupID]; known {
			m.groupOpen[st.GroupID] = st.Open
		}
	}
	return nil
}

// RowGrouping returns the grouping/pivot configuration.
func (m *Memory) RowGrouping() core.RowGroupingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rowGrouping
}

// SetRowGrouping sets the grouping/pivot configuration.
func (m *Memory) SetRowGrouping(state core.RowGroupingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rowGrouping = state
	return nil
}

// Pagination returns the pagination configuration.
func (m *Memory) Pagination() core.PaginationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pagination
}

// SetPagination sets the pagination configuration.
func (m *Memory) SetPagination(state core.PaginationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pagination = state
	return nil
}

// SelectedRows returns the selected row keys.
func (m *Memory) SelectedRows() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.selection...)
}

// SelectRows replaces the row selection.
func (m *Memory) SelectRows(keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selection = append([]string(nil), keys...)
	return nil
}

// ExpandedGroups returns the expanded group-node keys.
func (m *Memory) ExpandedGroups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.expansion...)
}

// SetExpandedGroups replaces the expanded group-node keys.
func (m *Memory) SetExpandedGroups(keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expansion = append([]string(nil), keys...)
	return nil
}

// PinnedRows returns the pinned top and bottom row snapshots.
func (m *Memory) PinnedRows() (top, bottom []core.RowRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.RowRecord(nil), m.pinnedTop...),
		append([]core.RowRecord(nil), m.pinnedBottom...)
}

// SetPinnedRows replaces the pinned row snapshots.
func (m *Memory) SetPinnedRows(top, bottom []core.RowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinnedTop = append([]core.RowRecord(nil), top...)
	m.pinnedBottom = append([]core.RowRecord(nil), bottom...)
	return nil
}

// DisplayOptions returns the display option bag.
func (m *Memory) DisplayOptions() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.displayOpts))
	for k, v := range m.displayOpts {
		out[k] = v
	}
	return out
}

// SetDisplayOptions replaces the display option bag.
func (m *Memory) SetDisplayOptions(opts map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.displayOpts = make(map[string]any, len(opts))
	for k, v := range opts {
		m.displayOpts[k] = v
	}
	return nil
}

// FocusedCell returns the focused cell, or nil.
func (m *Memory) FocusedCell() *core.CellRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.focused == nil {
		return nil
	}
	c := *m.focused
	return &c
}

// SetFocusedCell sets the focused cell. Nil clears focus.
func (m *Memory) SetFocusedCell(cell *core.CellRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cell == nil {
		m.focused = nil
		return nil
	}
	c := *cell
	m.focused = &c
	return nil
}

// ScrollPosition returns the scroll offset.
func (m *Memory) ScrollPosition() core.ScrollPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scroll
}

// SetScrollPosition sets the scroll offset.
func (m *Memory) SetScrollPosition(pos core.ScrollPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scroll = pos
	return nil
}

// SidePanel returns the side-panel state.
func (m *Memory) SidePanel() core.SidePanelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sidePanel
}

// SetSidePanel sets the side-panel state.
func (m *Memory) SetSidePanel(state core.SidePanelState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sidePanel = state
	return nil
}
