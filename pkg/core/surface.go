package core

import "errors"

// ErrSurfaceDetached is returned by surface-bound operations when no live
// surface is attached, or the surface went away mid-operation. Callers
// treat it as a transient condition, not a failure.
var ErrSurfaceDetached = errors.New("rendering surface detached")

// Transaction is an incremental mutation of the live row set: upserts
// (insert if key absent, else replace) and removals by key. Applying a
// transaction must never trigger a full reload on the surface.
type Transaction struct {
	Upserts    []RowRecord
	RemoveKeys []string
}

// Surface is the minimum contract the engine requires from a live
// rendering surface. Optional behavior is negotiated through the
// *Capable interfaces below, checked by type assertion; a surface that
// does not implement a capability has that facet skipped during apply.
type Surface interface {
	// Ready reports whether the surface can accept state and rows.
	Ready() bool

	// Columns returns the current leaf columns in display order.
	Columns() []Column
	// SetColumns replaces the structural column layout, including group
	// nodes.
	SetColumns(layout []ColumnNode) error

	// ColumnState reads the per-column state for all leaf columns.
	ColumnState() []ColumnState
	// ApplyColumnState merges states into matching columns. Entries whose
	// column id is unknown to the current layout are silent no-ops.
	ApplyColumnState(states []ColumnState) error
	// ResetColumnState restores the surface's built-in column defaults.
	ResetColumnState()

	// FilterModel reads the active filter model.
	FilterModel() map[string]FilterSpec
	// SetFilterModel replaces the active filter model.
	SetFilterModel(model map[string]FilterSpec) error

	// SetRows replaces the full row set. Used exactly once per stream
	// session, at snapshot completion.
	SetRows(rows []RowRecord) error
	// ApplyTransaction applies an incremental row mutation.
	ApplyTransaction(tx Transaction) error
	// RowCount returns the current size of the live row set.
	RowCount() int
}

// GroupStateCapable exposes column-group open/closed state directly.
// Surfaces lacking this capability cannot round-trip group state; the
// column group service treats its absence as a configuration error.
type GroupStateCapable interface {
	ColumnGroupState() []GroupOpenState
	SetColumnGroupState(states []GroupOpenState) error
}

// PivotCapable exposes row-grouping and pivot configuration.
type PivotCapable interface {
	RowGrouping() RowGroupingState
	SetRowGrouping(state RowGroupingState) error
}

// PaginationCapable exposes pagination configuration.
type PaginationCapable interface {
	Pagination() PaginationState
	SetPagination(state PaginationState) error
}

// SelectionCapable exposes row selection by key.
type SelectionCapable interface {
	SelectedRows() []string
	SelectRows(keys []string) error
}

// ExpansionCapable exposes expanded group-node keys.
type ExpansionCapable interface {
	ExpandedGroups() []string
	SetExpandedGroups(keys []string) error
}

// PinnedRowCapable exposes pinned top/bottom row snapshots.
type PinnedRowCapable interface {
	PinnedRows() (top, bottom []RowRecord)
	SetPinnedRows(top, bottom []RowRecord) error
}

// DisplayOptionCapable exposes the bag of numeric/boolean display options.
type DisplayOptionCapable interface {
	DisplayOptions() map[string]any
	SetDisplayOptions(opts map[string]any) error
}

// FocusCapable exposes the focused cell.
type FocusCapable interface {
	FocusedCell() *CellRef
	SetFocusedCell(cell *CellRef) error
}

// ScrollCapable exposes the scroll offset.
type ScrollCapable interface {
	ScrollPosition() ScrollPosition
	SetScrollPosition(pos ScrollPosition) error
}

// SidePanelCapable exposes side-panel visibility.
type SidePanelCapable interface {
	SidePanel() SidePanelState
	SetSidePanel(state SidePanelState) error
}
