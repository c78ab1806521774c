package core

import "fmt"

// Pinned side values for ColumnState.Pinned.
const (
	PinnedLeft  = "left"
	PinnedRight = "right"
)

// Sort direction values for ColumnState.Sort.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// ColumnState captures the per-column, non-structural configuration of the
// surface: width, visibility, pinning and sorting. Structural layout
// (grouping) is carried separately via ColumnNode trees.
type ColumnState struct {
	ColID     string `json:"colId"`
	Width     int    `json:"width,omitempty"`
	Hidden    bool   `json:"hide,omitempty"`
	Pinned    string `json:"pinned,omitempty"`
	Sort      string `json:"sort,omitempty"`
	SortIndex *int   `json:"sortIndex,omitempty"`
}

// GroupOpenState records whether a named column group is expanded.
type GroupOpenState struct {
	GroupID string `json:"groupId"`
	Open    bool   `json:"open"`
}

// FilterSpec is a single column's filter clause. The engine treats the
// spec as opaque beyond its shape; the surface interprets it.
type FilterSpec struct {
	Type   string `json:"filterType,omitempty"`
	Op     string `json:"type,omitempty"`
	Value  any    `json:"filter,omitempty"`
	Values []any  `json:"values,omitempty"`
}

// ValueAggregation pairs a value column with its aggregation function for
// pivot/grouped views.
type ValueAggregation struct {
	ColID string `json:"colId"`
	Func  string `json:"aggFunc"`
}

// RowGroupingState is the row-grouping and pivot configuration.
type RowGroupingState struct {
	GroupColumns []string           `json:"rowGroupCols,omitempty"`
	PivotMode    bool               `json:"pivotMode,omitempty"`
	PivotColumns []string           `json:"pivotCols,omitempty"`
	ValueColumns []ValueAggregation `json:"valueCols,omitempty"`
}

// PaginationState is the pagination configuration of the surface.
type PaginationState struct {
	Enabled     bool `json:"enabled"`
	PageSize    int  `json:"pageSize,omitempty"`
	CurrentPage int  `json:"currentPage,omitempty"`
}

// CellRef identifies a single cell by row key and column id.
type CellRef struct {
	RowKey string `json:"rowKey"`
	ColID  string `json:"colId"`
}

// ScrollPosition is the surface's scroll offset.
type ScrollPosition struct {
	Top  int `json:"top"`
	Left int `json:"left"`
}

// SidePanelState is the visibility of the surface's side panel.
type SidePanelState struct {
	Visible     bool   `json:"visible"`
	ActivePanel string `json:"activePanel,omitempty"`
}

// GridState is the full serializable configuration of a rendering surface.
// It round-trips through JSON unchanged and is embedded in profiles.
type GridState struct {
	ColumnState      []ColumnState         `json:"columnState,omitempty"`
	ColumnGroupState []GroupOpenState      `json:"columnGroupState,omitempty"`
	FilterModel      map[string]FilterSpec `json:"filterModel,omitempty"`
	RowGrouping      RowGroupingState      `json:"rowGrouping,omitempty"`
	Pagination       PaginationState       `json:"pagination,omitempty"`
	SelectedKeys     []string              `json:"selectedKeys,omitempty"`
	ExpandedGroups   []string              `json:"expandedGroups,omitempty"`
	PinnedTop        []RowRecord           `json:"pinnedTop,omitempty"`
	PinnedBottom     []RowRecord           `json:"pinnedBottom,omitempty"`
	DisplayOptions   map[string]any        `json:"displayOptions,omitempty"`
	FocusedCell      *CellRef              `json:"focusedCell,omitempty"`
	ScrollOffset     ScrollPosition        `json:"scrollOffset,omitempty"`
	SidePanel        SidePanelState        `json:"sidePanel,omitempty"`
}

// Validate checks structural invariants of the state. Column state entries
// must be unique per column id.
func (g *GridState) Validate() error {
	seen := make(map[string]struct{}, len(g.ColumnState))
	for _, cs := range g.ColumnState {
		if cs.ColID == "" {
			return fmt.Errorf("column state entry with empty colId")
		}
		if _, dup := seen[cs.ColID]; dup {
			return fmt.Errorf("duplicate column state entry for %q", cs.ColID)
		}
		seen[cs.ColID] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy of the state. Pending application and
// round-trip extraction both rely on the copy being independent of the
// live surface.
func (g *GridState) Clone() *GridState {
	if g == nil {
		return nil
	}
	out := &GridState{
		RowGrouping: RowGroupingState{
			GroupColumns: append([]string(nil), g.RowGrouping.GroupColumns...),
			PivotMode:    g.RowGrouping.PivotMode,
			PivotColumns: append([]string(nil), g.RowGrouping.PivotColumns...),
			ValueColumns: append([]ValueAggregation(nil), g.RowGrouping.ValueColumns...),
		},
		Pagination:     g.Pagination,
		SelectedKeys:   append([]string(nil), g.SelectedKeys...),
		ExpandedGroups: append([]string(nil), g.ExpandedGroups...),
		ScrollOffset:   g.ScrollOffset,
		SidePanel:      g.SidePanel,
	}
	out.ColumnState = append([]ColumnState(nil), g.ColumnState...)
	out.ColumnGroupState = append([]GroupOpenState(nil), g.ColumnGroupState...)
	if g.FilterModel != nil {
		out.FilterModel = make(map[string]FilterSpec, len(g.FilterModel))
		for k, v := range g.FilterModel {
			out.FilterModel[k] = v
		}
	}
	for _, r := range g.PinnedTop {
		out.PinnedTop = append(out.PinnedTop, r.Clone())
	}
	for _, r := range g.PinnedBottom {
		out.PinnedBottom = append(out.PinnedBottom, r.Clone())
	}
	if g.DisplayOptions != nil {
		out.DisplayOptions = make(map[string]any, len(g.DisplayOptions))
		for k, v := range g.DisplayOptions {
			out.DisplayOptions[k] = v
		}
	}
	if g.FocusedCell != nil {
		cell := *g.FocusedCell
		out.FocusedCell = &cell
	}
	return out
}
