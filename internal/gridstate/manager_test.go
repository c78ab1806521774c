package gridstate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridstream/internal/colgroup"
	"github.com/leapstack-labs/gridstream/internal/pending"
	"github.com/leapstack-labs/gridstream/internal/state"
	"github.com/leapstack-labs/gridstream/internal/surface"
	"github.com/leapstack-labs/gridstream/internal/testutil"
	"github.com/leapstack-labs/gridstream/pkg/core"
)

var testCols = []core.Column{{ID: "sym"}, {ID: "bid"}, {ID: "ask"}, {ID: "last"}}

func setupManager(t *testing.T) (*Manager, *colgroup.Service) {
	t.Helper()
	store := state.NewSQLiteStore()
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	logger := testutil.NewTestLogger(t)
	groups := colgroup.New(store, logger)

	var mgr *Manager
	queue := pending.New(func(s core.Surface, e pending.Entry) error {
		return mgr.ApplyDeferred(s, e)
	}, logger)
	mgr = NewManager("inst", groups, queue, logger)
	return mgr, groups
}

func readyMemory() *surface.Memory {
	surf := surface.NewMemory("id", testCols)
	surf.SetReady(true)
	return surf
}

func sampleState() *core.GridState {
	page := 2
	return &core.GridState{
		ColumnState: []core.ColumnState{
			{ColID: "sym", Width: 120},
			{ColID: "bid", Width: 80, Pinned: core.PinnedLeft},
			{ColID: "ask", Width: 80, Hidden: true},
			{ColID: "last", Width: 100, Sort: core.SortDesc},
		},
		FilterModel: map[string]core.FilterSpec{
			"sym": {Type: "text", Op: "contains", Value: "AA"},
		},
		RowGrouping: core.RowGroupingState{
			GroupColumns: []string{"sym"},
			ValueColumns: []core.ValueAggregation{{ColID: "bid", Func: "avg"}},
		},
		Pagination:     core.PaginationState{Enabled: true, PageSize: 50, CurrentPage: page},
		SelectedKeys:   []string{"r1", "r2"},
		ExpandedGroups: []string{"sym:AAPL"},
		PinnedTop:      []core.RowRecord{{"id": "pin-1", "sym": "TOTAL"}},
		DisplayOptions: map[string]any{"rowHeight": 28, "compact": true},
		FocusedCell:    &core.CellRef{RowKey: "r1", ColID: "bid"},
		ScrollOffset:   core.ScrollPosition{Top: 40, Left: 10},
		SidePanel:      core.SidePanelState{Visible: true, ActivePanel: "columns"},
	}
}

func TestExtractWithoutSurface(t *testing.T) {
	mgr, _ := setupManager(t)
	assert.Nil(t, mgr.Extract(AllOptions()))
}

func TestApplyWithoutSurface(t *testing.T) {
	mgr, _ := setupManager(t)
	assert.False(t, mgr.Apply(context.Background(), sampleState(), nil, AllOptions()))
}

func TestApplyNilState(t *testing.T) {
	mgr, _ := setupManager(t)
	mgr.AttachSurface(readyMemory())
	assert.False(t, mgr.Apply(context.Background(), nil, nil, AllOptions()))
}

func TestApplyExtractRoundTrip(t *testing.T) {
	mgr, _ := setupManager(t)
	mgr.AttachSurface(readyMemory())

	want := sampleState()
	require.True(t, mgr.Apply(context.Background(), want, nil, AllOptions()))

	got := mgr.Extract(AllOptions())
	require.NotNil(t, got)
	assert.Equal(t, want.ColumnState, got.ColumnState)
	assert.Equal(t, want.FilterModel, got.FilterModel)
	assert.Equal(t, want.RowGrouping, got.RowGrouping)
	assert.Equal(t, want.Pagination, got.Pagination)
	assert.Equal(t, want.SelectedKeys, got.SelectedKeys)
	assert.Equal(t, want.ExpandedGroups, got.ExpandedGroups)
	assert.Equal(t, want.PinnedTop, got.PinnedTop)
	assert.Equal(t, want.DisplayOptions, got.DisplayOptions)
	assert.Equal(t, want.FocusedCell, got.FocusedCell)
	assert.Equal(t, want.ScrollOffset, got.ScrollOffset)
	assert.Equal(t, want.SidePanel, got.SidePanel)
}

func TestExtractIsReadOnly(t *testing.T) {
	mgr, _ := setupManager(t)
	surf := readyMemory()
	mgr.AttachSurface(surf)

	before := surf.ColumnState()
	_ = mgr.Extract(AllOptions())
	assert.Equal(t, before, surf.ColumnState())
}

// failingFilterSurface breaks exactly one facet so the others can be
// checked for isolation.
type failingFilterSurface struct {
	*surface.Memory
}

func (f *failingFilterSurface) SetFilterModel(map[string]core.FilterSpec) error {
	return assert.AnError
}

func TestFacetFailureDoesNotAbortOthers(t *testing.T) {
	mgr, _ := setupManager(t)
	surf := &failingFilterSurface{Memory: readyMemory()}
	mgr.AttachSurface(surf)

	ok := mgr.Apply(context.Background(), sampleState(), nil, AllOptions())
	assert.False(t, ok)

	// Facets after the failed one were still applied.
	assert.Equal(t, []string{"r1", "r2"}, surf.SelectedRows())
	assert.Equal(t, 50, surf.Pagination().PageSize)

	states := surf.ColumnState()
	byID := make(map[string]core.ColumnState, len(states))
	for _, st := range states {
		byID[st.ColID] = st
	}
	assert.Equal(t, 120, byID["sym"].Width)
	assert.True(t, byID["ask"].Hidden)
}

func TestApplyPartialOptions(t *testing.T) {
	mgr, _ := setupManager(t)
	surf := readyMemory()
	mgr.AttachSurface(surf)

	ok := mgr.Apply(context.Background(), sampleState(), nil, Options{Filters: true})
	assert.True(t, ok)

	assert.Len(t, surf.FilterModel(), 1)
	// Columns facet was not selected: widths stay at the built-in default.
	assert.Equal(t, 100, surf.ColumnState()[0].Width)
	assert.Empty(t, surf.SelectedRows())
}

func TestApplyWithActiveGroupsBuildsStructureFirst(t *testing.T) {
	mgr, groups := setupManager(t)
	ctx := context.Background()

	require.NoError(t, groups.Register(ctx, "inst", core.ColumnGroupDefinition{
		ID:    "quotes",
		Label: "Quotes",
		Children: []core.GroupChild{
			{ColumnID: "bid"},
			{ColumnID: "ask"},
		},
	}))

	surf := readyMemory()
	mgr.AttachSurface(surf)

	st := &core.GridState{
		ColumnState: []core.ColumnState{
			{ColID: "bid", Width: 222},
			{ColID: "ask", Width: 333},
		},
		ColumnGroupState: []core.GroupOpenState{{GroupID: "quotes", Open: true}},
	}
	require.True(t, mgr.Apply(ctx, st, []string{"quotes"}, Options{Columns: true}))

	// The grouped layout exists and the parked column state landed on it.
	layout := surf.Layout()
	require.Len(t, layout, 3)
	require.NotNil(t, layout[1].Group)
	assert.Equal(t, "quotes", layout[1].Group.ID)

	byID := make(map[string]core.ColumnState)
	for _, cs := range surf.ColumnState() {
		byID[cs.ColID] = cs
	}
	assert.Equal(t, 222, byID["bid"].Width)
	assert.Equal(t, 333, byID["ask"].Width)

	gs := surf.ColumnGroupState()
	require.Len(t, gs, 1)
	assert.True(t, gs[0].Open)
}

func TestApplyDeferredDetachedSurface(t *testing.T) {
	mgr, _ := setupManager(t)

	err := mgr.ApplyDeferred(nil, pending.Entry{ColumnState: []core.ColumnState{{ColID: "bid"}}})
	assert.ErrorIs(t, err, core.ErrSurfaceDetached)

	unready := surface.NewMemory("id", testCols)
	err = mgr.ApplyDeferred(unready, pending.Entry{ColumnState: []core.ColumnState{{ColID: "bid"}}})
	assert.ErrorIs(t, err, core.ErrSurfaceDetached)
}

func TestResetToDefault(t *testing.T) {
	mgr, _ := setupManager(t)
	surf := readyMemory()
	mgr.AttachSurface(surf)

	require.True(t, mgr.Apply(context.Background(), sampleState(), nil, AllOptions()))
	mgr.ResetToDefault(context.Background())

	assert.Equal(t, 100, surf.ColumnState()[0].Width)
	assert.Empty(t, surf.FilterModel())
	assert.Empty(t, surf.SelectedRows())
	assert.False(t, surf.Pagination().Enabled)
}

func TestResetToDefaultReappliesRegisteredState(t *testing.T) {
	mgr, _ := setupManager(t)
	surf := readyMemory()
	mgr.AttachSurface(surf)

	mgr.RegisterDefaultState(&core.GridState{
		ColumnState: []core.ColumnState{{ColID: "sym", Width: 150}},
		FilterModel: map[string]core.FilterSpec{"sym": {Type: "text", Op: "equals", Value: "X"}},
	})

	require.True(t, mgr.Apply(context.Background(), sampleState(), nil, AllOptions()))
	mgr.ResetToDefault(context.Background())

	byID := make(map[string]core.ColumnState)
	for _, cs := range surf.ColumnState() {
		byID[cs.ColID] = cs
	}
	assert.Equal(t, 150, byID["sym"].Width)
	assert.Len(t, surf.FilterModel(), 1)
}
