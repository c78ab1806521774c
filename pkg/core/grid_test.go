package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridStateValidate(t *testing.T) {
	ok := &GridState{ColumnState: []ColumnState{{ColID: "sym"}, {ColID: "bid"}}}
	assert.NoError(t, ok.Validate())

	dup := &GridState{ColumnState: []ColumnState{{ColID: "bid"}, {ColID: "bid"}}}
	err := dup.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bid")

	empty := &GridState{ColumnState: []ColumnState{{}}}
	assert.Error(t, empty.Validate())

	assert.NoError(t, (&GridState{}).Validate())
}

func TestGridStateCloneIsIndependent(t *testing.T) {
	g := &GridState{
		ColumnState: []ColumnState{{ColID: "sym", Width: 120}},
		FilterModel: map[string]FilterSpec{"sym": {Type: "text"}},
	}
	c := g.Clone()
	require.NotNil(t, c)

	c.ColumnState[0].Width = 999
	c.FilterModel["bid"] = FilterSpec{Type: "number"}

	assert.Equal(t, 120, g.ColumnState[0].Width)
	assert.NotContains(t, g.FilterModel, "bid")
}
