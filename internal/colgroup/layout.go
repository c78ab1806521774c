package colgroup

import (
	"context"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// BuildLayout wraps the base columns referenced by active groups into
// group nodes and returns the resulting layout tree.
//
// Each group node is positioned at the index of its first child in the
// base list; columns not referenced by any active group stay at the top
// level in their original order. A column claimed by more than one active
// group belongs to the first group that claims it. Active ids with no
// matching definition are skipped.
//
// Each child's show rule travels into the layout as a native visibility
// marker; the surface, not this service, governs per-click
// expand/collapse visibility afterward.
func BuildLayout(base []core.Column, activeIDs []string, defs []core.ColumnGroupDefinition) []core.ColumnNode {
	byID := make(map[string]core.ColumnGroupDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}

	baseByID := make(map[string]core.Column, len(base))
	for _, c := range base {
		baseByID[c.ID] = c
	}

	// membership maps a column id to the group that claims it.
	type claim struct {
		groupID string
		show    core.ShowRule
	}
	membership := make(map[string]claim)
	ordered := make([]core.ColumnGroupDefinition, 0, len(activeIDs))
	for _, id := range activeIDs {
		def, ok := byID[id]
		if !ok {
			continue
		}
		ordered = append(ordered, def)
		for _, child := range def.Children {
			if _, taken := membership[child.ColumnID]; taken {
				continue
			}
			show := child.Show
			if show == "" {
				show = core.ShowAlways
			}
			membership[child.ColumnID] = claim{groupID: def.ID, show: show}
		}
	}

	emitted := make(map[string]bool, len(ordered))
	var layout []core.ColumnNode
	for _, col := range base {
		m, grouped := membership[col.ID]
		if !grouped {
			c := col
			layout = append(layout, core.ColumnNode{Column: &c})
			continue
		}
		if emitted[m.groupID] {
			continue
		}
		emitted[m.groupID] = true

		def := byID[m.groupID]
		node := &core.GroupNode{
			ID:    def.ID,
			Label: def.Label,
			Open:  def.OpenByDefault,
		}
		for _, child := range def.Children {
			claimed, ok := membership[child.ColumnID]
			if !ok || claimed.groupID != def.ID {
				continue
			}
			bc, present := baseByID[child.ColumnID]
			if !present {
				continue
			}
			node.Children = append(node.Children, core.GroupChildNode{
				Column: bc,
				Show:   claimed.show,
			})
		}
		layout = append(layout, core.ColumnNode{Group: node})
	}
	return layout
}

// ApplyLayout rebuilds the surface's column layout from base columns and
// the instance's active groups. Unknown group ids are skipped, never an
// error.
func (s *Service) ApplyLayout(ctx context.Context, instanceID string, surface core.Surface, base []core.Column, activeIDs []string) error {
	defs, err := s.Lookup(ctx, instanceID, activeIDs)
	if err != nil {
		return err
	}
	if surface == nil {
		return core.ErrSurfaceDetached
	}
	return surface.SetColumns(BuildLayout(base, activeIDs, defs))
}
