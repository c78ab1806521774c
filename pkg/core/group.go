package core

// ShowRule controls when a grouped column is visible relative to its
// group's open/closed state.
type ShowRule string

const (
	// ShowAlways keeps the column visible regardless of group state.
	ShowAlways ShowRule = "always"
	// ShowOnlyWhenOpen shows the column only while the group is expanded.
	ShowOnlyWhenOpen ShowRule = "onlyWhenOpen"
	// ShowOnlyWhenClosed shows the column only while the group is collapsed.
	ShowOnlyWhenClosed ShowRule = "onlyWhenClosed"
)

// GroupChild binds a base column into a group with its visibility rule.
type GroupChild struct {
	ColumnID string   `json:"columnId"`
	Show     ShowRule `json:"showRule,omitempty"`
}

// ColumnGroupDefinition is a named grouping of base columns. Definitions
// are stored per surface instance, not per profile, so multiple profiles
// can share them; profiles reference groups by id only.
type ColumnGroupDefinition struct {
	ID            string       `json:"id"`
	Label         string       `json:"label"`
	OpenByDefault bool         `json:"openByDefault,omitempty"`
	Children      []GroupChild `json:"children"`
}

// Column describes a base (leaf) column of the surface.
type Column struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Type  string `json:"type,omitempty"`
}

// GroupChildNode is a column placed inside a group node of a layout tree.
type GroupChildNode struct {
	Column Column
	Show   ShowRule
}

// GroupNode is a named group node in a layout tree.
type GroupNode struct {
	ID       string
	Label    string
	Open     bool
	Children []GroupChildNode
}

// ColumnNode is one entry of a column layout tree: either a leaf column or
// a group node, never both.
type ColumnNode struct {
	Column *Column
	Group  *GroupNode
}

// LeafColumns returns the flat list of leaf columns of a layout in
// display order, descending into group nodes.
func LeafColumns(layout []ColumnNode) []Column {
	var out []Column
	for _, n := range layout {
		switch {
		case n.Column != nil:
			out = append(out, *n.Column)
		case n.Group != nil:
			for _, c := range n.Group.Children {
				out = append(out, c.Column)
			}
		}
	}
	return out
}
