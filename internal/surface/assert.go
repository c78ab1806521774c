package surface

import "github.com/leapstack-labs/gridstream/pkg/core"

// Memory implements the full capability set.
var (
	_ core.Surface              = (*Memory)(nil)
	_ core.GroupStateCapable    = (*Memory)(nil)
	_ core.PivotCapable         = (*Memory)(nil)
	_ core.PaginationCapable    = (*Memory)(nil)
	_ core.SelectionCapable     = (*Memory)(nil)
	_ core.ExpansionCapable     = (*Memory)(nil)
	_ core.PinnedRowCapable     = (*Memory)(nil)
	_ core.DisplayOptionCapable = (*Memory)(nil)
	_ core.FocusCapable         = (*Memory)(nil)
	_ core.ScrollCapable        = (*Memory)(nil)
	_ core.SidePanelCapable     = (*Memory)(nil)
)
