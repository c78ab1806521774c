package gridstate

// Options selects which state facets an extract or apply touches. Each
// facet is independently toggleable so a caller can change one facet,
// e.g. filters, without disturbing the rest.
type Options struct {
	Columns        bool
	Filters        bool
	RowGrouping    bool
	Pagination     bool
	Selection      bool
	Expansion      bool
	PinnedRows     bool
	DisplayOptions bool
	Focus          bool
	Scroll         bool
	SidePanel      bool
}

// AllOptions selects every facet.
func AllOptions() Options {
	return Options{
		Columns:        true,
		Filters:        true,
		RowGrouping:    true,
		Pagination:     true,
		Selection:      true,
		Expansion:      true,
		PinnedRows:     true,
		DisplayOptions: true,
		Focus:          true,
		Scroll:         true,
		SidePanel:      true,
	}
}
