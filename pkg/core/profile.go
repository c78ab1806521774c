package core

import "time"

// CalculatedColumn is a derived column whose value is computed per row
// from an expression evaluated against the record's fields.
type CalculatedColumn struct {
	ColID      string `json:"colId"`
	Label      string `json:"label,omitempty"`
	Expression string `json:"expression"`
}

// ConditionalFormattingRule names a style to apply when its predicate
// expression evaluates true for a row. An empty ColID scopes the rule to
// the whole row.
type ConditionalFormattingRule struct {
	ID         string `json:"id"`
	ColID      string `json:"colId,omitempty"`
	Expression string `json:"expression"`
	Style      string `json:"style"`
}

// Profile is a named, persisted bundle of surface configuration plus
// data-source selection. Profiles reference column groups by id; the full
// definitions live in instance-level storage (see ColumnGroupDefinition).
//
// LegacyColumnGroups carries the pre-migration representation where group
// definitions were embedded inline in the profile. It is read once during
// migration and never written back.
type Profile struct {
	ID                   string                      `json:"id"`
	Name                 string                      `json:"name"`
	IsDefault            bool                        `json:"isDefault,omitempty"`
	IsLocked             bool                        `json:"isLocked,omitempty"`
	DataSourceID         string                      `json:"dataSourceId,omitempty"`
	AutoConnect          bool                        `json:"autoConnect,omitempty"`
	UIPreferences        map[string]any              `json:"uiPreferences,omitempty"`
	GridState            *GridState                  `json:"gridState,omitempty"`
	ActiveColumnGroupIDs []string                    `json:"activeColumnGroupIds,omitempty"`
	LegacyColumnGroups   []ColumnGroupDefinition     `json:"columnGroups,omitempty"`
	CalculatedColumns    []CalculatedColumn          `json:"calculatedColumns,omitempty"`
	FormattingRules      []ConditionalFormattingRule `json:"conditionalFormattingRules,omitempty"`
	CreatedAt            time.Time                   `json:"createdAt,omitempty"`
	UpdatedAt            time.Time                   `json:"updatedAt,omitempty"`
	DeletedAt            *time.Time                  `json:"deletedAt,omitempty"`
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.GridState = p.GridState.Clone()
	out.ActiveColumnGroupIDs = append([]string(nil), p.ActiveColumnGroupIDs...)
	out.LegacyColumnGroups = append([]ColumnGroupDefinition(nil), p.LegacyColumnGroups...)
	out.CalculatedColumns = append([]CalculatedColumn(nil), p.CalculatedColumns...)
	out.FormattingRules = append([]ConditionalFormattingRule(nil), p.FormattingRules...)
	if p.UIPreferences != nil {
		out.UIPreferences = make(map[string]any, len(p.UIPreferences))
		for k, v := range p.UIPreferences {
			out.UIPreferences[k] = v
		}
	}
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

// ProfileFilter narrows a profile query.
type ProfileFilter struct {
	NameContains   string
	DataSourceID   string
	IncludeDeleted bool
	OnlyDefault    bool
}
