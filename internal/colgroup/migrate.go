package colgroup

import (
	"context"

	"github.com/leapstack-labs/gridstream/pkg/core"
)

// MigrateLegacyGroups handles the one-time transition from profiles that
// embedded full group definitions inline to the current representation
// where profiles hold only id references into instance-level storage.
//
// Each embedded group is registered into the instance's storage,
// deduplicated by id; a group id already registered keeps its existing
// definition (instance storage is authoritative once a definition
// exists). The returned id list replaces the profile's inline groups.
func (s *Service) MigrateLegacyGroups(ctx context.Context, instanceID string, legacy []core.ColumnGroupDefinition) ([]string, error) {
	if len(legacy) == 0 {
		return nil, nil
	}

	existing, err := s.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, d := range existing {
		known[d.ID] = true
	}

	var ids []string
	seen := make(map[string]bool, len(legacy))
	for _, def := range legacy {
		if def.ID == "" || seen[def.ID] {
			continue
		}
		seen[def.ID] = true
		ids = append(ids, def.ID)

		if known[def.ID] {
			s.logger.Debug("legacy group already registered, keeping stored definition",
				"instance", instanceID, "group", def.ID)
			continue
		}
		if err := s.Register(ctx, instanceID, def); err != nil {
			return nil, err
		}
	}
	s.logger.Info("migrated legacy column groups",
		"instance", instanceID, "count", len(ids))
	return ids, nil
}
