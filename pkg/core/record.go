package core

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// DefaultKeyColumn is the field used as row identity when a provider does
// not configure one.
const DefaultKeyColumn = "id"

// MissingKeyPrefix marks synthesized fallback keys so downstream consumers
// can recognize rows that arrived without an identity value.
const MissingKeyPrefix = "~missing-"

// RowRecord is a single streamed record: a mapping of field name to value,
// keyed by a configurable identity field.
type RowRecord map[string]any

// Key returns the record's identity value under keyColumn, stringified.
// The second return is false when the field is absent or nil.
func (r RowRecord) Key(keyColumn string) (string, bool) {
	if keyColumn == "" {
		keyColumn = DefaultKeyColumn
	}
	v, ok := r[keyColumn]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	return fmt.Sprint(v), true
}

// Clone returns a shallow copy of the record.
func (r RowRecord) Clone() RowRecord {
	if r == nil {
		return nil
	}
	out := make(RowRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SynthesizeKey produces a fallback identity for a record that arrived
// without a value in its key column. ULIDs keep synthesized keys unique
// and sortable by arrival time.
func SynthesizeKey() string {
	return MissingKeyPrefix + ulid.Make().String()
}

// IsSynthesizedKey reports whether key was produced by SynthesizeKey.
func IsSynthesizedKey(key string) bool {
	return len(key) > len(MissingKeyPrefix) && key[:len(MissingKeyPrefix)] == MissingKeyPrefix
}
