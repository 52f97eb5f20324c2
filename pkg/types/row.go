package types

import (
	"encoding/json"
	"fmt"
)

// Row holds one fetched row as column name to decoded value. NULL values of
// optional columns are omitted.
type Row map[string]any

// RowID returns the row's rowid, or 0 if it has none.
func (r Row) RowID() int64 {
	n, _ := r[RowIDColumn].(int64)
	return n
}

// Decode assigns the row's values into rec. Missing optional columns are set
// to nil; a missing required column is an ErrDecode.
func (r Row) Decode(rec Record) error {
	for _, b := range Bind(rec) {
		v, ok := r[b.Name]
		if !ok {
			if !b.Kind.Optional() {
				return fmt.Errorf("%w: missing column %q", ErrDecode, b.Name)
			}
			v = nil
		}
		if err := b.Assign(v); err != nil {
			return fmt.Errorf("column %q: %w", b.Name, err)
		}
	}
	return nil
}

// MarshalJSON renders optional pointers by value so rows print as plain
// objects.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Plain())
}

// Plain returns a copy of the row with optional pointers dereferenced.
func (r Row) Plain() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		v, isNil := indirect(v)
		if isNil {
			out[k] = nil
			continue
		}
		out[k] = v
	}
	return out
}
