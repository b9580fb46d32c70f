package query

import (
	"sort"

	"github.com/mfroach/livebind/livestore"
)

// SortField orders results by one property.
type SortField struct {
	Prop       string
	Descending bool
}

// Sort is an ordered list of sort fields. Ties after the last field
// are always broken by primary key ascending, so sorted results have
// exactly one valid ordering.
type Sort []SortField

// Less reports whether record a sorts before record b.
func (s Sort) Less(a, b livestore.Record) bool {
	for _, f := range s {
		cmp := livestore.CompareValues(a.Fields[f.Prop], b.Fields[f.Prop])
		if cmp == 0 {
			continue
		}
		if f.Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return a.Key < b.Key
}

// Apply sorts records in place. With an empty sort the input order
// (store iteration order) is preserved.
func (s Sort) Apply(records []livestore.Record) {
	if len(s) == 0 {
		return
	}
	sort.Slice(records, func(i, j int) bool {
		return s.Less(records[i], records[j])
	})
}
