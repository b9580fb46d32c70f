package livestore

import (
	"fmt"
	"sort"
	"time"
)

// Record is a stored record as the binding layer sees it: an entity
// name, a primary-key value, and a flat field map. Field values are
// one of: int64, float64, string, bool, time.Time, []byte, []string
// (link lists), or map[string]any (embedded objects).
type Record struct {
	Entity string
	Key    string
	Fields map[string]any
}

// Clone returns a deep copy of the record. Field maps are shared
// between the store and every proxy that observed them, so all
// mutation paths operate on clones.
func (r Record) Clone() Record {
	cp := r
	cp.Fields = CloneFields(r.Fields)
	return cp
}

// CloneFields deep-copies a field map, including link lists, binary
// values, and embedded objects.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []byte:
		return append([]byte(nil), val...)
	case map[string]any:
		return CloneFields(val)
	default:
		return v
	}
}

// SortRecordsByKey orders records by primary key ascending. Store
// scans return records in this order; it is also the deterministic
// tie-break for sorted queries.
func SortRecordsByKey(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key < records[j].Key
	})
}

// FormatValue renders a field value for diagnostics and CLI output.
func FormatValue(v any) string {
	if v == nil {
		return "nil"
	}
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(val))
	case []string:
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
