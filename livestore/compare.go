package livestore

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// CompareValues compares two field values and returns:
//
//	-1 if left < right
//	 0 if left == right
//	 1 if left > right
//
// It defines a total order over all supported value types: int64,
// float64, string, bool, time.Time, and []byte. Numeric values compare
// across int64/float64. Nil sorts before any non-nil value. Values of
// mismatched non-numeric types are ordered arbitrarily but stably
// (left considered smaller), which keeps sorts deterministic without
// making type confusion an error at comparison depth; query validation
// rejects mismatched comparisons before they reach this point.
func CompareValues(left, right any) int {
	if left == nil && right == nil {
		return 0
	}
	if left == nil {
		return -1
	}
	if right == nil {
		return 1
	}

	switch l := left.(type) {
	case int:
		return compareNumeric(int64(l), right)
	case int64:
		return compareNumeric(l, right)
	case float64:
		return compareFloat(l, right)
	case string:
		if r, ok := right.(string); ok {
			return strings.Compare(l, r)
		}
		return -1
	case bool:
		if r, ok := right.(bool); ok {
			if !l && r {
				return -1
			} else if l && !r {
				return 1
			}
			return 0
		}
		return -1
	case time.Time:
		if r, ok := right.(time.Time); ok {
			if l.Before(r) {
				return -1
			} else if l.After(r) {
				return 1
			}
			return 0
		}
		return -1
	case []byte:
		if r, ok := right.([]byte); ok {
			return bytes.Compare(l, r)
		}
		return -1
	}

	// Unknown types: fall back to string comparison
	return strings.Compare(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right))
}

func compareNumeric(left int64, right any) int {
	switch r := right.(type) {
	case int:
		return compareInt64s(left, int64(r))
	case int64:
		return compareInt64s(left, r)
	case float64:
		return compareFloats(float64(left), r)
	}
	return -1
}

func compareFloat(left float64, right any) int {
	switch r := right.(type) {
	case int:
		return compareFloats(left, float64(r))
	case int64:
		return compareFloats(left, float64(r))
	case float64:
		return compareFloats(left, r)
	}
	return -1
}

func compareInt64s(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareFloats(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// ValuesEqual reports whether two field values are equal under
// CompareValues semantics, with slice and embedded-map values compared
// element-wise.
func ValuesEqual(left, right any) bool {
	switch l := left.(type) {
	case []string:
		r, ok := right.([]string)
		if !ok || len(l) != len(r) {
			return false
		}
		for i := range l {
			if l[i] != r[i] {
				return false
			}
		}
		return true
	case map[string]any:
		r, ok := right.(map[string]any)
		if !ok || len(l) != len(r) {
			return false
		}
		for k, v := range l {
			rv, ok := r[k]
			if !ok || !ValuesEqual(v, rv) {
				return false
			}
		}
		return true
	}
	return CompareValues(left, right) == 0
}
