package livestore

import (
	"testing"
	"time"
)

func TestCompareValuesNumeric(t *testing.T) {
	if CompareValues(int64(1), int64(2)) != -1 {
		t.Error("Expected 1 < 2")
	}
	if CompareValues(int64(2), int64(2)) != 0 {
		t.Error("Expected 2 == 2")
	}
	if CompareValues(int64(3), int64(2)) != 1 {
		t.Error("Expected 3 > 2")
	}

	// Cross-type numeric comparison
	if CompareValues(int64(1), 1.5) != -1 {
		t.Error("Expected int64 1 < float64 1.5")
	}
	if CompareValues(2.0, int64(2)) != 0 {
		t.Error("Expected float64 2.0 == int64 2")
	}
	if CompareValues(1, int64(1)) != 0 {
		t.Error("Expected untyped int to normalize against int64")
	}
}

func TestCompareValuesNil(t *testing.T) {
	if CompareValues(nil, nil) != 0 {
		t.Error("Expected nil == nil")
	}
	if CompareValues(nil, int64(0)) != -1 {
		t.Error("Expected nil to sort before any value")
	}
	if CompareValues("", nil) != 1 {
		t.Error("Expected non-nil to sort after nil")
	}
}

func TestCompareValuesTypes(t *testing.T) {
	if CompareValues("alpha", "beta") != -1 {
		t.Error("Expected lexical string ordering")
	}
	if CompareValues(false, true) != -1 {
		t.Error("Expected false < true")
	}
	earlier := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)
	if CompareValues(earlier, later) != -1 {
		t.Error("Expected earlier time to sort first")
	}
	if CompareValues([]byte{0x01}, []byte{0x02}) != -1 {
		t.Error("Expected bytewise ordering")
	}

	// Mismatched non-numeric types are stable, not an error
	if CompareValues("x", int64(1)) != -1 {
		t.Error("Expected mismatched types to order left-first")
	}
}

func TestValuesEqual(t *testing.T) {
	if !ValuesEqual([]string{"a", "b"}, []string{"a", "b"}) {
		t.Error("Expected equal string slices to be equal")
	}
	if ValuesEqual([]string{"a", "b"}, []string{"b", "a"}) {
		t.Error("Expected order to matter for string slices")
	}
	if !ValuesEqual(map[string]any{"k": int64(1)}, map[string]any{"k": int64(1)}) {
		t.Error("Expected equal maps to be equal")
	}
	if ValuesEqual(map[string]any{"k": int64(1)}, map[string]any{"k": int64(2)}) {
		t.Error("Expected maps with different values to differ")
	}
	if !ValuesEqual(int64(42), 42.0) {
		t.Error("Expected cross-numeric equality")
	}
}

func TestRecordClone(t *testing.T) {
	rec := Record{
		Entity: "Item",
		Key:    "I1",
		Fields: map[string]any{
			"tags": []string{"a"},
			"blob": []byte{0x01},
		},
	}
	clone := rec.Clone()
	clone.Fields["tags"].([]string)[0] = "mutated"
	clone.Fields["blob"].([]byte)[0] = 0xFF

	if rec.Fields["tags"].([]string)[0] != "a" {
		t.Error("Expected clone to deep-copy string slices")
	}
	if rec.Fields["blob"].([]byte)[0] != 0x01 {
		t.Error("Expected clone to deep-copy byte slices")
	}
}

func TestSortRecordsByKey(t *testing.T) {
	recs := []Record{
		{Entity: "Item", Key: "c"},
		{Entity: "Item", Key: "a"},
		{Entity: "Item", Key: "b"},
	}
	SortRecordsByKey(recs)
	if recs[0].Key != "a" || recs[1].Key != "b" || recs[2].Key != "c" {
		t.Errorf("Expected key order a,b,c, got %s,%s,%s", recs[0].Key, recs[1].Key, recs[2].Key)
	}
}
