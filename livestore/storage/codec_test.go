package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	when := time.Date(2025, 3, 14, 9, 26, 53, 589000000, time.UTC)
	fields := map[string]any{
		"count":   int64(42),
		"ratio":   0.75,
		"name":    "widget",
		"active":  true,
		"created": when,
		"blob":    []byte{0x00, 0x01, 0xFF},
		"tags":    []string{"a", "b"},
		"meta": map[string]any{
			"nested": int64(7),
			"label":  "inner",
		},
	}

	data, err := EncodeFields(fields)
	require.NoError(t, err)
	decoded, err := DecodeFields(data)
	require.NoError(t, err)

	// int64 must survive; plain JSON would come back as float64
	assert.Equal(t, int64(42), decoded["count"])
	assert.Equal(t, 0.75, decoded["ratio"])
	assert.Equal(t, "widget", decoded["name"])
	assert.Equal(t, true, decoded["active"])
	assert.True(t, when.Equal(decoded["created"].(time.Time)))
	assert.Equal(t, []byte{0x00, 0x01, 0xFF}, decoded["blob"])
	assert.Equal(t, []string{"a", "b"}, decoded["tags"])
	assert.Equal(t, int64(7), decoded["meta"].(map[string]any)["nested"])
}

func TestCodecNilFieldsOmitted(t *testing.T) {
	data, err := EncodeFields(map[string]any{"present": "x", "absent": nil})
	require.NoError(t, err)
	decoded, err := DecodeFields(data)
	require.NoError(t, err)

	assert.Contains(t, decoded, "present")
	assert.NotContains(t, decoded, "absent")
}

func TestCodecEmptyList(t *testing.T) {
	data, err := EncodeFields(map[string]any{"tags": []string{}})
	require.NoError(t, err)
	decoded, err := DecodeFields(data)
	require.NoError(t, err)
	assert.Equal(t, []string{}, decoded["tags"])
}

func TestCodecDatesNormalizeToUTC(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	local := time.Date(2025, 6, 1, 14, 0, 0, 0, loc)

	data, err := EncodeFields(map[string]any{"when": local})
	require.NoError(t, err)
	decoded, err := DecodeFields(data)
	require.NoError(t, err)

	got := decoded["when"].(time.Time)
	assert.True(t, local.Equal(got))
	assert.Equal(t, time.UTC, got.Location())
}

func TestCodecRejectsUnsupportedType(t *testing.T) {
	_, err := EncodeFields(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}

func TestCodecIntNormalization(t *testing.T) {
	data, err := EncodeFields(map[string]any{"n": 5})
	require.NoError(t, err)
	decoded, err := DecodeFields(data)
	require.NoError(t, err)
	assert.Equal(t, int64(5), decoded["n"])
}
