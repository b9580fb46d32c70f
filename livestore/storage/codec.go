package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Records are persisted as type-tagged JSON so that int64, dates, and
// binary values survive the round trip; bare JSON would flatten every
// number to float64.

type wireValue struct {
	T string               `json:"t"`
	S string               `json:"s,omitempty"` // string, objectid, link key, RFC3339Nano date
	N int64                `json:"n,omitempty"`
	F float64              `json:"f,omitempty"`
	B bool                 `json:"b,omitempty"`
	X []byte               `json:"x,omitempty"` // binary (base64 in JSON)
	L []string             `json:"l,omitempty"` // link list
	M map[string]wireValue `json:"m,omitempty"` // embedded object
}

const (
	wireInt    = "i"
	wireFloat  = "f"
	wireString = "s"
	wireBool   = "b"
	wireDate   = "d"
	wireBinary = "x"
	wireList   = "l"
	wireMap    = "m"
)

// EncodeFields serializes a field map for storage.
func EncodeFields(fields map[string]any) ([]byte, error) {
	wire, err := toWireMap(fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}

// DecodeFields deserializes a stored payload back into a field map.
func DecodeFields(data []byte) (map[string]any, error) {
	var wire map[string]wireValue
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode record payload: %w", err)
	}
	return fromWireMap(wire)
}

func toWireMap(fields map[string]any) (map[string]wireValue, error) {
	wire := make(map[string]wireValue, len(fields))
	for name, v := range fields {
		if v == nil {
			continue // absent and nil are the same stored state
		}
		wv, err := toWire(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		wire[name] = wv
	}
	return wire, nil
}

func toWire(v any) (wireValue, error) {
	switch val := v.(type) {
	case int64:
		return wireValue{T: wireInt, N: val}, nil
	case int:
		return wireValue{T: wireInt, N: int64(val)}, nil
	case float64:
		return wireValue{T: wireFloat, F: val}, nil
	case string:
		return wireValue{T: wireString, S: val}, nil
	case bool:
		return wireValue{T: wireBool, B: val}, nil
	case time.Time:
		return wireValue{T: wireDate, S: val.UTC().Format(time.RFC3339Nano)}, nil
	case []byte:
		return wireValue{T: wireBinary, X: val}, nil
	case []string:
		list := val
		if list == nil {
			list = []string{}
		}
		return wireValue{T: wireList, L: list}, nil
	case map[string]any:
		inner, err := toWireMap(val)
		if err != nil {
			return wireValue{}, err
		}
		return wireValue{T: wireMap, M: inner}, nil
	}
	return wireValue{}, fmt.Errorf("unsupported value type %T", v)
}

func fromWireMap(wire map[string]wireValue) (map[string]any, error) {
	fields := make(map[string]any, len(wire))
	for name, wv := range wire {
		v, err := fromWire(wv)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields[name] = v
	}
	return fields, nil
}

func fromWire(wv wireValue) (any, error) {
	switch wv.T {
	case wireInt:
		return wv.N, nil
	case wireFloat:
		return wv.F, nil
	case wireString:
		return wv.S, nil
	case wireBool:
		return wv.B, nil
	case wireDate:
		t, err := time.Parse(time.RFC3339Nano, wv.S)
		if err != nil {
			return nil, fmt.Errorf("bad date %q: %w", wv.S, err)
		}
		return t, nil
	case wireBinary:
		return wv.X, nil
	case wireList:
		if wv.L == nil {
			return []string{}, nil
		}
		return wv.L, nil
	case wireMap:
		return fromWireMap(wv.M)
	}
	return nil, fmt.Errorf("unknown wire tag %q", wv.T)
}
