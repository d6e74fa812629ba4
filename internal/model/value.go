package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Scalar is a sealed interface representing primitive register values.
// Only Str, Int, Uint, Bool, Null and Timestamp implement it.
// NO float variant - floats break hash determinism.
type Scalar interface {
	Kind() ScalarKind
	scalar() // Sealed - only these types implement it
}

// ScalarKind is the wire tag of a Scalar variant.
type ScalarKind string

const (
	KindStr       ScalarKind = "str"
	KindInt       ScalarKind = "int"
	KindUint      ScalarKind = "uint"
	KindBool      ScalarKind = "bool"
	KindNull      ScalarKind = "null"
	KindTimestamp ScalarKind = "timestamp"
)

// Str is a UTF-8 string value.
type Str string

func (Str) Kind() ScalarKind { return KindStr }
func (Str) scalar()          {}

// Int is a signed 64-bit integer value.
type Int int64

func (Int) Kind() ScalarKind { return KindInt }
func (Int) scalar()          {}

// Uint is an unsigned 64-bit integer value.
type Uint uint64

func (Uint) Kind() ScalarKind { return KindUint }
func (Uint) scalar()          {}

// Bool is a boolean value.
type Bool bool

func (Bool) Kind() ScalarKind { return KindBool }
func (Bool) scalar()          {}

// Null is an explicit null value, distinct from "never written".
type Null struct{}

func (Null) Kind() ScalarKind { return KindNull }
func (Null) scalar()          {}

// Timestamp is milliseconds since the Unix epoch.
type Timestamp int64

func (Timestamp) Kind() ScalarKind { return KindTimestamp }
func (Timestamp) scalar()          {}

// AsString returns the string held by s, if s is a Str.
func AsString(s Scalar) (string, bool) {
	v, ok := s.(Str)
	return string(v), ok
}

// AsUint returns s as an unsigned integer.
// Uint and Timestamp convert; non-negative Int converts too.
func AsUint(s Scalar) (uint64, bool) {
	switch v := s.(type) {
	case Uint:
		return uint64(v), true
	case Timestamp:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case Int:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	default:
		return 0, false
	}
}

// AsInt returns s as a signed integer.
func AsInt(s Scalar) (int64, bool) {
	switch v := s.(type) {
	case Int:
		return int64(v), true
	case Timestamp:
		return int64(v), true
	case Uint:
		if uint64(v) > 1<<63-1 {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

// AsBool returns the boolean held by s, if s is a Bool.
func AsBool(s Scalar) (bool, bool) {
	v, ok := s.(Bool)
	return bool(v), ok
}

// ScalarEqual reports whether two scalars have the same kind and value.
func ScalarEqual(a, b Scalar) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && a == b
}

// scalarCanonical converts a Scalar to the plain Go form used by MarshalCanonical.
func scalarCanonical(s Scalar) (map[string]any, error) {
	out := map[string]any{"type": string(s.Kind())}
	switch v := s.(type) {
	case Str:
		out["value"] = string(v)
	case Int:
		out["value"] = int64(v)
	case Uint:
		out["value"] = uint64(v)
	case Bool:
		out["value"] = bool(v)
	case Null:
	case Timestamp:
		out["value"] = int64(v)
	default:
		return nil, NewMalformedOperation(fmt.Sprintf("unknown scalar type %T", s))
	}
	return out, nil
}

// scalarJSON is the tagged wire form of a Scalar.
type scalarJSON struct {
	Type  ScalarKind      `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalScalar encodes s as {"type": "<kind>", "value": ...}.
func MarshalScalar(s Scalar) ([]byte, error) {
	var raw []byte
	var err error
	switch v := s.(type) {
	case Str:
		raw, err = json.Marshal(string(v))
	case Int:
		raw, err = json.Marshal(int64(v))
	case Uint:
		raw, err = json.Marshal(uint64(v))
	case Bool:
		raw, err = json.Marshal(bool(v))
	case Null:
	case Timestamp:
		raw, err = json.Marshal(int64(v))
	default:
		return nil, NewMalformedOperation(fmt.Sprintf("unknown scalar type %T", s))
	}
	if err != nil {
		return nil, fmt.Errorf("marshal scalar: %w", err)
	}
	return json.Marshal(scalarJSON{Type: s.Kind(), Value: raw})
}

// UnmarshalScalar decodes the tagged wire form.
// Unknown tags and ill-typed values return a MalformedOperation error.
func UnmarshalScalar(data []byte) (Scalar, error) {
	var sj scalarJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return nil, NewMalformedOperation(fmt.Sprintf("scalar: %v", err))
	}

	switch sj.Type {
	case KindStr:
		var s string
		if err := json.Unmarshal(sj.Value, &s); err != nil {
			return nil, NewMalformedOperation(fmt.Sprintf("str scalar: %v", err))
		}
		return Str(s), nil
	case KindInt, KindTimestamp:
		n, err := decodeNumber(sj.Value)
		if err != nil {
			return nil, NewMalformedOperation(fmt.Sprintf("%s scalar: %v", sj.Type, err))
		}
		i, err := n.Int64()
		if err != nil {
			return nil, NewMalformedOperation(fmt.Sprintf("%s scalar out of range: %s", sj.Type, n))
		}
		if sj.Type == KindTimestamp {
			return Timestamp(i), nil
		}
		return Int(i), nil
	case KindUint:
		n, err := decodeNumber(sj.Value)
		if err != nil {
			return nil, NewMalformedOperation(fmt.Sprintf("uint scalar: %v", err))
		}
		u, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return nil, NewMalformedOperation(fmt.Sprintf("uint scalar out of range: %s", n))
		}
		return Uint(u), nil
	case KindBool:
		var b bool
		if err := json.Unmarshal(sj.Value, &b); err != nil {
			return nil, NewMalformedOperation(fmt.Sprintf("bool scalar: %v", err))
		}
		return Bool(b), nil
	case KindNull:
		return Null{}, nil
	default:
		return nil, NewMalformedOperation(fmt.Sprintf("unknown scalar type %q", sj.Type))
	}
}

// decodeNumber reads an integer literal without going through float64.
func decodeNumber(data []byte) (json.Number, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("missing value")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return "", err
	}
	if bytes.ContainsAny([]byte(n), ".eE") {
		return "", fmt.Errorf("floats are forbidden: %s", n)
	}
	return n, nil
}
