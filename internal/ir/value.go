package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the field value variants carried in
// changed_fields. Only Null, Absent, String, Int, Bool, and Object
// implement it. There is no float variant: numeric fields on both stores
// are integer codes.
type Value interface {
	value() // sealed
}

// Null is an explicit clear. The target field is set to null/empty.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Absent marks a field (or composite part) that carries no data.
// It is never serialized: objects drop Absent entries, so a missing
// postal code can never be confused with a blank one.
type Absent struct{}

func (Absent) value() {}

// String is a text value.
type String string

func (String) value() {}

// Int is an integer value. Registry enum codes travel as Int.
type Int int64

func (Int) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// Object maps keys to values. Used both for logical field sets and for
// nested portal fragments. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// IsAbsent reports whether v carries no data.
func IsAbsent(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Absent)
	return ok
}

// Kind returns a short name for the variant, used in validation messages.
func Kind(v Value) string {
	switch v.(type) {
	case nil, Absent:
		return "absent"
	case Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings orders by UTF-8 bytes, which differs outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// Clone returns a deep copy of obj.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		if nested, ok := v.(Object); ok {
			out[k] = nested.Clone()
			continue
		}
		out[k] = v
	}
	return out
}

// Lookup follows a dotted path ("profile.address.city") through nested
// objects. Returns Absent when any segment is missing.
func (obj Object) Lookup(path string) Value {
	var cur Value = obj
	for _, seg := range strings.Split(path, ".") {
		o, ok := cur.(Object)
		if !ok {
			return Absent{}
		}
		v, ok := o[seg]
		if !ok {
			return Absent{}
		}
		cur = v
	}
	return cur
}

// Set writes v at a dotted path, creating intermediate objects.
// Absent values are not written.
func (obj Object) Set(path string, v Value) {
	if IsAbsent(v) {
		return
	}
	segs := strings.Split(path, ".")
	cur := obj
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(Object)
		if !ok {
			next = Object{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

// Merge deep-merges src into obj. Nested objects merge key by key;
// any other value in src replaces the value in obj.
func (obj Object) Merge(src Object) {
	for k, v := range src {
		if IsAbsent(v) {
			continue
		}
		if srcObj, ok := v.(Object); ok {
			if dstObj, ok := obj[k].(Object); ok {
				dstObj.Merge(srcObj)
				continue
			}
			obj[k] = srcObj.Clone()
			continue
		}
		obj[k] = v
	}
}

// compareKeysRFC8785 compares strings by UTF-16 code units.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// UnmarshalJSON implements json.Unmarshaler for Object.
// Floats and arrays are rejected; nested nulls decode to Null, a
// top-level null leaves the object nil.
func (obj *Object) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*obj = nil
		return nil
	}
	v, err := UnmarshalValue(data)
	if err != nil {
		return err
	}
	o, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected JSON object, got %s", Kind(v))
	}
	*obj = o
	return nil
}

// MarshalJSON implements json.Marshaler for Object with RFC 8785 key
// ordering. Absent entries are dropped. This is not the hashing form;
// use MarshalCanonical for content hashes.
func (obj Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	first := true
	for _, k := range obj.SortedKeys() {
		v := obj[k]
		if IsAbsent(v) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalValue marshals a Value to JSON bytes.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Object:
		return val.MarshalJSON()
	case Absent, nil:
		return nil, fmt.Errorf("absent value cannot be serialized")
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// UnmarshalValue decodes JSON into a Value. Floats and arrays are rejected.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// FromAny converts decoded JSON or YAML data into a Value.
// Integral numbers become Int; fractional numbers and lists are rejected.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint:
		return fromUint(uint64(val))
	case uint64:
		return fromUint(val)
	case float32:
		return FromAny(float64(val))
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("floats are not allowed: %v", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = ev
		}
		return obj, nil
	case []any:
		return nil, fmt.Errorf("arrays are not allowed in field values")
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("number out of int64 range: %d", u)
	}
	return Int(int64(u)), nil
}

// ToAny converts a Value back to plain Go data (map[string]any, string,
// int64, bool, nil). Absent entries are dropped.
func ToAny(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			if IsAbsent(elem) {
				continue
			}
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}
