// Package value defines the recursive tagged value type the state bus stores,
// plus structural path operations over it. Values are treated as immutable:
// every mutation helper returns a new value and shares unchanged subtrees
// with the original.
package value

// Kind identifies the variant a Value holds.
type Kind int

const (
	// KindAbsent is the zero Value: no value at all. Distinct from KindNull,
	// which is an explicit JSON null.
	KindAbsent Kind = iota
	// KindNull is an explicit null value
	KindNull
	// KindBool is a boolean value
	KindBool
	// KindNumber is a floating-point number (all JSON numbers decode here)
	KindNumber
	// KindString is a string value
	KindString
	// KindArray is an ordered list of values
	KindArray
	// KindObject is a string-keyed map of values
	KindObject
)

// String returns a string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a hierarchical JSON-shaped value. The zero Value is absent.
// Callers must not mutate the maps or slices reachable from a Value;
// structural sharing between values depends on it.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// Absent returns the absent value (same as the zero Value).
func Absent() Value { return Value{} }

// Null returns an explicit null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array value holding the given items.
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: items}
}

// Object returns an object value holding the given fields. The map is
// owned by the returned value and must not be mutated afterwards.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

// Kind returns the variant this value holds.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the value is absent (the zero Value).
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsBool returns the boolean payload; ok is false for other kinds.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric payload; ok is false for other kinds.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string payload; ok is false for other kinds.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// Items returns the array payload; nil for other kinds. The returned slice
// must not be mutated.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Fields returns the object payload; nil for other kinds. The returned map
// must not be mutated.
func (v Value) Fields() map[string]Value {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Field returns the named field of an object value; ok is false when the
// value is not an object or the field is missing.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	child, ok := v.obj[name]
	return child, ok
}

// Equal reports deep structural equality between two values.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindAbsent, KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
