package value

import (
	"encoding/json"
	"fmt"
	"sort"
)

// MarshalJSON encodes the value as plain JSON. The absent value encodes as
// null; round-tripping therefore collapses absent into explicit null.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toAny())
}

// UnmarshalJSON decodes plain JSON into the tagged representation. Numbers
// decode as float64 and null decodes to the explicit null variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// FromAny converts a decoded-JSON Go value (nil, bool, float64, string,
// []any, map[string]any) into a Value. Integer types are accepted and
// widened to float64.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("value: bad number %q: %w", x.String(), err)
		}
		return Number(f), nil
	case string:
		return String(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			decoded, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = decoded
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			decoded, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = decoded
		}
		return Object(fields), nil
	default:
		return Value{}, fmt.Errorf("value: unsupported type %T", raw)
	}
}

func (v Value) toAny() any {
	switch v.kind {
	case KindAbsent, KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		items := make([]any, len(v.arr))
		for i, item := range v.arr {
			items[i] = item.toAny()
		}
		return items
	case KindObject:
		fields := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			fields[k] = item.toAny()
		}
		return fields
	default:
		return nil
	}
}

// String renders the value as compact JSON for logs and debugging. Object
// keys are sorted so output is deterministic.
func (v Value) String() string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<value %s>", v.kind)
	}
	return string(data)
}

// Keys returns an object's field names in sorted order; nil for other kinds.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
