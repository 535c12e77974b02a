package value

import (
	"github.com/dzearing/ai-experiments-sub014/errors"
)

// Get traverses nested objects by successive path segments. ok is false when
// any intermediate segment is absent or the value at that hop is not an
// object. Get never fails on a missing path.
func Get(v Value, path Path) (Value, bool) {
	current := v
	for _, segment := range path {
		child, ok := current.Field(segment)
		if !ok {
			return Value{}, false
		}
		current = child
	}
	if current.IsAbsent() {
		return Value{}, false
	}
	return current, true
}

// Set returns a structurally new value with newValue placed at path. All
// objects along the path are shallow-copied; unrelated siblings are shared
// with the input by reference. Non-object hops (including absent ones) are
// replaced by fresh objects so the path always materializes.
//
// Setting at the empty path has no location to write and fails with
// ErrInvalidPath.
func Set(v Value, path Path, newValue Value) (Value, error) {
	if len(path) == 0 {
		return Value{}, errors.WrapInvalid(errors.ErrInvalidPath,
			"value", "Set", "empty path has no location")
	}
	return setRec(v, path, newValue), nil
}

func setRec(v Value, path Path, newValue Value) Value {
	fields := copyFields(v)
	if len(path) == 1 {
		fields[path[0]] = newValue
		return Object(fields)
	}
	fields[path[0]] = setRec(v.fieldOrAbsent(path[0]), path[1:], newValue)
	return Object(fields)
}

// Delete returns a new value with the entry at path removed. Deleting at the
// empty path removes everything and yields the absent value. Deleting a path
// whose final segment is missing is an idempotent no-op that still produces
// a copied ancestor chain.
func Delete(v Value, path Path) Value {
	if len(path) == 0 {
		return Value{}
	}
	return deleteRec(v, path)
}

func deleteRec(v Value, path Path) Value {
	if v.kind != KindObject {
		// Nothing at this hop, so nothing to delete
		return v
	}
	fields := copyFields(v)
	if len(path) == 1 {
		delete(fields, path[0])
		return Object(fields)
	}
	child, ok := v.Field(path[0])
	if !ok {
		// Missing intermediate segment: nothing deeper to delete
		return Object(fields)
	}
	fields[path[0]] = deleteRec(child, path[1:])
	return Object(fields)
}

func (v Value) fieldOrAbsent(name string) Value {
	child, _ := v.Field(name)
	return child
}

// copyFields shallow-copies an object's field map; for any other kind it
// starts a fresh map, discarding the previous value at that hop.
func copyFields(v Value) map[string]Value {
	if v.kind != KindObject {
		return map[string]Value{}
	}
	out := make(map[string]Value, len(v.obj))
	for k, child := range v.obj {
		out[k] = child
	}
	return out
}
