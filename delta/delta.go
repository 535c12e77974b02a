// Package delta defines the versioned delta record exchanged between
// processes and applies its path operations to a value. A delta carries an
// ordered set of operations plus the version metadata the tracker uses to
// decide whether it may be applied.
package delta

import (
	"fmt"

	"github.com/dzearing/ai-experiments-sub014/errors"
	"github.com/dzearing/ai-experiments-sub014/value"
)

// OpKind discriminates the operation union.
type OpKind string

const (
	// OpSet places a value at a path
	OpSet OpKind = "set"
	// OpDelete removes the entry at a path
	OpDelete OpKind = "delete"
	// OpMerge shallow-merges an object-shaped partial into the target
	OpMerge OpKind = "merge"
)

// Op is one path operation inside a delta. Value is used by set, Partial by
// merge; delete carries only the path.
type Op struct {
	Kind    OpKind
	Path    value.Path
	Value   value.Value
	Partial value.Value
}

// Set builds a set operation.
func Set(path value.Path, v value.Value) Op {
	return Op{Kind: OpSet, Path: path, Value: v}
}

// Delete builds a delete operation.
func Delete(path value.Path) Op {
	return Op{Kind: OpDelete, Path: path}
}

// Merge builds a merge operation.
func Merge(path value.Path, partial value.Value) Op {
	return Op{Kind: OpMerge, Path: path, Partial: partial}
}

// Delta transforms one resource version into the next. Version is the
// version the delta produces; BaseVersion is the version it expects to be
// applied on top of. Timestamp is unix milliseconds at the producer.
type Delta struct {
	Version     int64
	BaseVersion int64
	Timestamp   int64
	Ops         []Op
}

// Validate checks the delta's version metadata and operations.
func (d Delta) Validate() error {
	if d.Version <= d.BaseVersion {
		return errors.WrapInvalid(
			fmt.Errorf("%w: version %d, base %d", errors.ErrVersionedBackward, d.Version, d.BaseVersion),
			"delta", "Validate", "version ordering check")
	}
	for i, op := range d.Ops {
		switch op.Kind {
		case OpSet, OpDelete, OpMerge:
		default:
			return errors.WrapInvalid(
				fmt.Errorf("%w: %q at index %d", errors.ErrUnknownOperation, op.Kind, i),
				"delta", "Validate", "operation kind check")
		}
	}
	return nil
}

// Apply applies the delta's operations to v in list order and returns the
// resulting value. Order is part of the delta's meaning: later operations
// overwrite earlier ones at overlapping paths. An empty operation list
// returns v unchanged.
func Apply(v value.Value, d Delta) (value.Value, error) {
	current := v
	for i, op := range d.Ops {
		next, err := applyOp(current, op)
		if err != nil {
			return value.Value{}, errors.Wrap(err, "delta", "Apply",
				fmt.Sprintf("operation %d (%s at %s)", i, op.Kind, op.Path))
		}
		current = next
	}
	return current, nil
}

func applyOp(v value.Value, op Op) (value.Value, error) {
	switch op.Kind {
	case OpSet:
		return value.Set(v, op.Path, op.Value)
	case OpDelete:
		return value.Delete(v, op.Path), nil
	case OpMerge:
		return applyMerge(v, op)
	default:
		return value.Value{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownOperation, op.Kind),
			"delta", "applyOp", "operation dispatch")
	}
}

// applyMerge shallow-merges an object partial into the object at op.Path;
// partial fields win. When either side is not an object the partial replaces
// the target wholesale. Merging at the root path replaces/merges the whole
// value, which is the one operation allowed on an empty path.
func applyMerge(v value.Value, op Op) (value.Value, error) {
	target, _ := value.Get(v, op.Path)
	merged := mergeValues(target, op.Partial)
	if op.Path.IsRoot() {
		return merged, nil
	}
	return value.Set(v, op.Path, merged)
}

func mergeValues(target, partial value.Value) value.Value {
	if target.Kind() != value.KindObject || partial.Kind() != value.KindObject {
		return partial
	}
	fields := make(map[string]value.Value, len(target.Fields())+len(partial.Fields()))
	for k, fv := range target.Fields() {
		fields[k] = fv
	}
	for k, fv := range partial.Fields() {
		fields[k] = fv
	}
	return value.Object(fields)
}
