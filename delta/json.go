package delta

import (
	"encoding/json"
	"fmt"

	"github.com/dzearing/ai-experiments-sub014/errors"
	"github.com/dzearing/ai-experiments-sub014/value"
)

// Wire shapes. Operations use a "kind" discriminator; optional fields are
// omitted for kinds that do not carry them.

type opWire struct {
	Kind    OpKind       `json:"kind"`
	Path    []string     `json:"path"`
	Value   *value.Value `json:"value,omitempty"`
	Partial *value.Value `json:"partial,omitempty"`
}

type deltaWire struct {
	Version     int64    `json:"version"`
	BaseVersion int64    `json:"baseVersion"`
	Timestamp   int64    `json:"timestamp"`
	Ops         []opWire `json:"operations"`
}

func (op Op) wire() opWire {
	w := opWire{Kind: op.Kind, Path: op.Path}
	if w.Path == nil {
		w.Path = []string{}
	}
	switch op.Kind {
	case OpSet:
		v := op.Value
		w.Value = &v
	case OpMerge:
		p := op.Partial
		w.Partial = &p
	}
	return w
}

// MarshalJSON encodes the operation with its kind discriminator.
func (op Op) MarshalJSON() ([]byte, error) {
	return json.Marshal(op.wire())
}

// UnmarshalJSON decodes a tagged operation. Unknown kinds are rejected so a
// transport cannot smuggle operations this engine would silently drop.
func (op *Op) UnmarshalJSON(data []byte) error {
	var w opWire
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.WrapInvalid(err, "delta", "UnmarshalJSON", "decode operation")
	}
	decoded := Op{Kind: w.Kind, Path: value.Path(w.Path)}
	switch w.Kind {
	case OpSet:
		if w.Value != nil {
			decoded.Value = *w.Value
		} else {
			decoded.Value = value.Null()
		}
	case OpDelete:
	case OpMerge:
		if w.Partial != nil {
			decoded.Partial = *w.Partial
		} else {
			decoded.Partial = value.Null()
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownOperation, w.Kind),
			"delta", "UnmarshalJSON", "operation kind check")
	}
	*op = decoded
	return nil
}

// MarshalJSON encodes the delta in its wire form.
func (d Delta) MarshalJSON() ([]byte, error) {
	ops := make([]opWire, 0, len(d.Ops))
	for _, op := range d.Ops {
		ops = append(ops, op.wire())
	}
	return json.Marshal(deltaWire{
		Version:     d.Version,
		BaseVersion: d.BaseVersion,
		Timestamp:   d.Timestamp,
		Ops:         ops,
	})
}

// UnmarshalJSON decodes and validates a delta from its wire form.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var w struct {
		Version     int64             `json:"version"`
		BaseVersion int64             `json:"baseVersion"`
		Timestamp   int64             `json:"timestamp"`
		Ops         []json.RawMessage `json:"operations"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.WrapInvalid(err, "delta", "UnmarshalJSON", "decode delta")
	}
	decoded := Delta{
		Version:     w.Version,
		BaseVersion: w.BaseVersion,
		Timestamp:   w.Timestamp,
	}
	if len(w.Ops) > 0 {
		decoded.Ops = make([]Op, len(w.Ops))
		for i, raw := range w.Ops {
			if err := decoded.Ops[i].UnmarshalJSON(raw); err != nil {
				return err
			}
		}
	}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*d = decoded
	return nil
}
