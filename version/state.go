package version

import (
	"time"

	"github.com/dzearing/ai-experiments-sub014/delta"
	"github.com/dzearing/ai-experiments-sub014/errors"
	"github.com/dzearing/ai-experiments-sub014/value"
)

// Outcome classifies what ApplyDelta did with a delta.
type Outcome int

const (
	// OutcomeApplied means the delta advanced the state
	OutcomeApplied Outcome = iota
	// OutcomeStale means the delta was already applied and dropped
	OutcomeStale
	// OutcomeGap means a version gap blocked application; resync via snapshot
	OutcomeGap
	// OutcomeInvalid means the delta itself was rejected with an error
	OutcomeInvalid
)

// String returns the outcome label, matching the metric outcome values.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeStale:
		return "stale"
	case OutcomeGap:
		return "gap"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// State couples a value with its version and last-update time. States are
// never mutated in place: every successful application produces a new State
// and the caller replaces its reference.
type State struct {
	Data        value.Value
	Version     int64
	LastUpdated time.Time
}

// NewState creates a state at version 0 with an initial value.
func NewState(initial value.Value) State {
	return State{Data: initial, Version: 0, LastUpdated: time.Now()}
}

// SnapshotState creates a state from a full snapshot carrying an explicit
// version, as delivered by the transport after a version gap.
func SnapshotState(data value.Value, version int64) State {
	return State{Data: data, Version: version, LastUpdated: time.Now()}
}

// ApplyDelta is the single entry point that combines the tracker's decision
// with delta application for the resource identified by key.
//
// Stale deltas (version not above the tracked one) and version gaps (base
// version mismatch) are not errors: the input state is returned unchanged
// with the corresponding outcome, and a warning is logged so the two cases
// stay distinguishable. On a gap the caller must request a snapshot out of
// band. Only structurally invalid deltas or failing operations return an
// error.
func (t *Tracker) ApplyDelta(key string, s State, d delta.Delta) (State, Outcome, error) {
	if err := d.Validate(); err != nil {
		return s, OutcomeInvalid, errors.Wrap(err, "Tracker", "ApplyDelta", "validate delta")
	}

	if !t.ShouldApply(key, d) {
		t.logger.Warn("dropping stale delta",
			"resource", key,
			"delta_version", d.Version,
			"tracked_version", t.Version(key))
		return s, OutcomeStale, nil
	}

	if t.HasGap(key, d) {
		t.logger.Warn("version gap detected, snapshot required",
			"resource", key,
			"delta_base", d.BaseVersion,
			"tracked_version", t.Version(key))
		return s, OutcomeGap, nil
	}

	data, err := delta.Apply(s.Data, d)
	if err != nil {
		return s, OutcomeInvalid, errors.Wrap(err, "Tracker", "ApplyDelta", "apply operations")
	}

	t.SetVersion(key, d.Version)
	return State{
		Data:        data,
		Version:     d.Version,
		LastUpdated: time.Now(),
	}, OutcomeApplied, nil
}

// ApplySnapshot replaces the state for key with a full snapshot and records
// its version in the tracker.
func (t *Tracker) ApplySnapshot(key string, data value.Value, snapVersion int64) State {
	t.SetVersion(key, snapVersion)
	return SnapshotState(data, snapVersion)
}
