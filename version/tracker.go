// Package version tracks the last-applied version per resource key and
// gates delta application on it. The tracker is the single source of truth
// for version decisions: stale deltas are dropped, version gaps block
// application until a full snapshot resynchronizes the resource.
package version

import (
	"log/slog"
	"sync"

	"github.com/dzearing/ai-experiments-sub014/delta"
)

// Tracker is a bus-wide mapping from resource key to the last-applied
// version number. Keys default to version 0 until first set. Construct with
// NewTracker; there is deliberately no package-level instance.
type Tracker struct {
	mu       sync.Mutex
	versions map[string]int64
	logger   *slog.Logger
}

// NewTracker creates an empty tracker. A nil logger falls back to
// slog.Default().
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		versions: make(map[string]int64),
		logger:   logger,
	}
}

// Version returns the last applied version for key, defaulting to 0 for
// keys never seen.
func (t *Tracker) Version(key string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.versions[key]
}

// SetVersion unconditionally overwrites the tracked version for key. Used
// after snapshot application.
func (t *Tracker) SetVersion(key string, version int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.versions[key] = version
}

// ShouldApply reports whether d advances key: true iff d.Version exceeds
// the tracked version. Equal or lower versions are already applied and must
// be dropped, which makes replays idempotent.
func (t *Tracker) ShouldApply(key string, d delta.Delta) bool {
	return d.Version > t.Version(key)
}

// HasGap reports whether one or more deltas were missed for key: true iff
// d.BaseVersion differs from the tracked version. Applying on top of a
// mismatched base would silently corrupt the value, so the caller must
// resynchronize via a full snapshot instead.
func (t *Tracker) HasGap(key string, d delta.Delta) bool {
	return d.BaseVersion != t.Version(key)
}

// Clear drops tracking for key; the next delta for it is evaluated against
// version 0.
func (t *Tracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.versions, key)
}

// ClearAll drops all tracking, resetting the whole sync session.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.versions = make(map[string]int64)
}

// Len returns the number of tracked resource keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.versions)
}
