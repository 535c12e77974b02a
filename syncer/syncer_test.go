package syncer

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dzearing/ai-experiments-sub014/bus"
	"github.com/dzearing/ai-experiments-sub014/delta"
	buserrors "github.com/dzearing/ai-experiments-sub014/errors"
	"github.com/dzearing/ai-experiments-sub014/pkg/retry"
	"github.com/dzearing/ai-experiments-sub014/value"
	"github.com/dzearing/ai-experiments-sub014/version"
)

// fakeSnapshots is an in-memory snapshot store with a controllable failure.
type fakeSnapshots struct {
	data     map[string]snapshotRecord
	fetches  int
	failWith error
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{data: make(map[string]snapshotRecord)}
}

func (f *fakeSnapshots) Fetch(_ context.Context, key string) (value.Value, int64, error) {
	f.fetches++
	if f.failWith != nil {
		return value.Value{}, 0, f.failWith
	}
	rec, ok := f.data[key]
	if !ok {
		return value.Value{}, 0, buserrors.ErrSnapshotUnavailable
	}
	return rec.Data, rec.Version, nil
}

func (f *fakeSnapshots) Store(_ context.Context, key string, data value.Value, ver int64) error {
	f.data[key] = snapshotRecord{Data: data, Version: ver}
	return nil
}

func newTestSyncer(t *testing.T, snaps SnapshotStore) (*Syncer, *bus.Bus) {
	t.Helper()
	b := bus.New(nil, nil)
	s, err := New(Config{
		Bus:         b,
		Tracker:     version.NewTracker(nil),
		Snapshots:   snaps,
		RetryConfig: retry.Config{MaxAttempts: 2, InitialDelay: 1, MaxDelay: 2},
	})
	require.NoError(t, err)
	return s, b
}

func mustJSON(t *testing.T, d delta.Delta) []byte {
	t.Helper()
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	return raw
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, buserrors.ErrMissingConfig)
}

func TestHandleDeltaUnmountedResource(t *testing.T) {
	s, _ := newTestSyncer(t, newFakeSnapshots())
	err := s.HandleDelta(context.Background(), "ghost", []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, buserrors.ErrResourceNotMounted)
}

func TestHandleDeltaAppliesAndPublishes(t *testing.T) {
	s, b := newTestSyncer(t, newFakeSnapshots())
	require.NoError(t, s.Mount("doc-1", value.P("docs", "doc-1")))

	var seen []value.Value
	_, err := b.Subscribe(value.P("docs", "doc-1"), func(v value.Value) { seen = append(seen, v) })
	require.NoError(t, err)

	d := delta.Delta{
		Version:     1,
		BaseVersion: 0,
		Ops:         []delta.Op{delta.Set(value.P("title"), value.String("Hello"))},
	}
	require.NoError(t, s.HandleDelta(context.Background(), "doc-1", mustJSON(t, d)))

	state, ok := s.State("doc-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), state.Version)

	require.Len(t, seen, 1)
	title, ok := value.Get(seen[0], value.P("title"))
	require.True(t, ok)
	assert.True(t, value.Equal(title, value.String("Hello")))

	// Bus cache agrees
	cached, ok := b.Data(value.P("docs", "doc-1"))
	require.True(t, ok)
	assert.True(t, value.Equal(cached, seen[0]))
}

func TestHandleDeltaStaleReplayDropped(t *testing.T) {
	s, b := newTestSyncer(t, newFakeSnapshots())
	require.NoError(t, s.Mount("doc-1", value.P("docs", "doc-1")))

	notifications := 0
	_, err := b.Subscribe(value.P("docs", "doc-1"), func(value.Value) { notifications++ })
	require.NoError(t, err)

	raw := mustJSON(t, delta.Delta{
		Version:     1,
		BaseVersion: 0,
		Ops:         []delta.Op{delta.Set(value.P("title"), value.String("Hello"))},
	})
	require.NoError(t, s.HandleDelta(context.Background(), "doc-1", raw))
	require.NoError(t, s.HandleDelta(context.Background(), "doc-1", raw))

	state, _ := s.State("doc-1")
	assert.Equal(t, int64(1), state.Version)
	assert.Equal(t, 1, notifications, "stale replay must not republish")
}

func TestHandleDeltaGapTriggersResync(t *testing.T) {
	snaps := newFakeSnapshots()
	s, b := newTestSyncer(t, snaps)
	require.NoError(t, s.Mount("doc-1", value.P("docs", "doc-1")))

	// Snapshot at version 5 waiting in the store
	snapData := value.Object(map[string]value.Value{"title": value.String("from-snapshot")})
	require.NoError(t, snaps.Store(context.Background(), "doc-1", snapData, 5))

	var seen []value.Value
	_, err := b.Subscribe(value.P("docs", "doc-1"), func(v value.Value) { seen = append(seen, v) })
	require.NoError(t, err)

	// Tracker is at 0; delta with base 3 has a gap
	raw := mustJSON(t, delta.Delta{
		Version:     4,
		BaseVersion: 3,
		Ops:         []delta.Op{delta.Set(value.P("title"), value.String("skipped"))},
	})
	require.NoError(t, s.HandleDelta(context.Background(), "doc-1", raw))

	assert.Equal(t, 1, snaps.fetches, "gap triggers exactly one snapshot fetch")

	state, ok := s.State("doc-1")
	require.True(t, ok)
	assert.Equal(t, int64(5), state.Version)
	require.Len(t, seen, 1)
	assert.True(t, value.Equal(seen[0], snapData))

	// Next contiguous delta applies on top of the snapshot
	raw = mustJSON(t, delta.Delta{
		Version:     6,
		BaseVersion: 5,
		Ops:         []delta.Op{delta.Set(value.P("title"), value.String("after-snap"))},
	})
	require.NoError(t, s.HandleDelta(context.Background(), "doc-1", raw))
	state, _ = s.State("doc-1")
	assert.Equal(t, int64(6), state.Version)
}

func TestResyncRetriesTransientFailures(t *testing.T) {
	snaps := newFakeSnapshots()
	snaps.failWith = buserrors.ErrSnapshotUnavailable
	s, _ := newTestSyncer(t, snaps)
	require.NoError(t, s.Mount("doc-1", value.P("docs", "doc-1")))

	err := s.Resync(context.Background(), "doc-1")
	require.Error(t, err)
	assert.Equal(t, 2, snaps.fetches, "transient failures are retried")
}

func TestResyncDoesNotRetryInvalid(t *testing.T) {
	snaps := newFakeSnapshots()
	snaps.failWith = buserrors.WrapInvalid(stderrors.New("corrupt"), "store", "Fetch", "unmarshal")
	s, _ := newTestSyncer(t, snaps)
	require.NoError(t, s.Mount("doc-1", value.P("docs", "doc-1")))

	err := s.Resync(context.Background(), "doc-1")
	require.Error(t, err)
	assert.Equal(t, 1, snaps.fetches)
}

func TestHandleDeltaRejectsMalformedPayload(t *testing.T) {
	s, _ := newTestSyncer(t, newFakeSnapshots())
	require.NoError(t, s.Mount("doc-1", value.P("docs", "doc-1")))

	err := s.HandleDelta(context.Background(), "doc-1", []byte(`{not json`))
	require.Error(t, err)
	assert.True(t, buserrors.IsInvalid(err))
}

func TestApplySnapshotOutOfBand(t *testing.T) {
	s, b := newTestSyncer(t, newFakeSnapshots())
	require.NoError(t, s.Mount("doc-1", value.P("docs", "doc-1")))

	data := value.Object(map[string]value.Value{"n": value.Number(1)})
	require.NoError(t, s.ApplySnapshot("doc-1", data, 9))

	state, ok := s.State("doc-1")
	require.True(t, ok)
	assert.Equal(t, int64(9), state.Version)

	cached, ok := b.Data(value.P("docs", "doc-1"))
	require.True(t, ok)
	assert.True(t, value.Equal(cached, data))

	err := s.ApplySnapshot("ghost", data, 1)
	assert.ErrorIs(t, err, buserrors.ErrResourceNotMounted)
}

func TestDeltaSubject(t *testing.T) {
	s, _ := newTestSyncer(t, newFakeSnapshots())
	assert.Equal(t, "statebus.delta.doc-1", s.DeltaSubject("doc-1"))
}

func TestRunRequiresClient(t *testing.T) {
	s, _ := newTestSyncer(t, newFakeSnapshots())
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, buserrors.ErrMissingConfig)
}

func TestMountValidation(t *testing.T) {
	s, _ := newTestSyncer(t, newFakeSnapshots())
	err := s.Mount("", value.P("x"))
	assert.Error(t, err)
}
