// Package syncer bridges the abstract delta channel to the local state bus.
// It receives versioned deltas for named resources, gates them through the
// version tracker, resynchronizes from the snapshot store on version gaps,
// and republishes reconciled values onto the bus at each resource's mount
// path.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dzearing/ai-experiments-sub014/bus"
	"github.com/dzearing/ai-experiments-sub014/delta"
	"github.com/dzearing/ai-experiments-sub014/errors"
	"github.com/dzearing/ai-experiments-sub014/metric"
	"github.com/dzearing/ai-experiments-sub014/natsclient"
	"github.com/dzearing/ai-experiments-sub014/pkg/retry"
	"github.com/dzearing/ai-experiments-sub014/value"
	"github.com/dzearing/ai-experiments-sub014/version"
)

// Config assembles a Syncer's collaborators. Bus, Tracker, and Snapshots
// are required; Client may be nil when deltas are fed in directly through
// HandleDelta (for example from a different transport).
type Config struct {
	Bus           *bus.Bus
	Tracker       *version.Tracker
	Snapshots     SnapshotStore
	Client        *natsclient.Client
	SubjectPrefix string
	Logger        *slog.Logger
	Metrics       *metric.Metrics
	RetryConfig   retry.Config
}

// Syncer reconciles incoming deltas against per-resource versioned state.
// One Syncer serves one bus.
type Syncer struct {
	mu     sync.Mutex
	states map[string]version.State
	mounts map[string]value.Path

	tracker   *version.Tracker
	bus       *bus.Bus
	snapshots SnapshotStore
	client    *natsclient.Client
	prefix    string
	logger    *slog.Logger
	metrics   *metric.Metrics
	retryCfg  retry.Config
}

// New creates a Syncer from config.
func New(cfg Config) (*Syncer, error) {
	if cfg.Bus == nil || cfg.Tracker == nil || cfg.Snapshots == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Syncer", "New", "bus, tracker, and snapshot store are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "statebus"
	}
	retryCfg := cfg.RetryConfig
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.Quick()
	}
	return &Syncer{
		states:    make(map[string]version.State),
		mounts:    make(map[string]value.Path),
		tracker:   cfg.Tracker,
		bus:       cfg.Bus,
		snapshots: cfg.Snapshots,
		client:    cfg.Client,
		prefix:    prefix,
		logger:    logger,
		metrics:   cfg.Metrics,
		retryCfg:  retryCfg,
	}, nil
}

// Mount binds a resource key to a bus path. Reconciled values for the
// resource are published at that path.
func (s *Syncer) Mount(key string, path value.Path) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Syncer", "Mount", "key validation")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounts[key] = path.Clone()
	return nil
}

// DeltaSubject returns the NATS subject carrying deltas for a resource key.
func (s *Syncer) DeltaSubject(key string) string {
	return fmt.Sprintf("%s.delta.%s", s.prefix, key)
}

// HandleDelta decodes and reconciles one delta for a mounted resource.
// Stale deltas are dropped silently (logged by the tracker); version gaps
// trigger a snapshot fetch with retry. On progress the reconciled value is
// published onto the bus.
func (s *Syncer) HandleDelta(ctx context.Context, key string, raw []byte) error {
	s.mu.Lock()
	path, mounted := s.mounts[key]
	if !mounted {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrResourceNotMounted, key),
			"Syncer", "HandleDelta", "mount lookup")
	}

	var d delta.Delta
	if err := json.Unmarshal(raw, &d); err != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(err, "Syncer", "HandleDelta", "decode delta for "+key)
	}

	state, ok := s.states[key]
	if !ok {
		state = version.NewState(value.Absent())
	}

	start := time.Now()
	next, outcome, err := s.tracker.ApplyDelta(key, state, d)
	s.observeApply(key, outcome, time.Since(start))
	if err != nil {
		s.mu.Unlock()
		return err
	}

	switch outcome {
	case version.OutcomeApplied:
		s.states[key] = next
		s.mu.Unlock()
		return s.bus.Publish(path, next.Data)
	case version.OutcomeGap:
		s.mu.Unlock()
		return s.Resync(ctx, key)
	default:
		s.mu.Unlock()
		return nil
	}
}

// Resync replaces the resource's state from the snapshot store, retrying
// transient fetch failures, and publishes the result onto the bus.
func (s *Syncer) Resync(ctx context.Context, key string) error {
	s.mu.Lock()
	path, mounted := s.mounts[key]
	s.mu.Unlock()
	if !mounted {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrResourceNotMounted, key),
			"Syncer", "Resync", "mount lookup")
	}

	rec, err := retry.DoWithResult(ctx, s.retryCfg, func() (snapshotRecord, error) {
		data, ver, fetchErr := s.snapshots.Fetch(ctx, key)
		if fetchErr != nil && !errors.IsTransient(fetchErr) {
			return snapshotRecord{}, retry.NonRetryable(fetchErr)
		}
		return snapshotRecord{Data: data, Version: ver}, fetchErr
	})
	if err != nil {
		s.observeSnapshot(key, "error")
		return errors.WrapTransient(err, "Syncer", "Resync", "fetch snapshot for "+key)
	}

	s.mu.Lock()
	state := s.tracker.ApplySnapshot(key, rec.Data, rec.Version)
	s.states[key] = state
	s.mu.Unlock()

	s.observeSnapshot(key, "ok")
	s.logger.Info("resynchronized from snapshot", "resource", key, "version", rec.Version)
	return s.bus.Publish(path, state.Data)
}

// ApplySnapshot accepts an out-of-band snapshot push for a mounted resource
// and publishes it onto the bus.
func (s *Syncer) ApplySnapshot(key string, data value.Value, snapVersion int64) error {
	s.mu.Lock()
	path, mounted := s.mounts[key]
	if !mounted {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrResourceNotMounted, key),
			"Syncer", "ApplySnapshot", "mount lookup")
	}
	state := s.tracker.ApplySnapshot(key, data, snapVersion)
	s.states[key] = state
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TrackedResources.Set(float64(s.tracker.Len()))
	}
	return s.bus.Publish(path, state.Data)
}

// State returns the current versioned state for a resource key.
func (s *Syncer) State(key string) (version.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[key]
	return state, ok
}

// Run subscribes to the delta subject of every mounted resource and
// dispatches incoming deltas until ctx is cancelled. Requires a NATS client.
func (s *Syncer) Run(ctx context.Context) error {
	if s.client == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Syncer", "Run", "nats client required")
	}

	s.mu.Lock()
	keys := make([]string, 0, len(s.mounts))
	for key := range s.mounts {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	subs := make([]*nats.Subscription, 0, len(keys))
	for _, key := range keys {
		key := key
		sub, err := s.client.Subscribe(s.DeltaSubject(key), func(msg *nats.Msg) {
			if err := s.HandleDelta(ctx, key, msg.Data); err != nil {
				s.logger.Error("delta handling failed", "resource", key, "error", err)
			}
		})
		if err != nil {
			for _, prev := range subs {
				_ = prev.Unsubscribe()
			}
			return errors.Wrap(err, "Syncer", "Run", "subscribe "+key)
		}
		subs = append(subs, sub)
		s.logger.Info("listening for deltas", "resource", key, "subject", s.DeltaSubject(key))
	}

	<-ctx.Done()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	return ctx.Err()
}

func (s *Syncer) observeApply(key string, outcome version.Outcome, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.DeltasTotal.WithLabelValues(key, outcome.String()).Inc()
	s.metrics.ApplyDuration.Observe(elapsed.Seconds())
	s.metrics.TrackedResources.Set(float64(s.tracker.Len()))
}

func (s *Syncer) observeSnapshot(key, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SnapshotFetches.WithLabelValues(key, result).Inc()
}
