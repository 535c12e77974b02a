package syncer

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/dzearing/ai-experiments-sub014/errors"
	"github.com/dzearing/ai-experiments-sub014/value"
)

// SnapshotStore supplies full snapshots (value plus explicit version) for a
// resource key, used to resynchronize after a version gap.
type SnapshotStore interface {
	Fetch(ctx context.Context, key string) (value.Value, int64, error)
	Store(ctx context.Context, key string, data value.Value, version int64) error
}

// snapshotRecord is the stored wire form of one snapshot.
type snapshotRecord struct {
	Data    value.Value `json:"data"`
	Version int64       `json:"version"`
}

// KVSnapshotStore keeps snapshots in a JetStream key-value bucket, one key
// per resource.
type KVSnapshotStore struct {
	bucket jetstream.KeyValue
}

// NewKVSnapshotStore wraps a JetStream KV bucket as a snapshot store.
func NewKVSnapshotStore(bucket jetstream.KeyValue) (*KVSnapshotStore, error) {
	if bucket == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"KVSnapshotStore", "NewKVSnapshotStore", "bucket validation")
	}
	return &KVSnapshotStore{bucket: bucket}, nil
}

// Fetch loads the snapshot for key. A missing key maps to
// ErrSnapshotUnavailable so callers can retry or surface it as transient.
func (s *KVSnapshotStore) Fetch(ctx context.Context, key string) (value.Value, int64, error) {
	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return value.Value{}, 0, errors.WrapTransient(errors.ErrSnapshotUnavailable,
				"KVSnapshotStore", "Fetch", "lookup "+key)
		}
		return value.Value{}, 0, errors.WrapTransient(err, "KVSnapshotStore", "Fetch", "get from KV")
	}

	var rec snapshotRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return value.Value{}, 0, errors.WrapInvalid(err, "KVSnapshotStore", "Fetch", "unmarshal snapshot")
	}
	return rec.Data, rec.Version, nil
}

// Store writes the snapshot for key (last writer wins).
func (s *KVSnapshotStore) Store(ctx context.Context, key string, data value.Value, version int64) error {
	payload, err := json.Marshal(snapshotRecord{Data: data, Version: version})
	if err != nil {
		return errors.WrapFatal(err, "KVSnapshotStore", "Store", "marshal snapshot")
	}
	if _, err := s.bucket.Put(ctx, key, payload); err != nil {
		return errors.WrapTransient(err, "KVSnapshotStore", "Store", "put to KV")
	}
	return nil
}
