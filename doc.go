// Package statebus provides a path-addressable, versioned publish/subscribe
// state store. Producers publish immutable values at hierarchical paths,
// consumers subscribe to exact paths, and remote resources stay consistent
// through version-gated deltas with snapshot recovery.
//
// # Architecture
//
// State flows through three cooperating layers:
//
//	┌─────────────────────────────────────┐
//	│           Gateway (WebSocket)       │  Fan-out to UI consumers
//	└─────────────────────────────────────┘
//	           ↑ notified by
//	┌─────────────────────────────────────┐
//	│           Bus (in-process)          │  Paths, subscribers,
//	│   publish / subscribe / providers   │  provider activation
//	└─────────────────────────────────────┘
//	           ↑ published by
//	┌─────────────────────────────────────┐
//	│           Syncer (NATS)             │  Delta subjects, version
//	│   deltas / snapshots / resync       │  gating, JetStream KV
//	└─────────────────────────────────────┘
//
// # Packages
//
// Core:
//   - value: immutable tagged values and path operations
//   - delta: ordered set/delete/merge operation batches
//   - version: per-resource version tracking and delta gating
//   - bus: the in-process data bus
//
// Infrastructure:
//   - natsclient: NATS connection management
//   - syncer: delta ingestion and snapshot resync over NATS
//   - gateway: WebSocket fan-out of bus state
//   - config: daemon configuration loading and validation
//   - metric: Prometheus metrics
//   - errors: structured error handling
//
// # Usage
//
// Basic in-process use:
//
//	b := bus.New(logger, metrics)
//	disposer, _ := b.Subscribe(value.P("devices", "cam1"), func(v value.Value) {
//	    // react to the new value
//	})
//	defer disposer()
//
//	b.Publish(value.P("devices", "cam1"), value.String("online"))
//
// Remote resources are mounted through the syncer, which applies versioned
// deltas from NATS subjects and falls back to JetStream KV snapshots when a
// version gap is detected.
//
// # Binary
//
// The statebusd daemon wires all layers together:
//
//	./bin/statebusd --config configs/statebus.json
//	./bin/statebusd --validate --config configs/statebus.json
package statebus
