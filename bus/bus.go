// Package bus implements the path-addressable publish/subscribe store used
// to synchronize hierarchical application state between producers and
// consumers. Values live in a lazily-built node tree; providers registered
// at a path can intercept publishes and are activated only while the path
// has subscribers.
package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dzearing/ai-experiments-sub014/errors"
	"github.com/dzearing/ai-experiments-sub014/metric"
	"github.com/dzearing/ai-experiments-sub014/value"
)

// SubscriberFunc receives the new value on every publish at the subscribed
// path. Callbacks run synchronously on the publishing goroutine, after the
// node's state has settled; re-entrant publishes from inside a callback are
// supported.
type SubscriberFunc func(v value.Value)

// Bus is the public surface of the data store. All methods are safe for
// concurrent use; the tree is guarded by a single lock that is never held
// while subscriber or provider callbacks run.
type Bus struct {
	mu       sync.Mutex
	root     *node
	disposed bool
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// New creates an empty bus. logger may be nil (falls back to slog.Default())
// and metrics may be nil (metrics disabled).
func New(logger *slog.Logger, metrics *metric.Metrics) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		root:    newNode(),
		logger:  logger,
		metrics: metrics,
	}
}

// Publish places a value at path. Providers registered at that exact path
// intercept in registration order: each may replace the value, and its
// output feeds the next. OldValue is fixed from before any provider ran.
// After interception the node's value is replaced and subscribers at the
// exact path are notified synchronously with the final value.
//
// Notification is deliberately restricted to exact-path subscribers;
// callers wanting ancestor or descendant fan-out re-publish at those paths.
func (b *Bus) Publish(path value.Path, v value.Value) error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return errors.WrapFatal(errors.ErrBusDisposed, "Bus", "Publish", "disposed check")
	}
	n := b.root.ensure(path)
	oldValue := n.value
	chain := make([]Interceptor, 0, len(n.providers))
	for _, rp := range n.providers {
		if ic, ok := rp.provider.(Interceptor); ok {
			chain = append(chain, ic)
		}
	}
	b.mu.Unlock()

	// Interceptor chain runs outside the lock; interceptors may re-enter
	// the bus.
	final := v
	for _, ic := range chain {
		if replacement, replaced := ic.OnPublish(PublishEvent{
			Path:     path,
			Value:    final,
			OldValue: oldValue,
			Bus:      b,
		}); replaced {
			final = replacement
		}
	}

	b.mu.Lock()
	// A publish in flight when Dispose began is allowed to complete.
	n.value = final
	n.hasValue = true
	subscribers := n.snapshotSubscribers()
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.PublishesTotal.WithLabelValues(path.String()).Inc()
	}

	for _, fn := range subscribers {
		fn(final)
	}
	if b.metrics != nil && len(subscribers) > 0 {
		b.metrics.NotificationsTotal.WithLabelValues(path.String()).Add(float64(len(subscribers)))
	}
	return nil
}

// Subscribe registers callback at path, creating intermediate nodes as
// needed. Subscribing does not replay the current value. The returned
// disposer removes exactly this subscription; calling it again is a no-op.
//
// Each subscribe call increments the path's activation count by one; the
// 0-to-1 transition activates every Activatable provider at the path, once
// per provider.
func (b *Bus) Subscribe(path value.Path, callback SubscriberFunc) (func(), error) {
	if callback == nil {
		return nil, errors.WrapInvalid(errors.ErrNilCallback, "Bus", "Subscribe", "callback check")
	}

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil, errors.WrapFatal(errors.ErrBusDisposed, "Bus", "Subscribe", "disposed check")
	}
	n := b.root.ensure(path)
	id := uuid.NewString()
	n.subscribers[id] = callback
	n.activations++
	toActivate := b.markActivatedLocked(n)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.Subscriptions.Inc()
	}
	b.fireActivation(toActivate)

	var once sync.Once
	disposer := func() {
		once.Do(func() { b.unsubscribe(path, id) })
	}
	return disposer, nil
}

func (b *Bus) unsubscribe(path value.Path, id string) {
	b.mu.Lock()
	if b.disposed {
		// Dispose already released everything
		b.mu.Unlock()
		return
	}
	n, ok := b.root.lookup(path)
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, exists := n.subscribers[id]; !exists {
		b.mu.Unlock()
		return
	}
	delete(n.subscribers, id)
	n.activations--
	toDeactivate := b.markDeactivatedLocked(n)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.Subscriptions.Dec()
	}
	b.fireDeactivation(toDeactivate)
}

// Data is a pure read of the current node value at path: no side effects,
// no node creation, no provider interaction.
func (b *Bus) Data(path value.Path) (value.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.root.lookup(path)
	if !ok || !n.hasValue {
		return value.Value{}, false
	}
	return n.value, true
}

// AddProvider appends the provider to the node at its path, preserving
// registration order; order determines interception order on publish. A
// provider registered at a path that already has subscribers is activated
// immediately.
func (b *Bus) AddProvider(p Provider) error {
	if p == nil {
		return errors.WrapInvalid(errors.ErrNilProvider, "Bus", "AddProvider", "provider check")
	}
	path := p.ProviderPath()

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return errors.WrapFatal(errors.ErrBusDisposed, "Bus", "AddProvider", "disposed check")
	}
	n := b.root.ensure(path)
	rp := &registeredProvider{provider: p}
	n.providers = append(n.providers, rp)

	var toActivate []Activatable
	if n.activations > 0 {
		if a, ok := p.(Activatable); ok {
			rp.active = true
			toActivate = append(toActivate, a)
		}
	}
	b.mu.Unlock()

	b.fireActivation(toActivate)
	return nil
}

// Dispose releases all subscriptions and deactivates every currently-active
// provider exactly once, depth-first. After Dispose the bus rejects further
// Publish/Subscribe/AddProvider calls; Dispose itself is idempotent.
// Notifications triggered before disposal began are allowed to complete.
func (b *Bus) Dispose() error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil
	}
	b.disposed = true

	var toDeactivate []Activatable
	released := 0
	b.root.walk(func(n *node) {
		released += len(n.subscribers)
		n.subscribers = make(map[string]SubscriberFunc)
		n.activations = 0
		for _, rp := range n.providers {
			if rp.active {
				rp.active = false
				toDeactivate = append(toDeactivate, rp.provider.(Activatable))
			}
		}
	})
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.Subscriptions.Sub(float64(released))
	}
	b.fireDeactivation(toDeactivate)
	b.logger.Debug("bus disposed", "released_subscriptions", released)
	return nil
}

// markActivatedLocked collects the providers whose 0-to-1 transition just
// happened. Must be called with the lock held; hooks fire after release.
func (b *Bus) markActivatedLocked(n *node) []Activatable {
	if n.activations != 1 {
		return nil
	}
	var out []Activatable
	for _, rp := range n.providers {
		if rp.active {
			continue
		}
		if a, ok := rp.provider.(Activatable); ok {
			rp.active = true
			out = append(out, a)
		}
	}
	return out
}

// markDeactivatedLocked collects the providers whose 1-to-0 transition just
// happened. Must be called with the lock held; hooks fire after release.
func (b *Bus) markDeactivatedLocked(n *node) []Activatable {
	if n.activations != 0 {
		return nil
	}
	var out []Activatable
	for _, rp := range n.providers {
		if rp.active {
			rp.active = false
			out = append(out, rp.provider.(Activatable))
		}
	}
	return out
}

func (b *Bus) fireActivation(providers []Activatable) {
	for _, a := range providers {
		a.OnActivate()
	}
	if b.metrics != nil && len(providers) > 0 {
		b.metrics.ActiveProviders.Add(float64(len(providers)))
	}
}

func (b *Bus) fireDeactivation(providers []Activatable) {
	for _, a := range providers {
		a.OnDeactivate()
	}
	if b.metrics != nil && len(providers) > 0 {
		b.metrics.ActiveProviders.Sub(float64(len(providers)))
	}
}
