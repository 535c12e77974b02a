package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dzearing/ai-experiments-sub014/errors"
)

// Registry manages the registration and lifecycle of metrics. Core platform
// metrics are registered at construction; components can add their own
// collectors under a namespaced key.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registered         map[string]prometheus.Collector
	mu                 sync.Mutex
}

// NewRegistry creates a new metrics registry with core platform metrics and
// Go runtime collectors.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}

	r.prometheusRegistry.MustRegister(
		r.Metrics.PublishesTotal,
		r.Metrics.NotificationsTotal,
		r.Metrics.ActiveProviders,
		r.Metrics.Subscriptions,
		r.Metrics.DeltasTotal,
		r.Metrics.SnapshotFetches,
		r.Metrics.ApplyDuration,
		r.Metrics.TrackedResources,
		r.Metrics.NATSConnected,
		r.Metrics.NATSReconnects,
		r.Metrics.GatewayClients,
		r.Metrics.GatewayFramesSent,
		r.Metrics.GatewayFramesDropped,
	)

	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core platform metrics
func (r *Registry) CoreMetrics() *Metrics {
	return r.Metrics
}

// Register registers a component-specific collector under component.name.
// Duplicate registrations are rejected as invalid.
func (r *Registry) Register(component, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for %s", name, component),
			"Registry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "Registry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "Registry", "Register",
			"register collector with prometheus")
	}

	r.registered[key] = c
	return nil
}

// Unregister removes a previously registered component collector
func (r *Registry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	c, exists := r.registered[key]
	if !exists {
		return false
	}

	ok := r.prometheusRegistry.Unregister(c)
	if ok {
		delete(r.registered, key)
	}
	return ok
}
