package bus

import (
	"github.com/dzearing/ai-experiments-sub014/value"
)

// Provider models a lazily-started data source bound to one bus path, such
// as an external subscription whose cost should only be paid while at least
// one subscriber cares. Optional capabilities are discovered by type
// assertion, following the component capability pattern.
type Provider interface {
	// ProviderPath returns the bus path this provider is registered at.
	ProviderPath() value.Path
}

// Activatable providers are told when their path gains its first subscriber
// and when it loses its last one. The bus guarantees OnActivate fires
// exactly once per 0-to-1 activation transition and OnDeactivate exactly
// once per 1-to-0 transition.
type Activatable interface {
	OnActivate()
	OnDeactivate()
}

// Interceptor providers get first refusal to transform every value
// published at their path. Returning (v, true) replaces the value flowing
// through the chain; returning (_, false) leaves it unchanged. Replacing
// with an explicit null is representable and distinct from not replacing.
type Interceptor interface {
	OnPublish(ev PublishEvent) (value.Value, bool)
}

// PublishEvent carries what an interceptor sees on publish. Value is the
// current chain input (a prior interceptor's output); OldValue is the node
// value fixed before any interceptor ran.
type PublishEvent struct {
	Path     value.Path
	Value    value.Value
	OldValue value.Value
	Bus      *Bus
}

// IsActivatable checks if a provider wants activation lifecycle callbacks
func IsActivatable(p Provider) bool {
	_, ok := p.(Activatable)
	return ok
}

// IsInterceptor checks if a provider wants to intercept publishes
func IsInterceptor(p Provider) bool {
	_, ok := p.(Interceptor)
	return ok
}

// registeredProvider pairs a provider with its activation state so the
// 0-to-1 and 1-to-0 hooks fire exactly once even for providers added while
// the path is already active.
type registeredProvider struct {
	provider Provider
	active   bool
}
