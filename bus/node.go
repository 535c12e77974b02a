package bus

import (
	"github.com/dzearing/ai-experiments-sub014/value"
)

// node is one entry in the bus tree, addressed by one path segment under
// its parent. Children are created lazily on first access, so a node exists
// only for paths that have been published to, subscribed to, or had a
// provider registered.
type node struct {
	// value caches the subtree's current data for idempotent reads
	value    value.Value
	hasValue bool

	subscribers map[string]SubscriberFunc
	providers   []*registeredProvider

	// activations counts live subscriptions at this exact path; providers
	// at the path share this single activation signal
	activations int

	children map[string]*node
}

func newNode() *node {
	return &node{
		subscribers: make(map[string]SubscriberFunc),
	}
}

// ensure walks to the node at path, creating intermediate nodes as needed.
// Callers must hold the bus lock.
func (n *node) ensure(path value.Path) *node {
	current := n
	for _, segment := range path {
		if current.children == nil {
			current.children = make(map[string]*node)
		}
		child, ok := current.children[segment]
		if !ok {
			child = newNode()
			current.children[segment] = child
		}
		current = child
	}
	return current
}

// lookup walks to the node at path without creating anything. Callers must
// hold the bus lock.
func (n *node) lookup(path value.Path) (*node, bool) {
	current := n
	for _, segment := range path {
		child, ok := current.children[segment]
		if !ok {
			return nil, false
		}
		current = child
	}
	return current, true
}

// walk visits every node depth-first, children before their parent.
// Callers must hold the bus lock.
func (n *node) walk(visit func(*node)) {
	for _, child := range n.children {
		child.walk(visit)
	}
	visit(n)
}

// snapshotSubscribers returns the current subscriber callbacks. Taken under
// the bus lock at notification time so callbacks can safely re-enter the
// bus after release.
func (n *node) snapshotSubscribers() []SubscriberFunc {
	if len(n.subscribers) == 0 {
		return nil
	}
	out := make([]SubscriberFunc, 0, len(n.subscribers))
	for _, fn := range n.subscribers {
		out = append(out, fn)
	}
	return out
}
