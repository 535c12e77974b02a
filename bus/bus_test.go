package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	buserrors "github.com/dzearing/ai-experiments-sub014/errors"
	"github.com/dzearing/ai-experiments-sub014/value"
)

// testProvider records its lifecycle and optionally transforms publishes.
type testProvider struct {
	path        value.Path
	activated   int
	deactivated int
	transform   func(ev PublishEvent) (value.Value, bool)
	events      []PublishEvent
}

func (p *testProvider) ProviderPath() value.Path { return p.path }

func (p *testProvider) OnActivate()   { p.activated++ }
func (p *testProvider) OnDeactivate() { p.deactivated++ }

func (p *testProvider) OnPublish(ev PublishEvent) (value.Value, bool) {
	p.events = append(p.events, ev)
	if p.transform == nil {
		return value.Value{}, false
	}
	return p.transform(ev)
}

// passiveProvider implements no optional capabilities.
type passiveProvider struct{ path value.Path }

func (p *passiveProvider) ProviderPath() value.Path { return p.path }

func TestPublishThenData(t *testing.T) {
	b := New(nil, nil)
	v := value.Object(map[string]value.Value{"a": value.Number(1)})
	require.NoError(t, b.Publish(value.P("x"), v))

	got, ok := b.Data(value.P("x"))
	require.True(t, ok)
	assert.True(t, value.Equal(got, v))
}

func TestDataWithoutPublish(t *testing.T) {
	b := New(nil, nil)

	_, ok := b.Data(value.P("never"))
	assert.False(t, ok)

	// Subscribing creates the node but not a value
	_, err := b.Subscribe(value.P("sub-only"), func(value.Value) {})
	require.NoError(t, err)
	_, ok = b.Data(value.P("sub-only"))
	assert.False(t, ok)
}

func TestSubscribeDoesNotReplay(t *testing.T) {
	b := New(nil, nil)
	v := value.Object(map[string]value.Value{"a": value.Number(1)})
	require.NoError(t, b.Publish(value.P("x"), v))

	calls := 0
	_, err := b.Subscribe(value.P("x"), func(value.Value) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 0, calls, "subscribe must not replay the pre-existing value")

	got, ok := b.Data(value.P("x"))
	require.True(t, ok)
	assert.True(t, value.Equal(got, v))
}

func TestPublishNotifiesExactPathOnly(t *testing.T) {
	b := New(nil, nil)

	var exact, ancestor, descendant int
	_, err := b.Subscribe(value.P("a", "b"), func(value.Value) { exact++ })
	require.NoError(t, err)
	_, err = b.Subscribe(value.P("a"), func(value.Value) { ancestor++ })
	require.NoError(t, err)
	_, err = b.Subscribe(value.P("a", "b", "c"), func(value.Value) { descendant++ })
	require.NoError(t, err)

	require.NoError(t, b.Publish(value.P("a", "b"), value.Number(1)))
	assert.Equal(t, 1, exact)
	assert.Equal(t, 0, ancestor)
	assert.Equal(t, 0, descendant)
}

func TestSubscriberReceivesEachPublish(t *testing.T) {
	b := New(nil, nil)
	var received []value.Value
	_, err := b.Subscribe(value.P("x"), func(v value.Value) { received = append(received, v) })
	require.NoError(t, err)

	require.NoError(t, b.Publish(value.P("x"), value.Number(1)))
	require.NoError(t, b.Publish(value.P("x"), value.Number(2)))

	require.Len(t, received, 2)
	assert.True(t, value.Equal(received[0], value.Number(1)))
	assert.True(t, value.Equal(received[1], value.Number(2)))
}

func TestDisposerIdempotent(t *testing.T) {
	b := New(nil, nil)
	calls := 0
	dispose, err := b.Subscribe(value.P("x"), func(value.Value) { calls++ })
	require.NoError(t, err)

	require.NoError(t, b.Publish(value.P("x"), value.Number(1)))
	dispose()
	dispose() // repeat must be a no-op
	require.NoError(t, b.Publish(value.P("x"), value.Number(2)))

	assert.Equal(t, 1, calls)
}

func TestProviderActivationRefcount(t *testing.T) {
	b := New(nil, nil)
	p := &testProvider{path: value.P("feed")}
	require.NoError(t, b.AddProvider(p))

	// Three subscribers, one activation
	var disposers []func()
	for i := 0; i < 3; i++ {
		d, err := b.Subscribe(value.P("feed"), func(value.Value) {})
		require.NoError(t, err)
		disposers = append(disposers, d)
	}
	assert.Equal(t, 1, p.activated)
	assert.Equal(t, 0, p.deactivated)

	// Disposing two of three keeps it active
	disposers[0]()
	disposers[1]()
	assert.Equal(t, 0, p.deactivated)

	// Disposing the last deactivates once
	disposers[2]()
	assert.Equal(t, 1, p.deactivated)
	assert.Equal(t, 1, p.activated)
}

func TestProviderReactivation(t *testing.T) {
	b := New(nil, nil)
	p := &testProvider{path: value.P("feed")}
	require.NoError(t, b.AddProvider(p))

	d1, err := b.Subscribe(value.P("feed"), func(value.Value) {})
	require.NoError(t, err)
	d1()

	d2, err := b.Subscribe(value.P("feed"), func(value.Value) {})
	require.NoError(t, err)
	d2()

	assert.Equal(t, 2, p.activated)
	assert.Equal(t, 2, p.deactivated)
}

func TestProviderAddedWhileActive(t *testing.T) {
	b := New(nil, nil)
	_, err := b.Subscribe(value.P("feed"), func(value.Value) {})
	require.NoError(t, err)

	p := &testProvider{path: value.P("feed")}
	require.NoError(t, b.AddProvider(p))
	assert.Equal(t, 1, p.activated, "provider joining an active path activates immediately")
}

func TestInterceptorChainOrder(t *testing.T) {
	b := New(nil, nil)
	a := &testProvider{
		path: value.P("x"),
		transform: func(ev PublishEvent) (value.Value, bool) {
			s, _ := ev.Value.AsString()
			return value.String(s + "-a"), true
		},
	}
	bee := &testProvider{
		path: value.P("x"),
		transform: func(ev PublishEvent) (value.Value, bool) {
			s, _ := ev.Value.AsString()
			return value.String(s + "-b"), true
		},
	}
	require.NoError(t, b.AddProvider(a))
	require.NoError(t, b.AddProvider(bee))

	var seen value.Value
	_, err := b.Subscribe(value.P("x"), func(v value.Value) { seen = v })
	require.NoError(t, err)

	require.NoError(t, b.Publish(value.P("x"), value.String("v")))

	// B observes A's output; stored value is B's output
	require.Len(t, bee.events, 1)
	bInput, _ := bee.events[0].Value.AsString()
	assert.Equal(t, "v-a", bInput)

	stored, ok := b.Data(value.P("x"))
	require.True(t, ok)
	s, _ := stored.AsString()
	assert.Equal(t, "v-a-b", s)
	assert.True(t, value.Equal(seen, stored))
}

func TestInterceptorOldValueFixedBeforeChain(t *testing.T) {
	b := New(nil, nil)
	require.NoError(t, b.Publish(value.P("x"), value.String("old")))

	a := &testProvider{
		path:      value.P("x"),
		transform: func(PublishEvent) (value.Value, bool) { return value.String("replaced"), true },
	}
	bee := &testProvider{path: value.P("x")}
	require.NoError(t, b.AddProvider(a))
	require.NoError(t, b.AddProvider(bee))

	require.NoError(t, b.Publish(value.P("x"), value.String("new")))

	require.Len(t, a.events, 1)
	require.Len(t, bee.events, 1)
	aOld, _ := a.events[0].OldValue.AsString()
	bOld, _ := bee.events[0].OldValue.AsString()
	assert.Equal(t, "old", aOld)
	assert.Equal(t, "old", bOld, "OldValue is fixed before any provider ran")
}

func TestInterceptorNoTransformLeavesValue(t *testing.T) {
	b := New(nil, nil)
	p := &testProvider{path: value.P("x")} // transform nil: returns (_, false)
	require.NoError(t, b.AddProvider(p))

	require.NoError(t, b.Publish(value.P("x"), value.Number(7)))
	got, ok := b.Data(value.P("x"))
	require.True(t, ok)
	assert.True(t, value.Equal(got, value.Number(7)))
}

func TestInterceptorCanReplaceWithNull(t *testing.T) {
	b := New(nil, nil)
	p := &testProvider{
		path:      value.P("x"),
		transform: func(PublishEvent) (value.Value, bool) { return value.Null(), true },
	}
	require.NoError(t, b.AddProvider(p))

	require.NoError(t, b.Publish(value.P("x"), value.Number(7)))
	got, ok := b.Data(value.P("x"))
	require.True(t, ok)
	assert.Equal(t, value.KindNull, got.Kind())
}

func TestPassiveProviderIgnored(t *testing.T) {
	b := New(nil, nil)
	require.NoError(t, b.AddProvider(&passiveProvider{path: value.P("x")}))

	_, err := b.Subscribe(value.P("x"), func(value.Value) {})
	require.NoError(t, err)
	require.NoError(t, b.Publish(value.P("x"), value.Number(1)))

	got, ok := b.Data(value.P("x"))
	require.True(t, ok)
	assert.True(t, value.Equal(got, value.Number(1)))
}

func TestReentrantPublishFromSubscriber(t *testing.T) {
	b := New(nil, nil)

	var chained []float64
	_, err := b.Subscribe(value.P("second"), func(v value.Value) {
		n, _ := v.AsNumber()
		chained = append(chained, n)
	})
	require.NoError(t, err)

	_, err = b.Subscribe(value.P("first"), func(v value.Value) {
		n, _ := v.AsNumber()
		require.NoError(t, b.Publish(value.P("second"), value.Number(n*10)))
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(value.P("first"), value.Number(4)))
	assert.Equal(t, []float64{40}, chained)
}

func TestDisposeRejectsFurtherCalls(t *testing.T) {
	b := New(nil, nil)
	require.NoError(t, b.Publish(value.P("x"), value.Number(1)))
	require.NoError(t, b.Dispose())

	err := b.Publish(value.P("x"), value.Number(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, buserrors.ErrBusDisposed)

	_, err = b.Subscribe(value.P("x"), func(value.Value) {})
	assert.ErrorIs(t, err, buserrors.ErrBusDisposed)

	err = b.AddProvider(&passiveProvider{path: value.P("x")})
	assert.ErrorIs(t, err, buserrors.ErrBusDisposed)
}

func TestDisposeDeactivatesProvidersOnce(t *testing.T) {
	b := New(nil, nil)
	p1 := &testProvider{path: value.P("a")}
	p2 := &testProvider{path: value.P("b", "c")}
	require.NoError(t, b.AddProvider(p1))
	require.NoError(t, b.AddProvider(p2))

	_, err := b.Subscribe(value.P("a"), func(value.Value) {})
	require.NoError(t, err)
	_, err = b.Subscribe(value.P("b", "c"), func(value.Value) {})
	require.NoError(t, err)

	require.NoError(t, b.Dispose())
	require.NoError(t, b.Dispose()) // idempotent

	assert.Equal(t, 1, p1.deactivated)
	assert.Equal(t, 1, p2.deactivated)
}

func TestDisposerAfterDisposeIsNoOp(t *testing.T) {
	b := New(nil, nil)
	p := &testProvider{path: value.P("a")}
	require.NoError(t, b.AddProvider(p))

	d, err := b.Subscribe(value.P("a"), func(value.Value) {})
	require.NoError(t, err)

	require.NoError(t, b.Dispose())
	d() // must not double-fire OnDeactivate
	assert.Equal(t, 1, p.deactivated)
}

func TestSubscribeNilCallback(t *testing.T) {
	b := New(nil, nil)
	_, err := b.Subscribe(value.P("x"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, buserrors.ErrNilCallback)
}

func TestAddProviderNil(t *testing.T) {
	b := New(nil, nil)
	err := b.AddProvider(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, buserrors.ErrNilProvider)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := New(nil, nil)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := value.P("p", string(rune('a'+i)))
			d, err := b.Subscribe(path, func(value.Value) {})
			assert.NoError(t, err)
			for j := 0; j < 50; j++ {
				assert.NoError(t, b.Publish(path, value.Number(float64(i))))
			}
			d()
		}(i)
	}
	wg.Wait()
}

func TestCapabilityChecks(t *testing.T) {
	assert.True(t, IsActivatable(&testProvider{}))
	assert.True(t, IsInterceptor(&testProvider{}))
	assert.False(t, IsActivatable(&passiveProvider{}))
	assert.False(t, IsInterceptor(&passiveProvider{}))
}

func TestRootPathPublish(t *testing.T) {
	b := New(nil, nil)
	var got value.Value
	_, err := b.Subscribe(value.P(), func(v value.Value) { got = v })
	require.NoError(t, err)

	v := value.Object(map[string]value.Value{"whole": value.Bool(true)})
	require.NoError(t, b.Publish(value.P(), v))
	assert.True(t, value.Equal(got, v))

	root, ok := b.Data(value.P())
	require.True(t, ok)
	assert.True(t, value.Equal(root, v))
}
