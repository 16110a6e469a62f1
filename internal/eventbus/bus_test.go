package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pylon/internal/pylonctx"
)

func TestBus_LocalDeliveryOrder(t *testing.T) {
	ctx := pylonctx.New("test-node")
	bus := New(ctx, nil, JSONCodec{})
	defer bus.Close()

	var order []int
	bus.RegisterListener("greet", func(_ *pylonctx.Context, _ string, _ interface{}) {
		order = append(order, 1)
	})
	bus.RegisterListener("greet", func(_ *pylonctx.Context, _ string, _ interface{}) {
		order = append(order, 2)
	})

	bus.FireEvent("greet", map[string]string{"name": "world"})
	assert.Equal(t, []int{1, 2}, order)
}

func TestBus_NilTransportIsLocalOnly(t *testing.T) {
	ctx := pylonctx.New("test-node")
	bus := New(ctx, nil, JSONCodec{})
	require.True(t, bus.local)
}

func TestBus_FailingTransportFallsBackToLocal(t *testing.T) {
	ctx := pylonctx.New("test-node")
	bus := New(ctx, &alwaysFailTransport{}, JSONCodec{})
	require.True(t, bus.local)

	fired := false
	bus.RegisterListener("x", func(_ *pylonctx.Context, _ string, _ interface{}) { fired = true })
	bus.FireEvent("x", nil)
	assert.True(t, fired)
}

func TestBus_UnregisterListenerStopsDelivery(t *testing.T) {
	ctx := pylonctx.New("test-node")
	bus := New(ctx, nil, JSONCodec{})

	calls := 0
	listener := func(_ *pylonctx.Context, _ string, _ interface{}) { calls++ }
	bus.RegisterListener("evt", listener)
	bus.FireEvent("evt", nil)
	bus.UnregisterListener("evt", listener)
	bus.FireEvent("evt", nil)

	assert.Equal(t, 1, calls)
}

func TestBus_ListenerPanicDoesNotStopOthers(t *testing.T) {
	ctx := pylonctx.New("test-node")
	bus := New(ctx, nil, JSONCodec{})

	ran := false
	bus.RegisterListener("evt", func(_ *pylonctx.Context, _ string, _ interface{}) {
		panic("boom")
	})
	bus.RegisterListener("evt", func(_ *pylonctx.Context, _ string, _ interface{}) {
		ran = true
	})
	bus.FireEvent("evt", nil)
	assert.True(t, ran)
}

type alwaysFailTransport struct{}

func (alwaysFailTransport) Start() error { return assert.AnError }
func (alwaysFailTransport) Stop() error  { return nil }
func (alwaysFailTransport) Publish(string, []byte) error { return nil }
func (alwaysFailTransport) Subscribe(string, func([]byte)) (func(), error) {
	return func() {}, nil
}

var _ Transport = alwaysFailTransport{}
