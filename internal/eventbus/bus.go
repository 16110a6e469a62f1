// Package eventbus implements a local + distributed publish/subscribe
// substrate: register/unregister listeners and fire events over a pluggable
// external transport (AMQP, Redis, or a SocketIO-style websocket relay),
// falling back automatically to local-only in-process delivery when the
// transport cannot be constructed.
package eventbus

import (
	"reflect"
	"sync"

	"pylon/internal/pylonctx"
	"pylon/pkg/logging"
)

// Transport is the contract a distributed pub/sub backend satisfies.
type Transport interface {
	Start() error
	Stop() error
	Publish(event string, payload []byte) error
	// Subscribe registers handler for event and returns an unsubscribe
	// function. Delivery ordering across nodes is whatever the backend
	// provides.
	Subscribe(event string, handler func(payload []byte)) (unsubscribe func(), err error)
}

// Listener is the signature every registered bus listener satisfies: the
// process context first, then the event name, then the decoded payload.
type Listener func(ctx *pylonctx.Context, event string, payload interface{})

// Codec converts between a Go payload value and the wire bytes a Transport
// carries. The Bus ships with a JSON codec; callers rarely need another.
type Codec interface {
	Encode(payload interface{}) ([]byte, error)
	Decode(data []byte, out *interface{}) error
}

// Bus is the Event Bus component: local registries layered over an optional
// distributed Transport.
type Bus struct {
	ctx       *pylonctx.Context
	transport Transport
	codec     Codec
	local     bool

	mu        sync.Mutex
	listeners map[string][]registration
}

type registration struct {
	listener Listener
	cancel   func()
}

// New constructs a Bus bound to ctx. If transport is nil, the Bus degrades
// to local-only delivery immediately. If transport.Start fails, the same
// local-only fallback applies.
func New(ctx *pylonctx.Context, transport Transport, codec Codec) *Bus {
	b := &Bus{
		ctx:       ctx,
		codec:     codec,
		listeners: make(map[string][]registration),
	}
	if transport == nil {
		b.local = true
		return b
	}
	if err := transport.Start(); err != nil {
		logging.Error("EventBus", err, "cannot start transport, using local events only")
		b.local = true
		return b
	}
	b.transport = transport
	return b
}

// Close stops the underlying transport, if any.
func (b *Bus) Close() error {
	if b.transport != nil {
		return b.transport.Stop()
	}
	return nil
}

// RegisterListener subscribes listener to event. Local delivery for a given
// event happens in registration order; remote delivery is relayed through
// the transport when one is active.
func (b *Bus) RegisterListener(event string, listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg := registration{listener: listener}
	if !b.local && b.transport != nil {
		cancel, err := b.transport.Subscribe(event, func(payload []byte) {
			var decoded interface{}
			if err := b.codec.Decode(payload, &decoded); err != nil {
				logging.Error("EventBus", err, "decoding payload for event %s", event)
				return
			}
			b.dispatchOne(event, listener, decoded)
		})
		if err != nil {
			logging.Error("EventBus", err, "subscribing to transport for event %s, using local delivery", event)
		} else {
			reg.cancel = cancel
		}
	}
	b.listeners[event] = append(b.listeners[event], reg)
}

// UnregisterListener removes listener from event, if registered.
func (b *Bus) UnregisterListener(event string, listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.listeners[event]
	for i, r := range regs {
		if funcEqual(r.listener, listener) {
			if r.cancel != nil {
				r.cancel()
			}
			b.listeners[event] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// FireEvent publishes payload under event: local listeners run synchronously
// in registration order, and (when a transport is active) the payload is
// also published for remote nodes. A listener panic or error never prevents
// later listeners from running.
func (b *Bus) FireEvent(event string, payload interface{}) {
	b.mu.Lock()
	regs := make([]registration, len(b.listeners[event]))
	copy(regs, b.listeners[event])
	b.mu.Unlock()

	for _, r := range regs {
		b.dispatchOne(event, r.listener, payload)
	}

	if !b.local && b.transport != nil {
		data, err := b.codec.Encode(payload)
		if err != nil {
			logging.Error("EventBus", err, "encoding payload for event %s", event)
			return
		}
		if err := b.transport.Publish(event, data); err != nil {
			logging.Error("EventBus", err, "publishing event %s", event)
		}
	}
}

func (b *Bus) dispatchOne(event string, listener Listener, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("EventBus", nil, "listener for %s panicked: %v", event, r)
		}
	}()
	listener(b.ctx, event, payload)
}

// funcEqual compares two Listener values by pointer identity of their
// underlying function, the best equality Go offers for closures.
func funcEqual(a, b Listener) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
