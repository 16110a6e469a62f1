// Package slotmgr implements named extension points ("slots"): a callback
// registers itself under a slot name, and any node can run the slot to
// collect every registered callback's result. Registration is replicated
// across the cluster via the event bus rather than shared state, so every
// node ends up with the same slot→callback-name map regardless of which
// node originally registered the callback. Register/unregister are relayed
// as register_slot_callback/unregister_slot_callback bus events.
package slotmgr

import (
	"context"
	"strings"
	"sync"

	"pylon/internal/eventbus"
	"pylon/internal/pylonctx"
	"pylon/internal/rpcmgr"
	"pylon/pkg/logging"
)

// Callback is the signature a slot callback satisfies: the slot name and an
// optional payload, returning a string result (or "" to contribute nothing).
type Callback func(ctx context.Context, slot string, payload interface{}) (string, error)

// Manager is the Slot Manager: a local RPC registration plus a
// cluster-replicated slot→callback-name table kept in sync over the bus.
type Manager struct {
	pctx *pylonctx.Context
	bus  *eventbus.Bus
	rpc  *rpcmgr.Manager

	mu        sync.RWMutex
	callbacks map[string][]string // slot -> ordered, deduplicated callback names
}

// New constructs a Manager bound to pctx, registering its internal
// replication listeners on bus.
func New(pctx *pylonctx.Context, bus *eventbus.Bus, rpc *rpcmgr.Manager) *Manager {
	m := &Manager{
		pctx:      pctx,
		bus:       bus,
		rpc:       rpc,
		callbacks: make(map[string][]string),
	}
	bus.RegisterListener("register_slot_callback", m.onRegister)
	bus.RegisterListener("unregister_slot_callback", m.onUnregister)
	return m
}

// RegisterCallback registers callback under slot, naming it
// "<node>_<owner>_<name>" (owner is typically the registering plugin's
// name). The callback is registered locally with the RPC manager and the
// registration is announced to the whole cluster.
func (m *Manager) RegisterCallback(owner, name, slot string, callback Callback) {
	callbackName := slotCallbackName(m.pctx.NodeName(), owner, name)

	m.rpc.RegisterFunction(callbackName, func(ctx context.Context, args []interface{}, _ map[string]interface{}) (interface{}, error) {
		var slotArg string
		var payload interface{}
		if len(args) > 0 {
			slotArg, _ = args[0].(string)
		}
		if len(args) > 1 {
			payload = args[1]
		}
		return callback(ctx, slotArg, payload)
	})

	m.bus.FireEvent("register_slot_callback", map[string]string{
		"slot":     slot,
		"callback": callbackName,
	})
}

// UnregisterCallback announces removal of callback from slot across the
// cluster. The local RPC registration itself is left in place: a node
// deinitializing its owning plugin unregisters the RPC function separately.
func (m *Manager) UnregisterCallback(owner, name, slot string) {
	callbackName := slotCallbackName(m.pctx.NodeName(), owner, name)
	m.bus.FireEvent("unregister_slot_callback", map[string]string{
		"slot":     slot,
		"callback": callbackName,
	})
}

// RunSlot invokes every callback registered for slot (in registration
// order), discarding callbacks that error, and joins every non-empty result
// with a newline. Returns "" if the slot has no callbacks.
func (m *Manager) RunSlot(slot string, payload interface{}) string {
	m.mu.RLock()
	names := append([]string(nil), m.callbacks[slot]...)
	m.mu.RUnlock()

	if len(names) == 0 {
		return ""
	}

	var results []string
	for _, name := range names {
		result, err := m.rpc.CallFunction(name, []interface{}{slot, payload}, nil)
		if err != nil {
			logging.Error("SlotManager", err, "template slot callback exception for %s", name)
			continue
		}
		if s, ok := result.(string); ok && s != "" {
			results = append(results, s)
		}
	}
	return strings.Join(results, "\n")
}

func (m *Manager) onRegister(_ *pylonctx.Context, _ string, payload interface{}) {
	slot, callback, ok := slotEventFields(payload)
	if !ok {
		logging.Error("SlotManager", nil, "invalid slot registration data, skipping")
		return
	}
	logging.Debug("SlotManager", "new slot callback: %s - %s", slot, callback)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.callbacks[slot] {
		if existing == callback {
			return
		}
	}
	m.callbacks[slot] = append(m.callbacks[slot], callback)
}

func (m *Manager) onUnregister(_ *pylonctx.Context, _ string, payload interface{}) {
	slot, callback, ok := slotEventFields(payload)
	if !ok {
		logging.Error("SlotManager", nil, "invalid slot unregistration data, skipping")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	names := m.callbacks[slot]
	for i, existing := range names {
		if existing == callback {
			m.callbacks[slot] = append(names[:i], names[i+1:]...)
			return
		}
	}
}

func slotCallbackName(node, owner, name string) string {
	joined := strings.Join([]string{node, owner, name}, "_")
	return strings.ReplaceAll(joined, ".", "_")
}

// slotEventFields extracts the slot/callback pair from a register/
// unregister event payload, accepting either the map the local FireEvent
// path produces or the generic map decoded off a remote transport.
func slotEventFields(payload interface{}) (slot, callback string, ok bool) {
	switch v := payload.(type) {
	case map[string]string:
		slot, slotOK := v["slot"]
		callback, callbackOK := v["callback"]
		return slot, callback, slotOK && callbackOK
	case map[string]interface{}:
		slotVal, slotOK := v["slot"].(string)
		callbackVal, callbackOK := v["callback"].(string)
		return slotVal, callbackVal, slotOK && callbackOK
	default:
		return "", "", false
	}
}
