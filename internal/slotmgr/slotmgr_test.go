package slotmgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pylon/internal/eventbus"
	"pylon/internal/pylonctx"
	"pylon/internal/rpcmgr"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	pctx := pylonctx.New("node-a")
	bus := eventbus.New(pctx, nil, eventbus.JSONCodec{})
	rpc, err := rpcmgr.New(pctx, nil, nil)
	require.NoError(t, err)
	return New(pctx, bus, rpc)
}

func TestSlotManager_RegisterAndRunSlot(t *testing.T) {
	m := newTestManager(t)

	m.RegisterCallback("widgets", "render", "dashboard.widgets", func(_ context.Context, slot string, payload interface{}) (string, error) {
		return "<div>" + slot + "</div>", nil
	})

	result := m.RunSlot("dashboard.widgets", nil)
	assert.Equal(t, "<div>dashboard.widgets</div>", result)
}

func TestSlotManager_EmptySlotReturnsEmptyString(t *testing.T) {
	m := newTestManager(t)
	assert.Equal(t, "", m.RunSlot("nothing.registered", nil))
}

func TestSlotManager_MultipleCallbacksJoinedByNewline(t *testing.T) {
	m := newTestManager(t)

	m.RegisterCallback("a", "render", "slot", func(_ context.Context, _ string, _ interface{}) (string, error) {
		return "first", nil
	})
	m.RegisterCallback("b", "render", "slot", func(_ context.Context, _ string, _ interface{}) (string, error) {
		return "second", nil
	})

	assert.Equal(t, "first\nsecond", m.RunSlot("slot", nil))
}

func TestSlotManager_UnregisterRemovesCallback(t *testing.T) {
	m := newTestManager(t)

	m.RegisterCallback("a", "render", "slot", func(_ context.Context, _ string, _ interface{}) (string, error) {
		return "first", nil
	})
	m.UnregisterCallback("a", "render", "slot")

	assert.Equal(t, "", m.RunSlot("slot", nil))
}

func TestSlotManager_DuplicateRegistrationIsIgnored(t *testing.T) {
	m := newTestManager(t)

	cb := func(_ context.Context, _ string, _ interface{}) (string, error) { return "x", nil }
	m.RegisterCallback("a", "render", "slot", cb)
	m.RegisterCallback("a", "render", "slot", cb)

	assert.Equal(t, "x", m.RunSlot("slot", nil))
}
