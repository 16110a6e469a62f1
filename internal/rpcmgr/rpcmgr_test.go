package rpcmgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pylon/internal/pylonctx"
)

func TestManager_LocalCall(t *testing.T) {
	ctx := pylonctx.New("test-node")
	m, err := New(ctx, nil, nil)
	require.NoError(t, err)

	m.RegisterFunction("add", func(_ context.Context, args []interface{}, _ map[string]interface{}) (interface{}, error) {
		a := args[0].(int)
		b := args[1].(int)
		return a + b, nil
	})

	result, err := m.CallFunction("add", []interface{}{2, 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, result)
}

func TestManager_CallUnregisteredWithoutTransport(t *testing.T) {
	ctx := pylonctx.New("test-node")
	m, err := New(ctx, nil, nil)
	require.NoError(t, err)

	_, err = m.CallFunction("missing", nil, nil)
	assert.Error(t, err)
}

func TestManager_UnregisterFunction(t *testing.T) {
	ctx := pylonctx.New("test-node")
	m, err := New(ctx, nil, nil)
	require.NoError(t, err)

	m.RegisterFunction("noop", func(_ context.Context, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
		return nil, nil
	})
	m.UnregisterFunction("noop")

	_, err = m.CallFunction("noop", nil, nil)
	assert.Error(t, err)
}
