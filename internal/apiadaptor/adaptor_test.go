package apiadaptor

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pylon/internal/pylonctx"
	"pylon/internal/rpcmgr"
)

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestHandleCallRPC_InvokesRegisteredFunction(t *testing.T) {
	pctx := pylonctx.New("test-node")
	rpc, err := rpcmgr.New(pctx, nil, nil)
	require.NoError(t, err)
	rpc.RegisterFunction("echo", func(_ context.Context, args []interface{}, _ map[string]interface{}) (interface{}, error) {
		return args[0], nil
	})

	a := New("test-node", "dev", rpc, nil)
	result, err := a.handleCallRPC(context.Background(), callRequest("call_rpc", map[string]interface{}{
		"name": "echo",
		"args": `["hello"]`,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, `"hello"`, textContent(t, result))
}

func TestHandleCallRPC_MissingNameIsToolError(t *testing.T) {
	pctx := pylonctx.New("test-node")
	rpc, err := rpcmgr.New(pctx, nil, nil)
	require.NoError(t, err)

	a := New("test-node", "dev", rpc, nil)
	result, err := a.handleCallRPC(context.Background(), callRequest("call_rpc", map[string]interface{}{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCallRPC_UnknownFunctionIsToolError(t *testing.T) {
	pctx := pylonctx.New("test-node")
	rpc, err := rpcmgr.New(pctx, nil, nil)
	require.NoError(t, err)

	a := New("test-node", "dev", rpc, nil)
	result, err := a.handleCallRPC(context.Background(), callRequest("call_rpc", map[string]interface{}{
		"name": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
