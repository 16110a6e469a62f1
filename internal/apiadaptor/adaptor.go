// Package apiadaptor exposes the node's RPC catalog over the Model Context
// Protocol: one MCP server with tools for invoking a named RPC function and
// for rendering a slot, so operators and agents can drive a running pylon
// node through standard MCP clients.
package apiadaptor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pylon/internal/rpcmgr"
	"pylon/internal/slotmgr"
)

// Adaptor bridges MCP tool calls to the RPC and slot managers.
type Adaptor struct {
	mcpServer *server.MCPServer
	rpc       *rpcmgr.Manager
	slots     *slotmgr.Manager
}

// New constructs the adaptor and registers its tools. slots may be nil when
// the process runs without a slot manager.
func New(nodeName, version string, rpc *rpcmgr.Manager, slots *slotmgr.Manager) *Adaptor {
	mcpServer := server.NewMCPServer(
		fmt.Sprintf("pylon-%s", nodeName),
		version,
		server.WithToolCapabilities(false),
	)

	a := &Adaptor{mcpServer: mcpServer, rpc: rpc, slots: slots}
	a.registerTools()
	return a
}

func (a *Adaptor) registerTools() {
	callTool := mcp.NewTool("call_rpc",
		mcp.WithDescription("Invoke a named RPC function registered on this pylon cluster. "+
			"Arguments are passed positionally as a JSON array; keyword arguments as a JSON object."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Registered RPC function name")),
		mcp.WithString("args", mcp.Description("JSON array of positional arguments")),
		mcp.WithString("kwargs", mcp.Description("JSON object of keyword arguments")),
	)
	a.mcpServer.AddTool(callTool, a.handleCallRPC)

	if a.slots != nil {
		slotTool := mcp.NewTool("run_slot",
			mcp.WithDescription("Render a named slot: every registered callback runs and non-empty results are joined with newlines."),
			mcp.WithString("slot", mcp.Required(), mcp.Description("Slot name")),
			mcp.WithString("payload", mcp.Description("JSON payload handed to every callback")),
		)
		a.mcpServer.AddTool(slotTool, a.handleRunSlot)
	}
}

func (a *Adaptor) handleCallRPC(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name parameter is required"), nil
	}

	var args []interface{}
	if raw := request.GetString("args", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("args is not a JSON array: %v", err)), nil
		}
	}
	var kwargs map[string]interface{}
	if raw := request.GetString("kwargs", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &kwargs); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("kwargs is not a JSON object: %v", err)), nil
		}
	}

	result, err := a.rpc.CallFunction(name, args, kwargs)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("RPC call failed: %v", err)), nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

func (a *Adaptor) handleRunSlot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	slot, err := request.RequireString("slot")
	if err != nil {
		return mcp.NewToolResultError("slot parameter is required"), nil
	}
	var payload interface{}
	if raw := request.GetString("payload", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("payload is not valid JSON: %v", err)), nil
		}
	}
	return mcp.NewToolResultText(a.slots.RunSlot(slot, payload)), nil
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout. Used by the
// dedicated agent entry point, not by the normal server boot.
func (a *Adaptor) ServeStdio() error {
	return server.ServeStdio(a.mcpServer)
}
