// Package rpcmgr implements the named-function RPC substrate: register a
// function under a name, call it locally when this node owns it, or relay
// the call across the distributed transport and wait for a reply when it
// doesn't. Each invocation runs inside its own database session scope.
package rpcmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pylon/internal/dbsupport"
	"pylon/internal/eventbus"
	"pylon/internal/perr"
	"pylon/internal/pylonctx"
	"pylon/pkg/logging"
)

// Function is the signature every RPC-registered callable satisfies.
type Function func(ctx context.Context, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// DefaultTimeout is used by CallFunction when no explicit timeout is given.
const DefaultTimeout = 60 * time.Second

const (
	requestEvent  = "pylon_rpc_request"
	responseEvent = "pylon_rpc_response"
)

type rpcRequest struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Args   []interface{}          `json:"args"`
	Kwargs map[string]interface{} `json:"kwargs"`
}

type rpcResponse struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Manager is the RPC manager: a local function registry layered over an
// optional distributed transport for cross-node calls.
type Manager struct {
	ctx       *pylonctx.Context
	transport eventbus.Transport
	engine    *gorm.DB
	idPrefix  string

	mu        sync.RWMutex
	functions map[string]Function

	pendingMu sync.Mutex
	pending   map[string]chan rpcResponse

	cancelReq  func()
	cancelResp func()
}

// New constructs a Manager bound to ctx, using engine for per-call session
// scoping. transport may be nil, in which case only locally registered
// functions are callable.
func New(ctx *pylonctx.Context, transport eventbus.Transport, engine *gorm.DB) (*Manager, error) {
	m := &Manager{
		ctx:       ctx,
		transport: transport,
		engine:    engine,
		idPrefix:  fmt.Sprintf("rpc_%s_", ctx.ID()),
		functions: make(map[string]Function),
		pending:   make(map[string]chan rpcResponse),
	}

	if transport == nil {
		return m, nil
	}
	if err := transport.Start(); err != nil {
		logging.Error("RpcManager", err, "cannot start transport, using local RPC only")
		m.transport = nil
		return m, nil
	}

	cancelReq, err := transport.Subscribe(requestEvent, m.handleRequest)
	if err != nil {
		return nil, fmt.Errorf("rpcmgr: subscribing to requests: %w", err)
	}
	cancelResp, err := transport.Subscribe(responseEvent, m.handleResponse)
	if err != nil {
		cancelReq()
		return nil, fmt.Errorf("rpcmgr: subscribing to responses: %w", err)
	}
	m.cancelReq = cancelReq
	m.cancelResp = cancelResp
	return m, nil
}

// Close tears down the manager's transport subscriptions.
func (m *Manager) Close() {
	if m.cancelReq != nil {
		m.cancelReq()
	}
	if m.cancelResp != nil {
		m.cancelResp()
	}
}

// RegisterFunction registers fn under name, replacing any prior registration.
func (m *Manager) RegisterFunction(name string, fn Function) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.functions[name] = fn
}

// UnregisterFunction removes the registration under name, if any.
func (m *Manager) UnregisterFunction(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.functions, name)
}

func (m *Manager) lookup(name string) (Function, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.functions[name]
	return fn, ok
}

// CallFunction invokes name with DefaultTimeout, locally if this node owns
// the registration, or over the transport otherwise.
func (m *Manager) CallFunction(name string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return m.CallFunctionWithTimeout(name, DefaultTimeout, args, kwargs)
}

// CallFunctionWithTimeout is CallFunction with an explicit timeout. The
// exposure fabric builds on this directly.
func (m *Manager) CallFunctionWithTimeout(name string, timeout time.Duration, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if fn, ok := m.lookup(name); ok {
		return invokeFunction(m.ctx, m.engine, fn, args, kwargs)
	}
	if m.transport == nil {
		return nil, fmt.Errorf("rpcmgr: no local registration for %q and no transport configured", name)
	}
	return m.callRemote(name, timeout, args, kwargs)
}

func (m *Manager) callRemote(name string, timeout time.Duration, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	id := m.idPrefix + uuid.NewString()
	ch := make(chan rpcResponse, 1)

	m.pendingMu.Lock()
	m.pending[id] = ch
	m.pendingMu.Unlock()
	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, id)
		m.pendingMu.Unlock()
	}()

	data, err := json.Marshal(rpcRequest{ID: id, Name: name, Args: args, Kwargs: kwargs})
	if err != nil {
		return nil, fmt.Errorf("rpcmgr: encoding request: %w", err)
	}
	if err := m.transport.Publish(requestEvent, data); err != nil {
		return nil, perr.NewTransportError("rpc publish", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("rpcmgr: remote call to %q failed: %s", name, resp.Error)
		}
		return resp.Result, nil
	case <-time.After(timeout):
		return nil, perr.NewTimeoutError(name)
	}
}

func (m *Manager) handleRequest(payload []byte) {
	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		logging.Error("RpcManager", err, "decoding remote request")
		return
	}
	fn, ok := m.lookup(req.Name)
	if !ok {
		return
	}

	resp := rpcResponse{ID: req.ID}
	result, err := invokeFunction(m.ctx, m.engine, fn, req.Args, req.Kwargs)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Result = result
	}

	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error("RpcManager", err, "encoding response for %q", req.Name)
		return
	}
	if err := m.transport.Publish(responseEvent, data); err != nil {
		logging.Error("RpcManager", err, "publishing response for %q", req.Name)
	}
}

func (m *Manager) handleResponse(payload []byte) {
	var resp rpcResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		logging.Error("RpcManager", err, "decoding remote response")
		return
	}
	m.pendingMu.Lock()
	ch, ok := m.pending[resp.ID]
	m.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// invokeFunction runs fn inside its own database session scope, mirroring
// invoke_function's create_local_session/close_local_session bracketing.
func invokeFunction(pctx *pylonctx.Context, engine *gorm.DB, fn Function, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	ctx := context.Background()
	if engine != nil {
		var scope *dbsupport.Scope
		ctx, scope = dbsupport.Begin(ctx, engine)
		var callErr error
		defer func() { scope.Close(callErr) }()
		result, err := fn(ctx, args, kwargs)
		callErr = err
		return result, err
	}
	return fn(ctx, args, kwargs)
}
