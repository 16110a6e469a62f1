// Package exposure implements the pylon network exposure fabric: any node
// can expose its HTTP handler and socket event stream to every other node,
// and any node can handle inbound requests by forwarding them, over RPC, to
// whichever node currently owns the matching URL prefix. Ownership is
// announced over pylon_exposed/pylon_unexposed bus events, routing is
// longest-prefix-match, and a liveness-checking pinger evicts peers after
// too many missed pings.
package exposure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"time"

	"pylon/internal/eventbus"
	"pylon/internal/perr"
	"pylon/internal/pylonctx"
	"pylon/internal/rpcmgr"
	"pylon/pkg/logging"
)

// Config is the "exposure" section of the process configuration root.
type Config struct {
	Debug            bool
	Expose           bool // this node offers its handler to the network
	HandleEnabled    bool // this node forwards inbound requests to peers
	URLPrefixes      []string
	AnnounceInterval time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
	MaxMissedPings   int
	WSGICallTimeout  time.Duration
	SIOCallTimeout   time.Duration
}

// DefaultConfig returns the defaults applied when a setting is absent from
// configuration.
func DefaultConfig() Config {
	return Config{
		AnnounceInterval: 15 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      5 * time.Second,
		MaxMissedPings:   3,
		WSGICallTimeout:  24 * time.Hour,
		SIOCallTimeout:   24 * time.Hour,
	}
}

// RequestEnvelope carries an inbound HTTP request across the RPC wire to
// whichever node owns it: method/url/header/body only, so every field
// serializes cleanly.
type RequestEnvelope struct {
	Method string      `json:"method"`
	URL    string      `json:"url"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// ResponseEnvelope is the matching result shape, carrying a captured
// local response back across the RPC wire.
type ResponseEnvelope struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// decodeRequestEnvelope recovers a RequestEnvelope from an RPC argument. A
// local dispatch hands over the typed value; a call that crossed the wire
// arrives as the generic map json.Unmarshal produced, so anything else is
// round-tripped through JSON back into the typed envelope.
func decodeRequestEnvelope(v interface{}) (RequestEnvelope, error) {
	if env, ok := v.(RequestEnvelope); ok {
		return env, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return RequestEnvelope{}, fmt.Errorf("exposure: re-encoding request envelope: %w", err)
	}
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return RequestEnvelope{}, fmt.Errorf("exposure: decoding request envelope: %w", err)
	}
	return env, nil
}

// decodeResponseEnvelope is the reply-side counterpart of
// decodeRequestEnvelope.
func decodeResponseEnvelope(v interface{}) (ResponseEnvelope, error) {
	if env, ok := v.(ResponseEnvelope); ok {
		return env, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ResponseEnvelope{}, fmt.Errorf("exposure: re-encoding response envelope: %w", err)
	}
	var env ResponseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ResponseEnvelope{}, fmt.Errorf("exposure: decoding response envelope: %w", err)
	}
	return env, nil
}

// SIOHandler processes a forwarded socket event locally.
type SIOHandler func(event, namespace string, args []interface{}) error

// Exposure is the fabric instance bound to one process.
type Exposure struct {
	pctx    *pylonctx.Context
	bus     *eventbus.Bus
	rpc     *rpcmgr.Manager
	cfg     Config
	id      string
	handler http.Handler
	sio     SIOHandler

	mu       sync.RWMutex
	registry map[string]string // url prefix -> exposure id

	stopCh   chan struct{}
	stopOnce sync.Once
	liveness *livenessChecker
}

// New constructs an Exposure bound to pctx. handler is this node's own HTTP
// application, forwarded to when another node calls our "{id}_wsgi_call"
// RPC; it may be nil when Expose is false. sio is this node's socket event
// sink; it may be nil when this node does not speak socket events.
func New(pctx *pylonctx.Context, bus *eventbus.Bus, rpc *rpcmgr.Manager, cfg Config, handler http.Handler, sio SIOHandler) *Exposure {
	return &Exposure{
		pctx:     pctx,
		bus:      bus,
		rpc:      rpc,
		cfg:      cfg,
		id:       fmt.Sprintf("pylon_%s", pctx.ID()),
		handler:  handler,
		sio:      sio,
		registry: make(map[string]string),
		stopCh:   make(chan struct{}),
	}
}

// ID returns this node's exposure identifier ("pylon_<context id>").
func (e *Exposure) ID() string { return e.id }

// Start wires up listeners, RPC registrations, and background loops: the
// two halves are independent — "handle" (subscribe + serve inbound
// requests) and "expose" (announce this node's own handler).
func (e *Exposure) Start() {
	if e.cfg.HandleEnabled {
		e.bus.RegisterListener("pylon_exposed", e.onPylonExposed)
		e.bus.RegisterListener("pylon_unexposed", e.onPylonUnexposed)

		e.liveness = newLivenessChecker(e)
		go e.liveness.run()
	}

	if e.cfg.Expose {
		e.rpc.RegisterFunction(e.id+"_ping", e.handlePing)
		e.rpc.RegisterFunction(e.id+"_wsgi_call", e.handleWSGICall)
		e.rpc.RegisterFunction(e.id+"_sio_call", e.handleSIOCall)

		e.announce()
		go e.announceLoop()
	}
}

// Stop tears down everything Start wired up: it first signals the
// background loops to stop, then announces unexposed and unregisters this
// node's RPC functions, then unregisters the handle-side listeners.
func (e *Exposure) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })

	if e.cfg.Expose {
		e.bus.FireEvent("pylon_unexposed", map[string]string{"exposure_id": e.id})
		e.rpc.UnregisterFunction(e.id + "_sio_call")
		e.rpc.UnregisterFunction(e.id + "_wsgi_call")
		e.rpc.UnregisterFunction(e.id + "_ping")
	}

	if e.cfg.HandleEnabled {
		e.bus.UnregisterListener("pylon_unexposed", e.onPylonUnexposed)
		e.bus.UnregisterListener("pylon_exposed", e.onPylonExposed)
	}
}

func (e *Exposure) announce() {
	e.bus.FireEvent("pylon_exposed", map[string]string{
		"exposure_id": e.id,
		"url_prefix":  firstOrEmpty(e.cfg.URLPrefixes),
	})
}

func (e *Exposure) announceLoop() {
	ticker := time.NewTicker(e.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.announce()
		}
	}
}

func firstOrEmpty(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func (e *Exposure) onPylonExposed(_ *pylonctx.Context, _ string, payload interface{}) {
	exposureID, urlPrefix, ok := exposedFields(payload)
	if !ok || exposureID == e.id {
		return
	}
	e.mu.Lock()
	e.registry[urlPrefix] = exposureID
	e.mu.Unlock()
}

func (e *Exposure) onPylonUnexposed(_ *pylonctx.Context, _ string, payload interface{}) {
	exposureID, _, ok := exposedFields(payload)
	if !ok {
		return
	}
	e.dropExposureID(exposureID)
}

func (e *Exposure) dropExposureID(exposureID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for prefix, id := range e.registry {
		if id == exposureID {
			delete(e.registry, prefix)
		}
	}
}

func exposedFields(payload interface{}) (exposureID, urlPrefix string, ok bool) {
	switch v := payload.(type) {
	case map[string]string:
		id, idOK := v["exposure_id"]
		return id, v["url_prefix"], idOK
	case map[string]interface{}:
		id, idOK := v["exposure_id"].(string)
		prefix, _ := v["url_prefix"].(string)
		return id, prefix, idOK
	default:
		return "", "", false
	}
}

// ServeHTTP routes an inbound request to whichever registered exposure id
// owns the longest matching URL prefix, forwarding it over RPC and
// replaying the remote response.
func (e *Exposure) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := e.resolveTarget(r.URL.RequestURI())
	if target == "" {
		http.NotFound(w, r)
		return
	}
	if e.cfg.Debug {
		logging.Debug("Exposure", "target: %s", target)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}
	env := RequestEnvelope{
		Method: r.Method,
		URL:    r.URL.String(),
		Header: r.Header,
		Body:   body,
	}

	result, err := e.rpc.CallFunctionWithTimeout(target+"_wsgi_call", e.cfg.WSGICallTimeout, []interface{}{env}, nil)
	if err != nil {
		if e.cfg.Debug {
			logging.Warn("Exposure", "wsgi call timeout or failure: %v", err)
		}
		if perr.IsTimeout(err) {
			http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
			return
		}
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	resp, err := decodeResponseEnvelope(result)
	if err != nil {
		logging.Error("Exposure", err, "invalid response from remote exposure")
		http.Error(w, "invalid response from remote exposure", http.StatusBadGateway)
		return
	}
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func (e *Exposure) resolveTarget(requestURI string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	prefixes := make([]string, 0, len(e.registry))
	for prefix := range e.registry {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	for _, prefix := range prefixes {
		if prefix != "" && len(requestURI) >= len(prefix) && requestURI[:len(prefix)] == prefix {
			return e.registry[prefix]
		}
	}
	return ""
}

func (e *Exposure) handlePing(_ context.Context, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
	return true, nil
}

func (e *Exposure) handleWSGICall(_ context.Context, args []interface{}, _ map[string]interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("exposure: wsgi_call missing request envelope")
	}
	env, err := decodeRequestEnvelope(args[0])
	if err != nil {
		return nil, err
	}
	if e.handler == nil {
		return nil, fmt.Errorf("exposure: this node does not expose an HTTP handler")
	}

	req, err := http.NewRequest(env.Method, env.URL, bytes.NewReader(env.Body))
	if err != nil {
		return nil, fmt.Errorf("exposure: rebuilding forwarded request: %w", err)
	}
	req.Header = env.Header

	rec := httptest.NewRecorder()
	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("Exposure", nil, "wsgi call error: %v", r)
				rec.WriteHeader(http.StatusInternalServerError)
			}
		}()
		e.handler.ServeHTTP(rec, req)
	}()

	return ResponseEnvelope{
		Status: rec.Code,
		Header: rec.Header(),
		Body:   rec.Body.Bytes(),
	}, nil
}

func (e *Exposure) handleSIOCall(_ context.Context, args []interface{}, _ map[string]interface{}) (interface{}, error) {
	if e.sio == nil {
		return nil, nil
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("exposure: sio_call missing event/namespace")
	}
	event, _ := args[0].(string)
	namespace, _ := args[1].(string)
	var rest []interface{}
	if len(args) > 2 {
		rest = args[2:]
	}
	return nil, e.sio(event, namespace, rest)
}
