package exposure

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pylon/internal/eventbus"
	"pylon/internal/pylonctx"
	"pylon/internal/rpcmgr"
)

// loopbackTransport is an in-memory Transport that delivers published
// payloads to every subscriber of the event, copying the bytes so each
// side decodes exactly what a broker would have carried. It forces RPC
// requests and responses through the same JSON boundary a real two-process
// deployment crosses.
type loopbackTransport struct {
	mu   sync.Mutex
	subs map[string][]func([]byte)
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{subs: make(map[string][]func([]byte))}
}

func (t *loopbackTransport) Start() error { return nil }
func (t *loopbackTransport) Stop() error  { return nil }

func (t *loopbackTransport) Publish(event string, payload []byte) error {
	t.mu.Lock()
	handlers := append(([]func([]byte))(nil), t.subs[event]...)
	t.mu.Unlock()
	for _, h := range handlers {
		h(append([]byte(nil), payload...))
	}
	return nil
}

func (t *loopbackTransport) Subscribe(event string, handler func(payload []byte)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[event] = append(t.subs[event], handler)
	return func() {}, nil
}

var _ eventbus.Transport = (*loopbackTransport)(nil)

func newTestPair(t *testing.T) (expose, handle *Exposure) {
	t.Helper()

	pctxA := pylonctx.New("node-a")
	busA := eventbus.New(pctxA, nil, eventbus.JSONCodec{})
	rpcA, err := rpcmgr.New(pctxA, nil, nil)
	require.NoError(t, err)

	pctxB := pylonctx.New("node-b")
	busB := eventbus.New(pctxB, nil, eventbus.JSONCodec{})
	rpcB, err := rpcmgr.New(pctxB, nil, nil)
	require.NoError(t, err)

	// A single shared transport-less bus/rpc doesn't cross process
	// boundaries on its own; for this in-process test we share the same
	// rpc.Manager between "nodes" by registering B's functions on A's
	// manager, which is the same mechanism distributed nodes use over a
	// real transport.
	_ = busB
	_ = rpcB

	cfgExpose := DefaultConfig()
	cfgExpose.Expose = true

	cfgHandle := DefaultConfig()
	cfgHandle.HandleEnabled = true

	backend := http.NewServeMux()
	backend.HandleFunc("/svc/hello", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hi"))
	})

	exposeNode := New(pctxB, busA, rpcA, cfgExpose, backend, nil)
	handleNode := New(pctxA, busA, rpcA, cfgHandle, nil, nil)

	exposeNode.Start()
	handleNode.Start()

	t.Cleanup(func() {
		exposeNode.Stop()
		handleNode.Stop()
	})

	return exposeNode, handleNode
}

func TestExposure_ForwardsRequestToLongestPrefixMatch(t *testing.T) {
	exposeNode, handleNode := newTestPair(t)

	handleNode.onPylonExposed(nil, "pylon_exposed", map[string]string{
		"exposure_id": exposeNode.ID(),
		"url_prefix":  "/svc",
	})

	req := httptest.NewRequest(http.MethodGet, "/svc/hello", nil)
	rec := httptest.NewRecorder()
	handleNode.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", rec.Body.String())
}

func TestExposure_UnknownPrefixReturns404(t *testing.T) {
	_, handleNode := newTestPair(t)

	req := httptest.NewRequest(http.MethodGet, "/nothing", nil)
	rec := httptest.NewRecorder()
	handleNode.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExposure_UnexposeRemovesFromRegistry(t *testing.T) {
	exposeNode, handleNode := newTestPair(t)

	handleNode.onPylonExposed(nil, "pylon_exposed", map[string]string{
		"exposure_id": exposeNode.ID(),
		"url_prefix":  "/svc",
	})
	handleNode.onPylonUnexposed(nil, "pylon_unexposed", map[string]string{
		"exposure_id": exposeNode.ID(),
	})

	req := httptest.NewRequest(http.MethodGet, "/svc/hello", nil)
	rec := httptest.NewRecorder()
	handleNode.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExposure_LongestPrefixWinsOverShorter(t *testing.T) {
	_, handleNode := newTestPair(t)

	handleNode.mu.Lock()
	handleNode.registry["/svc"] = "short-match"
	handleNode.registry["/svc/v2"] = "long-match"
	handleNode.mu.Unlock()

	assert.Equal(t, "long-match", handleNode.resolveTarget("/svc/v2/hello"))
	assert.Equal(t, "short-match", handleNode.resolveTarget("/svc/hello"))
}

func TestExposure_PingRPCRegistered(t *testing.T) {
	exposeNode, _ := newTestPair(t)

	result, err := exposeNode.rpc.CallFunctionWithTimeout(exposeNode.ID()+"_ping", time.Second, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestExposure_ForwardsAcrossJSONTransportBoundary(t *testing.T) {
	transport := newLoopbackTransport()

	pctxX := pylonctx.New("node-x")
	busX := eventbus.New(pctxX, nil, eventbus.JSONCodec{})
	rpcX, err := rpcmgr.New(pctxX, transport, nil)
	require.NoError(t, err)

	pctxY := pylonctx.New("node-y")
	busY := eventbus.New(pctxY, nil, eventbus.JSONCodec{})
	rpcY, err := rpcmgr.New(pctxY, transport, nil)
	require.NoError(t, err)

	backend := http.NewServeMux()
	backend.HandleFunc("/foo/bar", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "x=1", r.URL.RawQuery)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	cfgExpose := DefaultConfig()
	cfgExpose.Expose = true
	exposeNode := New(pctxX, busX, rpcX, cfgExpose, backend, nil)
	exposeNode.Start()

	cfgHandle := DefaultConfig()
	cfgHandle.HandleEnabled = true
	handleNode := New(pctxY, busY, rpcY, cfgHandle, nil, nil)
	handleNode.Start()

	t.Cleanup(func() {
		handleNode.Stop()
		exposeNode.Stop()
	})

	handleNode.onPylonExposed(nil, "pylon_exposed", map[string]string{
		"exposure_id": exposeNode.ID(),
		"url_prefix":  "/foo",
	})

	// Y has no local registration for X's wsgi_call, so the request and
	// its response both round-trip through the transport as JSON.
	req := httptest.NewRequest(http.MethodGet, "/foo/bar?x=1", nil)
	rec := httptest.NewRecorder()
	handleNode.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestExposure_LivenessEvictsAfterMaxMissedPings(t *testing.T) {
	_, handleNode := newTestPair(t)
	handleNode.cfg.PingInterval = 0 // every tick considers the peer stale
	handleNode.cfg.MaxMissedPings = 3

	handleNode.onPylonExposed(nil, "pylon_exposed", map[string]string{
		"exposure_id": "pylon_dead-peer",
		"url_prefix":  "/dead",
	})

	// The dead peer's ping RPC is not registered anywhere, so every ping
	// fails. Two failures keep the entry; the third evicts it.
	checker := newLivenessChecker(handleNode)
	checker.tick()
	checker.tick()
	assert.Equal(t, "pylon_dead-peer", handleNode.resolveTarget("/dead/x"))

	checker.tick()
	assert.Equal(t, "", handleNode.resolveTarget("/dead/x"))

	// Eviction is idempotent and a later request 404s.
	handleNode.dropExposureID("pylon_dead-peer")
	rec := httptest.NewRecorder()
	handleNode.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dead/x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
