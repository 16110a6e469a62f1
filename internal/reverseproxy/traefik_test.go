package reverseproxy

import (
	"net"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistrar(t *testing.T, cfg Config) (*Registrar, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.RedisHost, cfg.RedisPort = splitHostPort(t, mr.Addr())
	return NewRegistrar(cfg, "test-node"), mr
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	hostStr, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return hostStr, port
}

func TestRegistrar_RegisterWritesServiceAndRouterKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeURL = "http://node-a:8080"
	cfg.Rule = DefaultRule("/svc")
	r, mr := newTestRegistrar(t, cfg)

	require.NoError(t, r.Register())

	url, err := mr.Get("traefik/http/services/test-node/loadbalancer/servers/0/url")
	require.NoError(t, err)
	assert.Equal(t, "http://node-a:8080", url)

	rule, err := mr.Get("traefik/http/routers/test-node/rule")
	require.NoError(t, err)
	assert.Equal(t, "PathPrefix(`/svc`)", rule)
}

func TestRegistrar_RegisterWritesForwardAuthWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeURL = "http://node-a:8080"
	cfg.Rule = DefaultRule("/svc")
	cfg.ForwardAuthAddress = "http://auth:9000/verify"
	cfg.ForwardAuthHeaders = "X-User"
	r, mr := newTestRegistrar(t, cfg)

	require.NoError(t, r.Register())

	assert.True(t, mr.Exists("traefik/http/middlewares/test-node/forwardauth/address"))
	middlewares, err := mr.Get("traefik/http/routers/test-node/middlewares")
	require.NoError(t, err)
	assert.Equal(t, "test-node", middlewares)
}

func TestRegistrar_UnregisterDeletesEveryTrackedKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeURL = "http://node-a:8080"
	cfg.Rule = DefaultRule("/svc")
	r, mr := newTestRegistrar(t, cfg)

	require.NoError(t, r.Register())
	require.NoError(t, r.Unregister())

	assert.False(t, mr.Exists("traefik/http/services/test-node/loadbalancer/servers/0/url"))
	assert.False(t, mr.Exists("traefik/http/routers/test-node/rule"))
	assert.Empty(t, r.keys)
}
