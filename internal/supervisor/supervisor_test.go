package supervisor

import (
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pylon/internal/config"
	"pylon/internal/perr"
	cfgprov "pylon/internal/providers/config"
	pluginsprov "pylon/internal/providers/plugins"
	reqprov "pylon/internal/providers/requirements"
)

func TestBuildProviders_Defaults(t *testing.T) {
	plugins, err := buildPluginsProvider(config.ProviderSpec{})
	require.NoError(t, err)
	assert.IsType(t, &pluginsprov.FolderProvider{}, plugins)

	reqs, err := buildRequirementsProvider(config.ProviderSpec{Type: "folder"})
	require.NoError(t, err)
	assert.IsType(t, &reqprov.FolderProvider{}, reqs)

	configs, err := buildConfigProvider(config.ProviderSpec{Type: "folder"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &cfgprov.FolderProvider{}, configs)
}

func TestBuildProviders_InvalidSpecs(t *testing.T) {
	_, err := buildPluginsProvider(config.ProviderSpec{Type: "carrier-pigeon"})
	assert.True(t, perr.IsConfiguration(err))

	_, err = buildPluginsProvider(config.ProviderSpec{Type: "git"})
	assert.True(t, perr.IsConfiguration(err), "git without repo must fail")

	_, err = buildRequirementsProvider(config.ProviderSpec{Type: "s3"})
	assert.True(t, perr.IsConfiguration(err), "s3 without bucket must fail")

	_, err = buildConfigProvider(config.ProviderSpec{Type: "db"}, nil)
	assert.True(t, perr.IsConfiguration(err), "db without engine must fail")
}

func TestHealthEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	var r readiness
	installHealthEndpoints(mux, config.HealthSettings{
		Healthz: "/healthz",
		Livez:   "/livez",
		Readyz:  "/readyz",
	}, &r)

	get := func(path string) int {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/healthz"))
	assert.Equal(t, http.StatusOK, get("/livez"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))

	r.markReady()
	assert.Equal(t, http.StatusOK, get("/readyz"))
	r.markStopped()
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
}

func TestAppMountPattern(t *testing.T) {
	assert.Equal(t, "/", appMountPattern(""))
	assert.Equal(t, "/", appMountPattern("/"))
	assert.Equal(t, "/pylon/", appMountPattern("/pylon"))
	assert.Equal(t, "/pylon/", appMountPattern("/pylon/"))
}

func TestExposureConfig_MapsSecondsAndDefaults(t *testing.T) {
	cfg := exposureConfig(config.ExposureSettings{
		Expose:         true,
		Handle:         config.HandleSettings{Enabled: true, Prefixes: []string{"/forward/"}},
		PingTimeout:    1,
		MaxMissedPings: 3,
	}, "/pylon")
	assert.True(t, cfg.Expose)
	assert.True(t, cfg.HandleEnabled)
	assert.Equal(t, []string{"/pylon"}, cfg.URLPrefixes)
	assert.Equal(t, time.Second, cfg.PingTimeout)
	assert.Equal(t, 3, cfg.MaxMissedPings)
	assert.Equal(t, 15*time.Second, cfg.PingInterval)
}

func TestBusSettings_TransportSelection(t *testing.T) {
	s := busSettings(config.EventsSettings{
		Redis: &config.RedisSettings{Host: "broker.internal"},
	}, "node-a")
	require.NotNil(t, s.Redis)
	assert.Equal(t, "broker.internal:6379", s.Redis.Address)
	assert.Nil(t, s.RabbitMQ)
	assert.Nil(t, s.SocketIO)
}

func TestReaper_ExternalOwnership(t *testing.T) {
	r := newReaper(time.Millisecond)
	called := false
	r.RegisterExternalProcess(4242, func(syscall.WaitStatus) { called = true })
	r.UnregisterExternalProcess(4242)
	r.mu.Lock()
	_, still := r.owned[4242]
	r.mu.Unlock()
	assert.False(t, still)
	assert.False(t, called)
}
