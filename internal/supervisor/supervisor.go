// Package supervisor owns the process lifecycle: ordered startup of every
// subsystem (context, database, event bus, RPC, slots, module manager,
// exposure, reverse-proxy registration, HTTP server), signal handling,
// zombie reaping, the development reloader gate, and best-effort ordered
// teardown: one struct built from config, a blocking Run, reverse-order
// cleanup.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"pylon/internal/config"
	"pylon/internal/eventbus"
	"pylon/internal/exposure"
	"pylon/internal/loader"
	"pylon/internal/pluginmgr"
	"pylon/internal/pylonctx"
	"pylon/internal/registry"
	"pylon/internal/reverseproxy"
	"pylon/internal/rpcmgr"
	"pylon/internal/slotmgr"
	"pylon/pkg/logging"
)

// Supervisor drives one pylon process from boot to graceful exit.
type Supervisor struct {
	settings *config.Settings
	version  string

	pctx      *pylonctx.Context
	engine    *gorm.DB
	bus       *eventbus.Bus
	rpcMgr    *rpcmgr.Manager
	slotMgr   *slotmgr.Manager
	modules   *pluginmgr.Manager
	expo      *exposure.Exposure
	registrar *reverseproxy.Registrar
	scratch   *loader.Scratch
	reaper    *reaper
	ready     readiness

	beforeReloader bool
}

// New constructs a Supervisor from loaded settings. Nothing external is
// touched until Run.
func New(settings *config.Settings, version string) *Supervisor {
	return &Supervisor{
		settings: settings,
		version:  version,
		scratch:  loader.NewScratch(),
		reaper:   newReaper(time.Second),
	}
}

// Run executes the full lifecycle and blocks until a termination signal or
// a fatal server error. When the development reloader is enabled and this
// process is the pre-fork parent, Run supervises a reload worker instead of
// serving.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.reloaderParent() {
		return s.runReloaderParent(ctx)
	}
	return s.runNode(ctx)
}

func (s *Supervisor) runNode(ctx context.Context) error {
	// The SSL bundle can come in under a prefixed variable; stdlib TLS only
	// honors the bare name.
	if cert := config.Env("SSL_CERT_FILE"); cert != "" {
		os.Setenv("SSL_CERT_FILE", cert)
	}

	nodeName := config.EnvDefault("NODE_NAME", hostnameOrDefault())
	s.pctx = pylonctx.New(nodeName)
	s.pctx.Set(pylonctx.KeySettings, s.settings)
	s.pctx.Set(pylonctx.KeyDebug, config.EnvBool("DEBUG_LOGGING"))
	s.pctx.Set(pylonctx.KeyWebRuntime, config.EnvDefault("WEB_RUNTIME", "native"))
	s.pctx.Set(pylonctx.KeyURLPrefix, s.settings.Server.Path)
	logging.Info("Supervisor", "starting pylon node %s (version %s)", s.pctx.ID(), s.version)

	if err := s.openEngine(); err != nil {
		return err
	}

	s.bus = eventbus.New(s.pctx, eventbus.SelectTransport(busSettings(s.settings.Events, nodeName)), eventbus.JSONCodec{})
	s.pctx.Set(pylonctx.KeyEventManager, s.bus)

	rpcMgr, err := rpcmgr.New(s.pctx, eventbus.SelectTransport(busSettings(rpcTransport(s.settings.RPC), nodeName)), s.engine)
	if err != nil {
		return err
	}
	s.rpcMgr = rpcMgr
	s.pctx.Set(pylonctx.KeyRPCManager, s.rpcMgr)

	s.slotMgr = slotmgr.New(s.pctx, s.bus, s.rpcMgr)
	s.pctx.Set(pylonctx.KeySlotManager, s.slotMgr)

	if err := s.buildModuleManager(); err != nil {
		return err
	}
	s.pctx.Set(pylonctx.KeyModuleManager, s.modules)

	mux := http.NewServeMux()
	installHealthEndpoints(mux, s.settings.Server.Health, &s.ready)

	s.expo = exposure.New(s.pctx, s.bus, s.rpcMgr, exposureConfig(s.settings.Exposure, s.settings.Server.Path), s.modules.Handler(), s.modules.DispatchSIO)
	s.pctx.Set(pylonctx.KeyExposure, s.expo)
	if s.settings.Exposure.Handle.Enabled {
		for _, prefix := range s.settings.Exposure.Handle.Prefixes {
			mux.Handle(prefix, s.expo)
		}
	}
	mux.Handle(appMountPattern(s.settings.Server.Path), s.modules.Handler())
	s.pctx.Set(pylonctx.KeyApp, mux)

	stop := s.pctx.StopEvent()
	go s.reaper.run(stop)
	installSignalHandler(s.pctx)

	if err := s.modules.InitModules(); err != nil {
		logging.Error("Supervisor", err, "module init failed")
	}

	s.registerProxy()
	s.expo.Start()
	s.ready.markReady()
	notifySystemd(daemon.SdNotifyReady)
	go watchdogLoop(stop)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.settings.Server.Host, s.settings.Server.Port),
		Handler: mux,
	}
	serverErr := make(chan error, 1)
	go func() {
		logging.Info("Supervisor", "listening on %s", server.Addr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case <-stop:
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logging.Error("Supervisor", err, "server failed")
		}
	}

	s.shutdown(server)
	return nil
}

// shutdown tears everything down in the reverse of startup. Every step is
// best-effort: later steps run even when earlier ones fail.
func (s *Supervisor) shutdown(server *http.Server) {
	logging.Info("Supervisor", "shutting down")
	s.ready.markStopped()
	notifySystemd(daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Supervisor", err, "server shutdown failed")
	}

	if s.expo != nil {
		s.expo.Stop()
	}
	if s.registrar != nil {
		if err := s.registrar.Unregister(); err != nil {
			logging.Error("Supervisor", err, "reverse-proxy unregister failed")
		}
	}
	if s.modules != nil {
		s.modules.DeinitModules()
	}
	if s.rpcMgr != nil {
		s.rpcMgr.Close()
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			logging.Error("Supervisor", err, "event bus close failed")
		}
	}
	s.cleanupScratch()
	logging.Info("Supervisor", "shutdown complete")
}

// cleanupScratch deletes every temporary object recorded during startup;
// failure to delete is logged and ignored.
func (s *Supervisor) cleanupScratch() {
	paths := s.scratch.Paths()
	for i := len(paths) - 1; i >= 0; i-- {
		if err := os.RemoveAll(paths[i]); err != nil {
			logging.Warn("Supervisor", "cannot delete temp object %s: %v", paths[i], err)
		}
	}
}

func (s *Supervisor) openEngine() error {
	if s.settings.Database.Path == "" {
		return nil
	}
	engine, err := gorm.Open(sqlite.Open(s.settings.Database.Path), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("supervisor: opening database %s: %w", s.settings.Database.Path, err)
	}
	s.engine = engine
	return nil
}

func (s *Supervisor) buildModuleManager() error {
	plugins, err := buildPluginsProvider(s.settings.Modules.Plugins.Provider)
	if err != nil {
		return err
	}
	reqs, err := buildRequirementsProvider(s.settings.Modules.ReqProvider.Provider)
	if err != nil {
		return err
	}
	configs, err := buildConfigProvider(s.settings.Modules.Config.Provider, s.engine)
	if err != nil {
		return err
	}

	globalConfig := make(map[string]map[string]interface{}, len(s.settings.Modules.GlobalConfig))
	for name, override := range s.settings.Modules.GlobalConfig {
		globalConfig[name] = override
	}

	s.modules = pluginmgr.New(s.pctx, registry.New(), s.bus, s.rpcMgr, s.slotMgr, s.engine,
		pluginmgr.Config{
			Preload:          s.settings.Modules.Preload,
			Skip:             s.settings.Modules.Skip,
			RequirementsMode: s.settings.Modules.Requirements.Mode,
			Activation:       s.settings.Modules.Requirements.Activation,
			CacheEnabled:     s.settings.Modules.Requirements.Cache,
			GlobalConfig:     globalConfig,
			Secrets:          s.settings.Secrets,
			BeforeReloader:   s.beforeReloader,
		},
		plugins, reqs, configs, s.scratch)
	return nil
}

func (s *Supervisor) registerProxy() {
	if !s.settings.Traefik.Redis.Configured() || s.beforeReloader {
		return
	}
	cfg := reverseproxy.DefaultConfig()
	cfg.RedisHost = s.settings.Traefik.Redis.Host
	if s.settings.Traefik.Redis.Port != 0 {
		cfg.RedisPort = s.settings.Traefik.Redis.Port
	}
	cfg.RedisPassword = s.settings.Traefik.Redis.Password
	cfg.RedisUseSSL = s.settings.Traefik.Redis.UseSSL
	if s.settings.Traefik.RootKey != "" {
		cfg.RootKey = s.settings.Traefik.RootKey
	}
	if s.settings.Traefik.Entrypoint != "" {
		cfg.Entrypoint = s.settings.Traefik.Entrypoint
	}
	cfg.Rule = s.settings.Traefik.Rule
	if cfg.Rule == "" {
		cfg.Rule = reverseproxy.DefaultRule(s.settings.Server.Path)
	}
	cfg.NodeURL = s.settings.Traefik.NodeURL
	if cfg.NodeURL == "" {
		cfg.NodeURL = fmt.Sprintf("http://%s:%d", hostnameOrDefault(), s.settings.Server.Port)
	}
	cfg.ForwardAuthAddress = s.settings.Traefik.ForwardAuthAddress
	cfg.ForwardAuthHeaders = s.settings.Traefik.ForwardAuthHeaders

	registrar := reverseproxy.NewRegistrar(cfg, s.pctx.NodeName())
	if err := registrar.Register(); err != nil {
		logging.Error("Supervisor", err, "reverse-proxy register failed, continuing without it")
		return
	}
	s.registrar = registrar
}

// installSignalHandler closes the process stop event on SIGTERM/SIGINT,
// triggering the cooperative shutdown of every background loop.
func installSignalHandler(pctx *pylonctx.Context) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigs
		logging.Info("Supervisor", "received signal %s", sig)
		closeStopEvent(pctx)
	}()
}

func closeStopEvent(pctx *pylonctx.Context) {
	defer func() { recover() }() // already closed
	close(pctx.StopEvent())
}

// notifySystemd is best-effort: outside a systemd unit it reports
// unsupported and the state is dropped.
func notifySystemd(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logging.Debug("Supervisor", "sd_notify failed: %v", err)
	}
}

// watchdogLoop pings the systemd watchdog at half the configured interval
// when one is armed for this unit.
func watchdogLoop(stop <-chan struct{}) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			notifySystemd(daemon.SdNotifyWatchdog)
		}
	}
}

func hostnameOrDefault() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "pylon"
}

// appMountPattern turns the configured server path into a ServeMux prefix
// pattern ("/pylon" -> "/pylon/", "" -> "/").
func appMountPattern(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	if !strings.HasSuffix(path, "/") {
		return path + "/"
	}
	return path
}

// busSettings maps the configuration's events section onto the event-bus
// transport selector.
func busSettings(ev config.EventsSettings, nodeName string) eventbus.Settings {
	var out eventbus.Settings
	if ev.RabbitMQ != nil {
		out.RabbitMQ = &eventbus.AMQPConfig{
			URL:      ev.RabbitMQ.URL,
			Exchange: ev.RabbitMQ.Exchange,
			NodeName: nodeName,
		}
	}
	if ev.Redis != nil {
		out.Redis = &eventbus.RedisConfig{
			Address:  fmt.Sprintf("%s:%d", ev.Redis.Host, redisPort(ev.Redis.Port)),
			Password: ev.Redis.Password,
			DB:       ev.Redis.DB,
			Channel:  "pylon_events",
		}
	}
	if ev.SocketIO != nil {
		out.SocketIO = &eventbus.SocketIOConfig{URL: ev.SocketIO.URL}
	}
	return out
}

// rpcTransport reuses the events mapping for the rpc section: same
// transport kinds, independent endpoints.
func rpcTransport(rpc config.RPCSettings) config.EventsSettings {
	return config.EventsSettings{
		RabbitMQ: rpc.RabbitMQ,
		Redis:    rpc.Redis,
		SocketIO: rpc.SocketIO,
	}
}

func redisPort(port int) int {
	if port == 0 {
		return 6379
	}
	return port
}

func exposureConfig(ex config.ExposureSettings, urlPrefix string) exposure.Config {
	cfg := exposure.DefaultConfig()
	cfg.Debug = ex.Debug
	cfg.Expose = ex.Expose
	cfg.HandleEnabled = ex.Handle.Enabled
	// This node announces the prefix it serves; the prefixes it forwards
	// for are mounted on the mux by the supervisor.
	cfg.URLPrefixes = []string{urlPrefix}
	if ex.AnnounceEvery > 0 {
		cfg.AnnounceInterval = time.Duration(ex.AnnounceEvery) * time.Second
	}
	if ex.PingInterval > 0 {
		cfg.PingInterval = time.Duration(ex.PingInterval) * time.Second
	}
	if ex.PingTimeout > 0 {
		cfg.PingTimeout = time.Duration(ex.PingTimeout) * time.Second
	}
	if ex.MaxMissedPings > 0 {
		cfg.MaxMissedPings = ex.MaxMissedPings
	}
	if ex.WSGICallTimeout > 0 {
		cfg.WSGICallTimeout = time.Duration(ex.WSGICallTimeout) * time.Second
	}
	if ex.SIOCallTimeout > 0 {
		cfg.SIOCallTimeout = time.Duration(ex.SIOCallTimeout) * time.Second
	}
	return cfg
}
