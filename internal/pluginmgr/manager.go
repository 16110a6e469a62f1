// Package pluginmgr implements the Module Manager: full plugin lifecycle
// orchestration from discovery through activation and symmetric teardown.
// Discover → fetch loader → read metadata → resolve order → layer config →
// install requirements into per-plugin isolated sites → instantiate →
// init → drain the registration tables into the running app. Loading runs
// in two passes (preload, then target); one struct owns every
// collaborator, constructed up front, driven by explicit phase methods.
package pluginmgr

import (
	"net/http"
	"sync"

	"gorm.io/gorm"

	"pylon/internal/eventbus"
	"pylon/internal/loader"
	"pylon/internal/manifest"
	cfgprov "pylon/internal/providers/config"
	pluginsprov "pylon/internal/providers/plugins"
	reqprov "pylon/internal/providers/requirements"
	"pylon/internal/pylonctx"
	"pylon/internal/registry"
	"pylon/internal/rpcmgr"
	"pylon/internal/slotmgr"
	"pylon/pkg/logging"
)

// Config is the Module Manager's slice of the process configuration.
type Config struct {
	Preload []string // phase-one plugin names, loaded before everything else
	Skip    []string // never loaded

	RequirementsMode string // relaxed | constrained | strict
	Activation       string // steps | bulk
	CacheEnabled     bool

	// GlobalConfig holds per-plugin overrides from the host settings,
	// layered between the bundle's config.yml and the config provider's
	// custom document.
	GlobalConfig map[string]map[string]interface{}
	Secrets      map[string]string

	// BeforeReloader suppresses module loading entirely: the process is a
	// pre-fork reloader parent and only the reload worker initializes
	// modules.
	BeforeReloader bool
}

// Manager orchestrates the plugin fleet for one process.
type Manager struct {
	pctx  *pylonctx.Context
	reg   *registry.Registry
	bus   *eventbus.Bus
	rpc   *rpcmgr.Manager
	slots *slotmgr.Manager

	engine *gorm.DB
	cfg    Config

	plugins pluginsprov.Provider
	reqs    reqprov.Provider
	configs cfgprov.Provider

	scratch   *loader.Scratch
	installer Installer
	hasher    chainHasher
	mux       *http.ServeMux

	mu              sync.RWMutex
	descriptors     map[string]*manifest.Descriptor // activated plugins only
	activationOrder []string
	sitePaths       []string
	constraints     []string

	pluginRPCs      map[string][]string
	pluginListeners map[string][]busListener
	pluginDeinits   map[string][]deinitHook
	sioHandlers     map[string][]sioRegistration
	methods         map[string]interface{}
}

type busListener struct {
	event    string
	listener eventbus.Listener
}

type sioRegistration struct {
	owner   string
	handler func(event, namespace string, args []interface{})
}

// New constructs a Manager. engine may be nil when no database is
// configured; slots may be nil when the process runs without a slot manager
// (tests mostly).
func New(pctx *pylonctx.Context, reg *registry.Registry, bus *eventbus.Bus, rpc *rpcmgr.Manager,
	slots *slotmgr.Manager, engine *gorm.DB, cfg Config,
	plugins pluginsprov.Provider, reqs reqprov.Provider, configs cfgprov.Provider,
	scratch *loader.Scratch) *Manager {
	if cfg.RequirementsMode == "" {
		cfg.RequirementsMode = "relaxed"
	}
	if cfg.Activation == "" {
		cfg.Activation = "steps"
	}
	return &Manager{
		pctx:            pctx,
		reg:             reg,
		bus:             bus,
		rpc:             rpc,
		slots:           slots,
		engine:          engine,
		cfg:             cfg,
		plugins:         plugins,
		reqs:            reqs,
		configs:         configs,
		scratch:         scratch,
		installer:       &BundleInstaller{Scratch: scratch},
		mux:             http.NewServeMux(),
		descriptors:     make(map[string]*manifest.Descriptor),
		pluginRPCs:      make(map[string][]string),
		pluginListeners: make(map[string][]busListener),
		pluginDeinits:   make(map[string][]deinitHook),
		sioHandlers:     make(map[string][]sioRegistration),
		methods:         make(map[string]interface{}),
	}
}

// SetInstaller swaps the requirements installer. Used by hosts that install
// through an external tool and by tests.
func (m *Manager) SetInstaller(i Installer) { m.installer = i }

// Handler returns the HTTP mux holding every route activated plugins have
// registered. The supervisor mounts it; plugins never own the app directly.
func (m *Manager) Handler() http.Handler { return m.mux }

// Scratch returns the temp-object list this manager records into.
func (m *Manager) Scratch() *loader.Scratch { return m.scratch }

// InitModules runs both load phases: preload first (those plugins may bring
// tooling used by target plugins' requirement install), then target (every
// remaining plugin the provider knows about, minus skips).
func (m *Manager) InitModules() error {
	if m.cfg.BeforeReloader {
		logging.Info("ModuleManager", "before-reloader process, skipping module loading")
		return nil
	}

	if err := m.plugins.Init(); err != nil {
		return err
	}
	if err := m.reqs.Init(); err != nil {
		return err
	}
	if err := m.configs.Init(); err != nil {
		return err
	}

	preload := m.existingOnly(m.cfg.Preload)
	m.loadPhase("preload", preload)

	exclude := append(append([]string{}, m.cfg.Skip...), m.ActivatedNames()...)
	target, err := m.plugins.ListPlugins(exclude)
	if err != nil {
		return err
	}
	m.loadPhase("target", target)
	return nil
}

func (m *Manager) existingOnly(names []string) []string {
	var out []string
	for _, name := range names {
		if m.plugins.PluginExists(name) {
			out = append(out, name)
		} else {
			logging.Warn("ModuleManager", "preload plugin %s not found, skipping", name)
		}
	}
	return out
}

// GetModule returns the activated descriptor for name, if any.
func (m *Manager) GetModule(name string) (*manifest.Descriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.descriptors[name]
	return d, ok
}

// ActivatedNames returns the names of every activated plugin, in activation
// order.
func (m *Manager) ActivatedNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.activationOrder))
	copy(out, m.activationOrder)
	return out
}

func (m *Manager) activatedSet() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]bool, len(m.descriptors))
	for name := range m.descriptors {
		set[name] = true
	}
	return set
}

// DispatchSIO forwards a socket event to every plugin handler registered for
// it. Handler errors stay inside the handler; a panic is recovered and
// logged so one handler never blocks the rest.
func (m *Manager) DispatchSIO(event, namespace string, args []interface{}) error {
	m.mu.RLock()
	regs := append([]sioRegistration(nil), m.sioHandlers[event]...)
	m.mu.RUnlock()
	for _, r := range regs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Error("ModuleManager", nil, "sio handler of %s panicked: %v", r.owner, rec)
				}
			}()
			r.handler(event, namespace, args)
		}()
	}
	return nil
}

// Method returns the registered method target under name, if any.
func (m *Manager) Method(name string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.methods[name]
	return fn, ok
}
