package pluginmgr

import (
	"context"
	"fmt"
	"net/http"

	"pylon/internal/dbsupport"
	"pylon/internal/eventbus"
	"pylon/internal/manifest"
	"pylon/internal/perr"
	"pylon/internal/pluginapi"
	"pylon/internal/rpcmgr"
	"pylon/pkg/logging"
)

type deinitHook struct {
	hook pluginapi.Hook
}

// activate instantiates a prepared descriptor's entry point, runs its
// Init inside a database session scope, and drains the registration tables
// into the live app. Only on full success does the descriptor enter the
// activated registry.
func (m *Manager) activate(desc *manifest.Descriptor) error {
	activated := m.activatedSet()
	for _, dep := range desc.Metadata.DependsOn {
		if !activated[dep] {
			return perr.NewPluginError(desc.Name, "init",
				fmt.Errorf("dependency %q is not activated", dep))
		}
	}

	if m.cfg.Activation != "bulk" {
		m.mu.Lock()
		m.sitePaths = append(m.sitePaths, desc.RequirementsPath)
		m.mu.Unlock()
	}

	ctor, err := resolveConstructor(desc)
	if err != nil {
		return perr.NewPluginError(desc.Name, "import", err)
	}
	module, err := ctor(m.pctx, desc)
	if err != nil {
		return perr.NewPluginError(desc.Name, "import", err)
	}

	registrar := &pluginapi.TableRegistrar{Owner: desc.Name, Reg: m.reg}
	if err := m.runInit(module, registrar, desc.Name); err != nil {
		m.discardRegistrations(desc.Name)
		return perr.NewPluginError(desc.Name, "init", err)
	}

	m.installRegistrations(desc.Name)

	desc.Module = module
	desc.Activated = true

	m.mu.Lock()
	m.descriptors[desc.Name] = desc
	m.activationOrder = append(m.activationOrder, desc.Name)
	m.mu.Unlock()

	logging.Info("ModuleManager", "activated plugin %s", desc.Name)
	return nil
}

// runInit calls module.Init and then every init hook the plugin registered,
// all inside one database session scope (committed on success, rolled back
// on failure) when an engine is configured.
func (m *Manager) runInit(module pluginapi.Module, registrar pluginapi.Registrar, owner string) (err error) {
	ctx := context.Background()
	var scope *dbsupport.Scope
	if m.engine != nil {
		ctx, scope = dbsupport.Begin(ctx, m.engine)
		defer func() { scope.Close(err) }()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init panicked: %v", r)
		}
	}()

	if err = module.Init(registrar); err != nil {
		return err
	}
	for _, entry := range m.reg.Inits.Drain(owner) {
		hook, ok := entry.Target.(pluginapi.Hook)
		if !ok {
			continue
		}
		if err = hook(ctx); err != nil {
			return err
		}
	}
	return nil
}

// installRegistrations drains every table the plugin populated during Init
// and wires the entries into the running process: routes into the mux, RPCs
// into the RPC manager, slots into the slot manager, bus events onto the
// bus, SIO events and methods into the manager's own dispatch maps, deinit
// hooks into the teardown list.
func (m *Manager) installRegistrations(owner string) {
	for _, entry := range m.reg.Routes.Drain(owner) {
		handler, ok := entry.Target.(http.HandlerFunc)
		if !ok {
			logging.Warn("ModuleManager", "route %s of %s has unexpected handler type, skipping", entry.Name, owner)
			continue
		}
		m.mux.Handle(entry.Name, handler)
	}

	for _, entry := range m.reg.RPCs.Drain(owner) {
		fn, ok := asRPCFunction(entry.Target)
		if !ok {
			logging.Warn("ModuleManager", "rpc %s of %s has unexpected function type, skipping", entry.Name, owner)
			continue
		}
		name := entry.Name
		if name == "" {
			name = deriveRPCName(owner, entry.Target)
		}
		m.rpc.RegisterFunction(name, fn)
		m.mu.Lock()
		m.pluginRPCs[owner] = append(m.pluginRPCs[owner], name)
		m.mu.Unlock()
	}

	if m.slots != nil {
		for _, entry := range m.reg.Slots.Drain(owner) {
			callback, ok := entry.Target.(pluginapi.SlotCallback)
			if !ok {
				logging.Warn("ModuleManager", "slot %s of %s has unexpected callback type, skipping", entry.Name, owner)
				continue
			}
			slot := entry.Name
			m.slots.RegisterCallback(owner, slot, slot, func(_ context.Context, s string, payload interface{}) (string, error) {
				return callback(s, payload)
			})
		}
	} else {
		m.reg.Slots.Drain(owner)
	}

	for _, entry := range m.reg.BusEvents.Drain(owner) {
		listener, ok := entry.Target.(pluginapi.EventListener)
		if !ok {
			logging.Warn("ModuleManager", "event %s of %s has unexpected listener type, skipping", entry.Name, owner)
			continue
		}
		bl := busListener{event: entry.Name, listener: eventbus.Listener(listener)}
		m.bus.RegisterListener(bl.event, bl.listener)
		m.mu.Lock()
		m.pluginListeners[owner] = append(m.pluginListeners[owner], bl)
		m.mu.Unlock()
	}

	for _, entry := range m.reg.SIOEvents.Drain(owner) {
		handler, ok := entry.Target.(pluginapi.SIOHandler)
		if !ok {
			logging.Warn("ModuleManager", "sio %s of %s has unexpected handler type, skipping", entry.Name, owner)
			continue
		}
		m.mu.Lock()
		m.sioHandlers[entry.Name] = append(m.sioHandlers[entry.Name], sioRegistration{owner: owner, handler: handler})
		m.mu.Unlock()
	}

	for _, entry := range m.reg.Methods.Drain(owner) {
		name := entry.Name
		if name == "" {
			name = deriveRPCName(owner, entry.Target)
		}
		m.mu.Lock()
		m.methods[name] = entry.Target
		m.mu.Unlock()
	}

	for _, entry := range m.reg.Deinits.Drain(owner) {
		hook, ok := entry.Target.(pluginapi.Hook)
		if !ok {
			continue
		}
		m.mu.Lock()
		m.pluginDeinits[owner] = append(m.pluginDeinits[owner], deinitHook{hook: hook})
		m.mu.Unlock()
	}
}

// discardRegistrations drops everything a failed plugin registered before
// its init failed, so nothing of it leaks into the live app.
func (m *Manager) discardRegistrations(owner string) {
	m.reg.Routes.Drain(owner)
	m.reg.Slots.Drain(owner)
	m.reg.RPCs.Drain(owner)
	m.reg.SIOEvents.Drain(owner)
	m.reg.BusEvents.Drain(owner)
	m.reg.Methods.Drain(owner)
	m.reg.Inits.Drain(owner)
	m.reg.Deinits.Drain(owner)
}

// asRPCFunction accepts both the rpcmgr.Function named type and a bare
// function of the same shape.
func asRPCFunction(target interface{}) (rpcmgr.Function, bool) {
	switch f := target.(type) {
	case rpcmgr.Function:
		return f, true
	case func(context.Context, []interface{}, map[string]interface{}) (interface{}, error):
		return rpcmgr.Function(f), true
	default:
		return nil, false
	}
}

// DeinitModules tears everything down symmetrically: each activated
// plugin's deinit hooks and Deinit run in exactly the reverse of activation
// order, tolerantly, then the plugin's RPC functions and bus listeners are
// unregistered, then the providers deinit in reverse construction order.
func (m *Manager) DeinitModules() {
	m.mu.Lock()
	order := append([]string(nil), m.activationOrder...)
	m.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		m.deinitPlugin(name)
	}

	if err := m.configs.Deinit(); err != nil {
		logging.Error("ModuleManager", err, "config provider deinit failed")
	}
	if err := m.reqs.Deinit(); err != nil {
		logging.Error("ModuleManager", err, "requirements provider deinit failed")
	}
	if err := m.plugins.Deinit(); err != nil {
		logging.Error("ModuleManager", err, "plugins provider deinit failed")
	}

	m.mu.Lock()
	m.activationOrder = nil
	m.descriptors = make(map[string]*manifest.Descriptor)
	m.mu.Unlock()
}

func (m *Manager) deinitPlugin(name string) {
	m.mu.Lock()
	desc := m.descriptors[name]
	hooks := m.pluginDeinits[name]
	rpcs := m.pluginRPCs[name]
	listeners := m.pluginListeners[name]
	delete(m.pluginDeinits, name)
	delete(m.pluginRPCs, name)
	delete(m.pluginListeners, name)
	m.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		runTolerantly(name, "deinit hook", func() error { return hooks[i].hook(context.Background()) })
	}
	if desc != nil {
		if module, ok := desc.Module.(pluginapi.Module); ok {
			runTolerantly(name, "deinit", module.Deinit)
		}
	}
	for _, rpcName := range rpcs {
		m.rpc.UnregisterFunction(rpcName)
	}
	for _, l := range listeners {
		m.bus.UnregisterListener(l.event, l.listener)
	}
}

// runTolerantly invokes fn, logging and swallowing both errors and panics,
// so teardown always proceeds to the next plugin.
func runTolerantly(plugin, stage string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("ModuleManager", nil, "%s of %s panicked: %v", stage, plugin, r)
		}
	}()
	if err := fn(); err != nil {
		logging.Error("ModuleManager", err, "%s of %s failed", stage, plugin)
	}
}
