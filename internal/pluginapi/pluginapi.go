// Package pluginapi defines the surface a compiled plugin exposes to the
// module manager and the Registrar a plugin uses to publish its extension
// points. Registration is an explicit phase: each plugin publishes its
// routes/slots/rpcs/events/methods through the Registrar handed to Init,
// and the module manager installs them after Init returns.
package pluginapi

import (
	"context"
	"net/http"

	"pylon/internal/pylonctx"
	"pylon/internal/registry"
)

// Module is the entry-point object every plugin bundle's module.so exports
// via a NewModule constructor.
type Module interface {
	// Init runs once, in dependency order, never concurrently with another
	// plugin's Init. It should register every route/slot/rpc/sio/event/
	// method it owns on reg before returning.
	Init(reg Registrar) error
	// Deinit runs once, in exactly the reverse of activation order.
	// Deinit errors are logged and swallowed by the caller.
	Deinit() error
}

// Constructor is the symbol ("NewModule") every plugin's module.so exports,
// looked up via the stdlib plugin package by internal/pluginmgr.
type Constructor func(ctx *pylonctx.Context, descriptor interface{}) (Module, error)

// EventListener is the signature every bus listener a plugin registers
// must satisfy: the process context first, then the event name, then the
// payload.
type EventListener func(ctx *pylonctx.Context, event string, payload interface{})

// SlotCallback is the signature a plugin registers under a slot name. A
// non-empty return value is concatenated into the slot's rendered output.
type SlotCallback func(slot string, payload interface{}) (string, error)

// SIOHandler forwards a SocketIO-style event to a plugin.
type SIOHandler func(event, namespace string, args []interface{})

// Hook is an extra init/deinit callback a plugin registers beyond its
// Module.Init/Module.Deinit pair. Init hooks run right after Module.Init
// returns, inside the same database session scope; deinit hooks run right
// before Module.Deinit during teardown.
type Hook func(ctx context.Context) error

// Registrar is handed to Module.Init so the plugin can publish its
// extension points without reaching into global state. It is the
// per-plugin view over the eight shared registration tables.
type Registrar interface {
	Route(rule string, handler http.HandlerFunc, options map[string]interface{})
	Slot(name string, callback SlotCallback)
	RPC(name string, fn interface{})
	SIO(name string, handler SIOHandler)
	Event(name string, listener EventListener)
	Method(name string, fn interface{})
	OnInit(hook Hook)
	OnDeinit(hook Hook)
}

// TableRegistrar is the concrete Registrar the Module Manager constructs per
// plugin, writing directly into the shared registry.Registry under owner.
type TableRegistrar struct {
	Owner string
	Reg   *registry.Registry
}

func (r *TableRegistrar) Route(rule string, handler http.HandlerFunc, options map[string]interface{}) {
	r.Reg.Routes.Register(r.Owner, registry.Entry{Name: rule, Target: handler, Options: options})
}

func (r *TableRegistrar) Slot(name string, callback SlotCallback) {
	r.Reg.Slots.Register(r.Owner, registry.Entry{Name: name, Target: callback})
}

func (r *TableRegistrar) RPC(name string, fn interface{}) {
	r.Reg.RPCs.Register(r.Owner, registry.Entry{Name: name, Target: fn})
}

func (r *TableRegistrar) SIO(name string, handler SIOHandler) {
	r.Reg.SIOEvents.Register(r.Owner, registry.Entry{Name: name, Target: handler})
}

func (r *TableRegistrar) Event(name string, listener EventListener) {
	r.Reg.BusEvents.Register(r.Owner, registry.Entry{Name: name, Target: listener})
}

func (r *TableRegistrar) Method(name string, fn interface{}) {
	r.Reg.Methods.Register(r.Owner, registry.Entry{Name: name, Target: fn})
}

func (r *TableRegistrar) OnInit(hook Hook) {
	r.Reg.Inits.Register(r.Owner, registry.Entry{Target: hook})
}

func (r *TableRegistrar) OnDeinit(hook Hook) {
	r.Reg.Deinits.Register(r.Owner, registry.Entry{Target: hook})
}

var _ Registrar = (*TableRegistrar)(nil)
