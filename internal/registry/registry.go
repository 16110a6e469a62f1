// Package registry implements the eight owner-keyed registration tables a
// plugin populates during init: routes, slots, RPCs, SIO events, bus
// events, methods, inits, deinits. Plain in-memory state guarded by a
// single RWMutex per table, plus a panic-safe publish helper for
// subscriber-style fan-out.
package registry

import (
	"sort"
	"sync"

	"pylon/pkg/logging"
)

// Entry is one decorator registration: a name, an arbitrary target (the
// handler function, in whatever representation the caller uses — route
// handler, RPC function, slot callback, etc.), and free-form options
// attached by the decorator call (rule pattern, proxy name, auto_names...).
type Entry struct {
	Name    string
	Target  interface{}
	Options map[string]interface{}
}

// Table is one of the eight module-keyed registration tables. Entries are
// appended in import order and never reordered; a plugin may register more
// than one entry under the same table.
type Table struct {
	mu      sync.RWMutex
	byOwner map[string][]Entry
}

func newTable() *Table {
	return &Table{byOwner: make(map[string][]Entry)}
}

// Register appends entry under owner (the declaring plugin's name).
func (t *Table) Register(owner string, entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byOwner[owner] = append(t.byOwner[owner], entry)
}

// For returns a copy of the entries registered by owner, in registration
// order. Returns an empty slice if owner registered nothing.
func (t *Table) For(owner string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	src := t.byOwner[owner]
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}

// Owners returns every plugin name that has registered at least one entry,
// sorted for deterministic iteration.
func (t *Table) Owners() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	owners := make([]string, 0, len(t.byOwner))
	for o := range t.byOwner {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners
}

// Drain removes and returns owner's entries. The module manager calls this
// when a plugin is activated, moving the entries into the live app.
func (t *Table) Drain(owner string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.byOwner[owner]
	delete(t.byOwner, owner)
	return entries
}

// All returns every entry across every owner, in owner-sorted then
// registration order.
func (t *Table) All() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	owners := make([]string, 0, len(t.byOwner))
	for o := range t.byOwner {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	var out []Entry
	for _, o := range owners {
		out = append(out, t.byOwner[o]...)
	}
	return out
}

// Registry bundles the eight extension tables a plugin may populate
// during its registration phase.
type Registry struct {
	Routes     *Table
	Slots      *Table
	RPCs       *Table
	SIOEvents  *Table
	BusEvents  *Table
	Methods    *Table
	Inits      *Table
	Deinits    *Table
}

// New constructs an empty Registry with all eight tables initialized.
func New() *Registry {
	return &Registry{
		Routes:    newTable(),
		Slots:     newTable(),
		RPCs:      newTable(),
		SIOEvents: newTable(),
		BusEvents: newTable(),
		Methods:   newTable(),
		Inits:     newTable(),
		Deinits:   newTable(),
	}
}

// PublishSafely invokes each subscriber in turn, recovering from and
// logging any panic so that one failing subscriber never prevents the
// others from running. Delivery is synchronous: bus and slot callers need
// every subscriber to have completed before the firing call returns.
func PublishSafely(subsystem string, subscribers []func(), onPanic func(recovered interface{})) {
	for _, sub := range subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error(subsystem, nil, "subscriber panicked: %v", r)
					if onPanic != nil {
						onPanic(r)
					}
				}
			}()
			sub()
		}()
	}
}
