// Package pylonctx implements the process-wide shared Context: the single
// mutable namespace threaded through every subsystem. An explicit value
// passed into each constructor, never a hidden global.
package pylonctx

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"pylon/pkg/logging"
)

// known well-defined keys, kept as constants so callers don't typo the
// field names every subsystem shares.
const (
	KeySettings      = "settings"
	KeyNodeName      = "node_name"
	KeyID            = "id"
	KeyURLPrefix     = "url_prefix"
	KeyDebug         = "debug"
	KeyWebRuntime    = "web_runtime"
	KeyApp           = "app"
	KeyStopEvent     = "stop_event"
	KeyModuleManager = "module_manager"
	KeyEventManager  = "event_manager"
	KeyRPCManager    = "rpc_manager"
	KeySlotManager   = "slot_manager"
	KeyExposure      = "exposure"
)

// MissingKeyError is returned by Get when the requested attribute was never
// set. Context access is attribute-style with absent-key failure.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("context: no value set for key %q", e.Key)
}

// Context is the single process-wide namespace. One instance is created at
// boot and disposed at exit; every subsystem receives a pointer to it.
type Context struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// New creates an empty Context. The node id is derived immediately:
// node-name plus a fresh UUID4.
func New(nodeName string) *Context {
	c := &Context{values: make(map[string]interface{})}
	c.Set(KeyNodeName, nodeName)
	c.Set(KeyID, fmt.Sprintf("%s-%s", nodeName, uuid.NewString()))
	return c
}

// Set assigns a value under key, overwriting any prior value.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns the value under key, or a MissingKeyError if it was never set.
func (c *Context) Get(key string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	if !ok {
		return nil, &MissingKeyError{Key: key}
	}
	return v, nil
}

// MustGet panics if key is absent. Reserved for boot-time reads of values
// this process itself is guaranteed to have set earlier in the startup
// sequence.
func (c *Context) MustGet(key string) interface{} {
	v, err := c.Get(key)
	if err != nil {
		logging.Error("Context", err, "MustGet(%s) failed", key)
		panic(err)
	}
	return v
}

// Has reports whether key currently has a value.
func (c *Context) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[key]
	return ok
}

// Delete removes key, if present. Used by the lifecycle supervisor during
// shutdown and by tests.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
}

// NodeName is a typed convenience accessor over KeyNodeName.
func (c *Context) NodeName() string {
	v, err := c.Get(KeyNodeName)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ID is a typed convenience accessor over KeyID.
func (c *Context) ID() string {
	v, err := c.Get(KeyID)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// StopEvent returns the process-wide shutdown channel, creating it on first
// use. The supervisor's node loop, zombie reaper and systemd watchdog select
// on this channel; the exposure announcer and pinger stop on their own
// channel, closed by Exposure.Stop.
func (c *Context) StopEvent() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[KeyStopEvent]; ok {
		if ch, ok := v.(chan struct{}); ok {
			return ch
		}
	}
	ch := make(chan struct{})
	c.values[KeyStopEvent] = ch
	return ch
}

// Stopped reports whether StopEvent has been closed.
func (c *Context) Stopped() bool {
	ch := c.StopEvent()
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
