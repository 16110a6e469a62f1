package pluginmgr

import (
	"fmt"
	"path/filepath"
	"plugin"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"pylon/internal/manifest"
	"pylon/internal/pluginapi"
	"pylon/internal/pylonctx"
)

// pluginEntrySymbol is the symbol every compiled plugin bundle exports from
// its module.so.
const pluginEntrySymbol = "NewModule"

var (
	builtinsMu sync.RWMutex
	builtins   = make(map[string]pluginapi.Constructor)
)

// RegisterBuiltin registers a statically linked plugin constructor under its
// metadata module identifier, bypassing the shared-object lookup. Used for
// plugins compiled into the host binary and throughout the test suite.
func RegisterBuiltin(moduleID string, ctor pluginapi.Constructor) {
	builtinsMu.Lock()
	defer builtinsMu.Unlock()
	builtins[moduleID] = ctor
}

// UnregisterBuiltin removes a builtin registration.
func UnregisterBuiltin(moduleID string) {
	builtinsMu.Lock()
	defer builtinsMu.Unlock()
	delete(builtins, moduleID)
}

// resolveConstructor finds the entry-point constructor for desc: builtins
// first, then the bundle's module.so via the stdlib plugin package. The
// bundle must be materialized on disk for the shared-object path to exist.
func resolveConstructor(desc *manifest.Descriptor) (pluginapi.Constructor, error) {
	builtinsMu.RLock()
	ctor, ok := builtins[desc.Metadata.Module]
	builtinsMu.RUnlock()
	if ok {
		return ctor, nil
	}

	root, ok := desc.Loader.GetLocalPath()
	if !ok {
		return nil, fmt.Errorf("bundle for %q has no local path and no builtin constructor", desc.Name)
	}
	soPath := filepath.Join(root, "module.so")
	p, err := plugin.Open(soPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", soPath, err)
	}
	sym, err := p.Lookup(pluginEntrySymbol)
	if err != nil {
		return nil, fmt.Errorf("looking up %s in %s: %w", pluginEntrySymbol, soPath, err)
	}
	switch c := sym.(type) {
	case pluginapi.Constructor:
		return c, nil
	case func(*pylonctx.Context, interface{}) (pluginapi.Module, error):
		return pluginapi.Constructor(c), nil
	case *pluginapi.Constructor:
		return *c, nil
	default:
		return nil, fmt.Errorf("%s in %s has unexpected type %T", pluginEntrySymbol, soPath, sym)
	}
}

// deriveRPCName builds a registration name from the owner and the target
// function's own symbol name when the plugin registered it without one.
func deriveRPCName(owner string, target interface{}) string {
	v := reflect.ValueOf(target)
	if v.Kind() == reflect.Func {
		if f := runtime.FuncForPC(v.Pointer()); f != nil {
			full := f.Name()
			if idx := strings.LastIndex(full, "."); idx >= 0 {
				full = full[idx+1:]
			}
			full = strings.TrimSuffix(full, "-fm")
			if full != "" {
				return owner + "_" + strings.ToLower(full)
			}
		}
	}
	return owner + "_fn"
}
