// Package plugins implements the plugins-source provider: discovery and
// storage of plugin bundles, with two swappable backends (folder, git)
// selected by provider.type in configuration.
package plugins

import (
	"pylon/internal/loader"
	"pylon/internal/manifest"
)

// Provider is the contract every plugins-source backend satisfies.
type Provider interface {
	Init() error
	Deinit() error

	PluginExists(name string) bool
	AddPlugin(name, path string) error
	DeletePlugin(name string) error
	// ListPlugins returns every known plugin name, sorted, excluding any
	// name present in exclude.
	ListPlugins(exclude []string) ([]string, error)
	GetPluginLoader(name string) (loader.Loader, error)
	GetPluginMetadata(name string) (*manifest.Metadata, error)
}

func excludeSet(exclude []string) map[string]bool {
	set := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		set[name] = true
	}
	return set
}
