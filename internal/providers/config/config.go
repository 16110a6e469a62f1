// Package config implements the per-plugin custom-configuration provider:
// a folder backend storing raw YAML bytes per plugin, and a DB-backed
// variant that wraps any other backend (reads fall through when no row
// exists, writes go to the database only).
package config

// Provider is the contract every config-data backend satisfies.
type Provider interface {
	Init() error
	Deinit() error

	ConfigDataExists(pluginName string) bool
	GetConfigData(pluginName string) ([]byte, error)
	AddConfigData(pluginName string, data []byte) error
	DeleteConfigData(pluginName string) error
}
