// Package requirements implements the requirements-cache provider: a keyed
// (plugin_name, cache_hash) store of isolated dependency-site directories,
// with a folder backend and an object-store (S3-compatible) backend.
package requirements

// Provider is the contract every requirements-cache backend satisfies.
type Provider interface {
	Init() error
	Deinit() error

	// RequirementsExist reports whether a cached site exists for
	// (pluginName, cacheHash); a hit requires both the payload and a
	// metadata record whose stored hash matches cacheHash exactly.
	RequirementsExist(pluginName, cacheHash string) bool
	// GetRequirements returns the local directory holding the cached
	// dependency site for (pluginName, cacheHash), materializing it from
	// the backend if needed. Returns ok=false on a cache miss.
	GetRequirements(pluginName, cacheHash string) (path string, ok bool)
	AddRequirements(pluginName, cacheHash, path string) error
	DeleteRequirements(pluginName string) error
}
