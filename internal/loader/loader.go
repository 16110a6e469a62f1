// Package loader presents plugin bundles to the module manager through one
// interface with two sources: archive-backed (an in-memory zip) and
// filesystem-backed (a plain directory). Either can resolve module
// ownership, read resource bytes, and expose a local path on demand.
package loader

// Loader is the contract both plugin source adapters satisfy.
type Loader interface {
	// FindSpec reports whether this loader owns fullName (prefix match on
	// the plugin's declared namespace).
	FindSpec(fullName string) bool

	// ExecModule returns the raw source bytes for the plugin's entry-point
	// module, for the caller to execute in the plugin's namespace.
	ExecModule() ([]byte, error)

	// GetData reads arbitrary resource bytes at path within the bundle.
	GetData(path string) ([]byte, error)

	// HasFile reports whether path names a regular file in the bundle.
	HasFile(path string) bool

	// HasDirectory reports whether path names a directory in the bundle.
	HasDirectory(path string) bool

	// GetLocalPath returns the bundle's on-disk root, if the loader already
	// has one (filesystem-backed loaders always do; archive-backed loaders
	// only after materializing). Returns ok=false otherwise.
	GetLocalPath() (path string, ok bool)

	// GetLocalLoader materializes the bundle to disk if it is not already
	// there, recording the temp directory it creates into scratch so the
	// lifecycle supervisor can clean it up at shutdown.
	GetLocalLoader(scratch *Scratch) (Loader, error)
}

// Scratch accumulates temporary filesystem objects created while loading
// plugins (materialized archives, requirements scratch files, isolated
// dependency sites) so the lifecycle supervisor can delete them all at
// shutdown. Deletion failures are logged and ignored.
type Scratch struct {
	paths []string
}

// NewScratch constructs an empty Scratch list.
func NewScratch() *Scratch {
	return &Scratch{}
}

// Add records path for later cleanup.
func (s *Scratch) Add(path string) {
	s.paths = append(s.paths, path)
}

// Paths returns every recorded path, in recording order.
func (s *Scratch) Paths() []string {
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}
