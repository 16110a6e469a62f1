package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSLoader presents a plugin bundle that already lives on disk: a plain
// directory tree with metadata.json, an optional config.yml and
// requirements.txt, and a compiled "module.so" entry point
// (internal/pluginmgr does the actual plugin.Open, since only it knows the
// constructor symbol it expects).
type FSLoader struct {
	moduleName string
	root       string
}

// NewFSLoader constructs a loader rooted at root for moduleName (the plugin's
// declared namespace, e.g. "plugins.billing").
func NewFSLoader(moduleName, root string) *FSLoader {
	return &FSLoader{moduleName: moduleName, root: root}
}

func (l *FSLoader) FindSpec(fullName string) bool {
	return fullName == l.moduleName || strings.HasPrefix(fullName, l.moduleName+".")
}

func (l *FSLoader) ExecModule() ([]byte, error) {
	return l.GetData("module.so")
}

func (l *FSLoader) GetData(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(l.root, filepath.FromSlash(path)))
}

func (l *FSLoader) HasFile(path string) bool {
	info, err := os.Stat(filepath.Join(l.root, filepath.FromSlash(path)))
	return err == nil && !info.IsDir()
}

func (l *FSLoader) HasDirectory(path string) bool {
	info, err := os.Stat(filepath.Join(l.root, filepath.FromSlash(path)))
	return err == nil && info.IsDir()
}

func (l *FSLoader) GetLocalPath() (string, bool) {
	return l.root, true
}

func (l *FSLoader) GetLocalLoader(scratch *Scratch) (Loader, error) {
	return l, nil
}

// ModuleName returns the loader's declared plugin namespace.
func (l *FSLoader) ModuleName() string { return l.moduleName }

// Root returns the bundle's on-disk directory.
func (l *FSLoader) Root() string { return l.root }

var _ Loader = (*FSLoader)(nil)
var _ fmt.Stringer = (*FSLoader)(nil)

func (l *FSLoader) String() string {
	return fmt.Sprintf("fs-loader(%s @ %s)", l.moduleName, l.root)
}
