package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"pylon/internal/loader"
	"pylon/internal/manifest"
)

// FolderProvider stores each plugin as a subdirectory of Path and returns
// filesystem-backed loaders.
type FolderProvider struct {
	Path string
}

// NewFolderProvider constructs a FolderProvider rooted at path.
func NewFolderProvider(path string) *FolderProvider {
	return &FolderProvider{Path: path}
}

func (p *FolderProvider) Init() error {
	return os.MkdirAll(p.Path, 0o755)
}

func (p *FolderProvider) Deinit() error { return nil }

func (p *FolderProvider) pluginPath(name string) string {
	return filepath.Join(p.Path, name)
}

func (p *FolderProvider) PluginExists(name string) bool {
	info, err := os.Stat(p.pluginPath(name))
	return err == nil && info.IsDir()
}

func (p *FolderProvider) AddPlugin(name, path string) error {
	if p.PluginExists(name) {
		if err := p.DeletePlugin(name); err != nil {
			return err
		}
	}
	return copyTree(path, p.pluginPath(name))
}

func (p *FolderProvider) DeletePlugin(name string) error {
	return os.RemoveAll(p.pluginPath(name))
}

func (p *FolderProvider) ListPlugins(exclude []string) ([]string, error) {
	entries, err := os.ReadDir(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugins: listing %s: %w", p.Path, err)
	}
	excl := excludeSet(exclude)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || excl[e.Name()] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (p *FolderProvider) GetPluginLoader(name string) (loader.Loader, error) {
	if !p.PluginExists(name) {
		return nil, fmt.Errorf("plugins: no such plugin %q", name)
	}
	return loader.NewFSLoader(fmt.Sprintf("plugins.%s", name), p.pluginPath(name)), nil
}

func (p *FolderProvider) GetPluginMetadata(name string) (*manifest.Metadata, error) {
	if !p.PluginExists(name) {
		return nil, fmt.Errorf("plugins: no such plugin %q", name)
	}
	data, err := os.ReadFile(filepath.Join(p.pluginPath(name), "metadata.json"))
	if err != nil {
		return nil, err
	}
	return manifest.ParseMetadata(data)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}

var _ Provider = (*FolderProvider)(nil)
