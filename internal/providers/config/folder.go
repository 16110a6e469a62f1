package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// FolderProvider stores each plugin's custom config.yml bytes as a file
// named "<plugin>.yml" under Path.
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

func (p *FolderProvider) filePath(name string) string {
	return filepath.Join(p.Path, name+".yml")
}

func (p *FolderProvider) ConfigDataExists(pluginName string) bool {
	_, err := os.Stat(p.filePath(pluginName))
	return err == nil
}

func (p *FolderProvider) GetConfigData(pluginName string) ([]byte, error) {
	if !p.ConfigDataExists(pluginName) {
		return nil, fmt.Errorf("config: no custom config for %q", pluginName)
	}
	return os.ReadFile(p.filePath(pluginName))
}

func (p *FolderProvider) AddConfigData(pluginName string, data []byte) error {
	return os.WriteFile(p.filePath(pluginName), data, 0o644)
}

func (p *FolderProvider) DeleteConfigData(pluginName string) error {
	if !p.ConfigDataExists(pluginName) {
		return nil
	}
	return os.Remove(p.filePath(pluginName))
}

var _ Provider = (*FolderProvider)(nil)
