package requirements

import (
	"encoding/json"
	"os"
	"path/filepath"
)

type cacheMeta struct {
	CacheHash string `json:"cache_hash"`
}

// FolderProvider stores each plugin's requirements cache as a subdirectory
// of Path plus a sibling "<name>.json" metadata record; a lookup hits only
// when both exist and the recorded hash matches.
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

func (p *FolderProvider) payloadPath(name string) string {
	return filepath.Join(p.Path, name)
}

func (p *FolderProvider) metaPath(name string) string {
	return filepath.Join(p.Path, name+".json")
}

func (p *FolderProvider) readMeta(name string) (cacheMeta, bool) {
	data, err := os.ReadFile(p.metaPath(name))
	if err != nil {
		return cacheMeta{}, false
	}
	var meta cacheMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, false
	}
	return meta, true
}

func (p *FolderProvider) RequirementsExist(pluginName, cacheHash string) bool {
	meta, ok := p.readMeta(pluginName)
	if !ok {
		meta = cacheMeta{}
	}
	info, err := os.Stat(p.payloadPath(pluginName))
	return err == nil && info.IsDir() && meta.CacheHash == cacheHash
}

func (p *FolderProvider) GetRequirements(pluginName, cacheHash string) (string, bool) {
	if !p.RequirementsExist(pluginName, cacheHash) {
		return "", false
	}
	return p.payloadPath(pluginName), true
}

func (p *FolderProvider) AddRequirements(pluginName, cacheHash, path string) error {
	if _, err := os.Stat(p.payloadPath(pluginName)); err == nil {
		if err := p.DeleteRequirements(pluginName); err != nil {
			return err
		}
	}
	if err := copyTree(path, p.payloadPath(pluginName)); err != nil {
		return err
	}
	data, err := json.Marshal(cacheMeta{CacheHash: cacheHash})
	if err != nil {
		return err
	}
	return os.WriteFile(p.metaPath(pluginName), data, 0o644)
}

func (p *FolderProvider) DeleteRequirements(pluginName string) error {
	if err := os.RemoveAll(p.payloadPath(pluginName)); err != nil {
		return err
	}
	return os.Remove(p.metaPath(pluginName))
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
