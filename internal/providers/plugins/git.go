package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"pylon/internal/loader"
	"pylon/internal/manifest"
	"pylon/pkg/logging"
)

// GitProvider clones plugin bundles from a Git repository: each top-level
// directory under the configured subpath within the repo is one plugin.
type GitProvider struct {
	RepoURL   string
	Branch    string
	SubPath   string // path within the repo tree holding plugin directories
	AuthToken string
	CacheDir  string // local clone destination

	repo *gogit.Repository
}

// NewGitProvider constructs a GitProvider cloning repoURL's subPath directory
// as the plugin tree, checked out into cacheDir.
func NewGitProvider(repoURL, branch, subPath, authToken, cacheDir string) *GitProvider {
	return &GitProvider{
		RepoURL:   repoURL,
		Branch:    branch,
		SubPath:   subPath,
		AuthToken: authToken,
		CacheDir:  cacheDir,
	}
}

func (p *GitProvider) Init() error {
	if _, err := os.Stat(filepath.Join(p.CacheDir, ".git")); err == nil {
		repo, err := gogit.PlainOpen(p.CacheDir)
		if err != nil {
			return fmt.Errorf("plugins: opening existing clone at %s: %w", p.CacheDir, err)
		}
		p.repo = repo
		return p.pull()
	}

	cloneOpts := &gogit.CloneOptions{URL: p.RepoURL}
	if p.Branch != "" {
		cloneOpts.ReferenceName = branchRef(p.Branch)
	}
	if p.AuthToken != "" {
		cloneOpts.Auth = &http.BasicAuth{Username: "token", Password: p.AuthToken}
	}
	repo, err := gogit.PlainClone(p.CacheDir, false, cloneOpts)
	if err != nil {
		return fmt.Errorf("plugins: cloning %s: %w", p.RepoURL, err)
	}
	p.repo = repo
	return nil
}

func (p *GitProvider) pull() error {
	wt, err := p.repo.Worktree()
	if err != nil {
		return err
	}
	pullOpts := &gogit.PullOptions{}
	if p.AuthToken != "" {
		pullOpts.Auth = &http.BasicAuth{Username: "token", Password: p.AuthToken}
	}
	if err := wt.Pull(pullOpts); err != nil && err != gogit.NoErrAlreadyUpToDate {
		logging.Warn("PluginsProvider", "git pull failed, using last known checkout: %v", err)
	}
	return nil
}

func (p *GitProvider) Deinit() error { return nil }

func (p *GitProvider) root() string {
	return filepath.Join(p.CacheDir, p.SubPath)
}

func (p *GitProvider) pluginPath(name string) string {
	return filepath.Join(p.root(), name)
}

func (p *GitProvider) PluginExists(name string) bool {
	info, err := os.Stat(p.pluginPath(name))
	return err == nil && info.IsDir()
}

// AddPlugin and DeletePlugin are not supported against a Git-backed source:
// plugin bundles are managed in the upstream repository, not mutated locally.
func (p *GitProvider) AddPlugin(name, path string) error {
	return fmt.Errorf("plugins: git provider is read-only, cannot add %q", name)
}

func (p *GitProvider) DeletePlugin(name string) error {
	return fmt.Errorf("plugins: git provider is read-only, cannot delete %q", name)
}

func (p *GitProvider) ListPlugins(exclude []string) ([]string, error) {
	entries, err := os.ReadDir(p.root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugins: listing git checkout %s: %w", p.root(), err)
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

func (p *GitProvider) GetPluginLoader(name string) (loader.Loader, error) {
	if !p.PluginExists(name) {
		return nil, fmt.Errorf("plugins: no such plugin %q", name)
	}
	return loader.NewFSLoader(fmt.Sprintf("plugins.%s", name), p.pluginPath(name)), nil
}

func (p *GitProvider) GetPluginMetadata(name string) (*manifest.Metadata, error) {
	if !p.PluginExists(name) {
		return nil, fmt.Errorf("plugins: no such plugin %q", name)
	}
	data, err := os.ReadFile(filepath.Join(p.pluginPath(name), "metadata.json"))
	if err != nil {
		return nil, err
	}
	return manifest.ParseMetadata(data)
}

var _ Provider = (*GitProvider)(nil)
