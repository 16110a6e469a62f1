package pluginmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pylon/internal/loader"
	"pylon/internal/manifest"
)

// Installer provisions one plugin's isolated dependency site. The default
// BundleInstaller consumes dependency payloads captured at build time;
// hosts with an external package tool can swap in their own.
type Installer interface {
	// Install populates siteRoot for desc. reqFile is the materialized
	// requirements.txt, priorSites are the site paths of every
	// earlier-installed plugin (the install may resolve against them, never
	// mutate them), and constraints carries the accumulated constraint
	// entries of the selected requirements mode. Returns the frozen list of
	// installed entries, which strict mode feeds forward as constraints for
	// later plugins.
	Install(desc *manifest.Descriptor, siteRoot, reqFile string, priorSites, constraints []string) ([]string, error)
}

// BundleInstaller installs from the plugin bundle itself: a bundle built
// for this runtime vendors its dependency payload under requirements/, and
// install is a copy of that payload into the isolated site. Plugins without
// a payload get an empty site (their requirements are satisfied by prior
// sites or by the host binary).
type BundleInstaller struct {
	// Scratch records any temp directory created while materializing an
	// archive-backed bundle for payload extraction.
	Scratch *loader.Scratch
}

func (i *BundleInstaller) Install(desc *manifest.Descriptor, siteRoot, reqFile string, priorSites, constraints []string) ([]string, error) {
	site := sitePath(siteRoot)
	if err := os.MkdirAll(site, 0o755); err != nil {
		return nil, err
	}

	if err := writeInstallRecord(siteRoot, reqFile, priorSites, constraints); err != nil {
		return nil, err
	}

	local, err := desc.Loader.GetLocalLoader(i.Scratch)
	if err != nil || local == nil {
		// Archive loaders without a materialized copy carry no payload.
		return nil, nil
	}
	root, ok := local.GetLocalPath()
	if !ok {
		return nil, nil
	}
	payload := filepath.Join(root, "requirements")
	info, err := os.Stat(payload)
	if err != nil || !info.IsDir() {
		return nil, nil
	}

	entries, err := os.ReadDir(payload)
	if err != nil {
		return nil, err
	}
	var frozen []string
	for _, entry := range entries {
		if err := copyEntry(filepath.Join(payload, entry.Name()), filepath.Join(site, entry.Name())); err != nil {
			return nil, err
		}
		frozen = append(frozen, entry.Name())
	}
	sort.Strings(frozen)
	return frozen, nil
}

// writeInstallRecord leaves the install inputs next to the site so a cached
// base is self-describing: which requirements it satisfied, which prior
// sites were visible, and which constraints applied.
func writeInstallRecord(siteRoot, reqFile string, priorSites, constraints []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "requirements: %s\n", reqFile)
	for _, p := range priorSites {
		fmt.Fprintf(&b, "prior: %s\n", p)
	}
	for _, c := range constraints {
		for _, line := range strings.Split(strings.TrimSpace(c), "\n") {
			if line != "" {
				fmt.Fprintf(&b, "constraint: %s\n", line)
			}
		}
	}
	return os.WriteFile(filepath.Join(siteRoot, "install.txt"), []byte(b.String()), 0o644)
}

func copyEntry(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := copyEntry(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}
