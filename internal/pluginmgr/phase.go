package pluginmgr

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pylon/internal/dependency"
	"pylon/internal/loader"
	"pylon/internal/manifest"
	"pylon/internal/perr"
	"pylon/internal/template"
	hostcfg "pylon/internal/config"
	"pylon/pkg/logging"
)

// loadPhase runs one complete phase over names: make meta-map, resolve
// order, make descriptors with layered config, prepare requirement sites,
// activate. A single bad plugin is logged and skipped; a dependency cycle
// aborts the whole phase (other phases may still proceed).
func (m *Manager) loadPhase(phase string, names []string) {
	if len(names) == 0 {
		return
	}
	logging.Info("ModuleManager", "loading phase %s: %v", phase, names)

	metaMap, loaders := m.makeMetaMap(names)
	if len(metaMap) == 0 {
		return
	}

	order, err := m.resolveDroppingMissing(metaMap)
	if err != nil {
		logging.Error("ModuleManager", err, "cannot resolve phase %s, skipping it", phase)
		return
	}

	descriptors := make([]*manifest.Descriptor, 0, len(order))
	for _, name := range order {
		desc, err := m.makeDescriptor(name, metaMap[name], loaders[name])
		if err != nil {
			logging.Error("ModuleManager", err, "skipping plugin %s", name)
			continue
		}
		descriptors = append(descriptors, desc)
	}

	prepared := descriptors[:0]
	for _, desc := range descriptors {
		if err := m.prepare(desc); err != nil {
			logging.Error("ModuleManager", err, "skipping plugin %s", desc.Name)
			continue
		}
		prepared = append(prepared, desc)
	}

	// bulk activation adds every site path before any init; the default
	// steps mode extends the path list one plugin at a time, inside
	// activate, so earlier plugins cannot import later plugins' sites.
	if m.cfg.Activation == "bulk" {
		m.mu.Lock()
		for _, desc := range prepared {
			m.sitePaths = append(m.sitePaths, desc.RequirementsPath)
		}
		m.mu.Unlock()
	}

	for _, desc := range prepared {
		if err := m.activate(desc); err != nil {
			logging.Error("ModuleManager", err, "skipping plugin %s", desc.Name)
		}
	}
}

// resolveDroppingMissing resolves the phase order, dropping any plugin whose
// hard dependency cannot be satisfied (the drop may cascade: a dependent of
// a dropped plugin is dropped on the next pass). A cycle aborts the whole
// phase instead — there is no single offender to drop.
func (m *Manager) resolveDroppingMissing(metaMap map[string]*manifest.Metadata) ([]string, error) {
	present := m.activatedSet()
	for len(metaMap) > 0 {
		order, err := dependency.Resolve(metaMap, present)
		if err == nil {
			return order, nil
		}
		var missing *perr.MissingDependencyError
		if !errors.As(err, &missing) {
			return nil, err
		}
		logging.Error("ModuleManager", err, "dropping plugin %s from this phase", missing.RequiredBy)
		delete(metaMap, missing.RequiredBy)
	}
	return nil, nil
}

// makeMetaMap fetches each plugin's loader and metadata, materializing the
// bundle to disk when it carries static assets or asks for extraction.
// Malformed plugins are logged and dropped from the phase.
func (m *Manager) makeMetaMap(names []string) (map[string]*manifest.Metadata, map[string]loader.Loader) {
	metaMap := make(map[string]*manifest.Metadata, len(names))
	loaders := make(map[string]loader.Loader, len(names))
	for _, name := range names {
		ldr, err := m.plugins.GetPluginLoader(name)
		if err != nil {
			logging.Error("ModuleManager", err, "cannot get loader for %s, skipping", name)
			continue
		}
		meta, err := m.plugins.GetPluginMetadata(name)
		if err != nil {
			logging.Error("ModuleManager", err, "cannot get metadata for %s, skipping", name)
			continue
		}
		if meta.Extract || ldr.HasDirectory("static") {
			ldr, err = ldr.GetLocalLoader(m.scratch)
			if err != nil {
				logging.Error("ModuleManager", err, "cannot materialize %s, skipping", name)
				continue
			}
		}
		metaMap[name] = meta
		loaders[name] = ldr
	}
	return metaMap, loaders
}

// makeDescriptor builds the lifecycle record for one plugin, reading its
// declared requirements and layering its configuration: bundle defaults ←
// host global override ← config provider custom document, then environment
// and secret substitution.
func (m *Manager) makeDescriptor(name string, meta *manifest.Metadata, ldr loader.Loader) (*manifest.Descriptor, error) {
	desc := &manifest.Descriptor{Name: name, Loader: ldr, Metadata: meta}
	if path, ok := ldr.GetLocalPath(); ok {
		desc.Path = path
	}
	if ldr.HasFile("requirements.txt") {
		data, err := ldr.GetData("requirements.txt")
		if err != nil {
			return nil, perr.NewPluginError(name, "requirements", err)
		}
		desc.Requirements = string(data)
	}

	cfg, err := m.layerConfig(name, ldr)
	if err != nil {
		return nil, perr.NewPluginError(name, "config", err)
	}
	desc.Config = cfg
	return desc, nil
}

func (m *Manager) layerConfig(name string, ldr loader.Loader) (map[string]interface{}, error) {
	var base map[string]interface{}
	if ldr.HasFile("config.yml") {
		data, err := ldr.GetData("config.yml")
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &base); err != nil {
			return nil, err
		}
	}

	override := m.cfg.GlobalConfig[name]

	var custom map[string]interface{}
	if m.configs.ConfigDataExists(name) {
		data, err := m.configs.GetConfigData(name)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &custom); err != nil {
			return nil, err
		}
	}

	merged := template.MergeContexts(base, override, custom)
	return hostcfg.Substitute(merged, m.cfg.Secrets)
}

// prepare computes the plugin's chained cache hash, materializes its
// requirements.txt, and ensures an isolated dependency site exists for it —
// reused from the cache on a hit, installed fresh otherwise. Marks the
// descriptor prepared.
func (m *Manager) prepare(desc *manifest.Descriptor) error {
	cacheHash := m.hasher.next(desc.Requirements)

	reqFile, err := m.materializeRequirements(desc)
	if err != nil {
		return perr.NewPluginError(desc.Name, "requirements", err)
	}

	if m.cfg.CacheEnabled && m.reqs.RequirementsExist(desc.Name, cacheHash) {
		if base, ok := m.reqs.GetRequirements(desc.Name, cacheHash); ok {
			desc.RequirementsBase = base
			desc.RequirementsPath = sitePath(base)
			desc.Prepared = true
			logging.Debug("ModuleManager", "requirements cache hit for %s", desc.Name)
			return nil
		}
	}

	base, err := os.MkdirTemp("", "pylon_site_"+desc.Name+"_")
	if err != nil {
		return perr.NewPluginError(desc.Name, "requirements", err)
	}
	m.scratch.Add(base)

	m.mu.RLock()
	priorSites := append([]string(nil), m.sitePaths...)
	constraints := append([]string(nil), m.constraints...)
	m.mu.RUnlock()

	frozen, err := m.installer.Install(desc, base, reqFile, priorSites, constraints)
	if err != nil {
		return perr.NewPluginError(desc.Name, "requirements", err)
	}

	switch m.cfg.RequirementsMode {
	case "constrained":
		m.mu.Lock()
		m.constraints = append(m.constraints, desc.Requirements)
		m.mu.Unlock()
	case "strict":
		m.mu.Lock()
		m.constraints = append(m.constraints, frozen...)
		m.mu.Unlock()
	}

	if m.cfg.CacheEnabled {
		if err := m.reqs.AddRequirements(desc.Name, cacheHash, base); err != nil {
			logging.Warn("ModuleManager", "cannot cache requirements for %s: %v", desc.Name, err)
		}
	}

	desc.RequirementsBase = base
	desc.RequirementsPath = sitePath(base)

	if err := m.runInitScripts(desc); err != nil {
		return perr.NewPluginError(desc.Name, "requirements", err)
	}

	desc.Prepared = true
	return nil
}

// runInitScripts executes the bundle's declared init scripts after its
// requirements install, from the bundle root, under the declared runtime
// (default /bin/sh).
func (m *Manager) runInitScripts(desc *manifest.Descriptor) error {
	if len(desc.Metadata.InitScripts) == 0 {
		return nil
	}
	local, err := desc.Loader.GetLocalLoader(m.scratch)
	if err != nil {
		return err
	}
	root, ok := local.GetLocalPath()
	if !ok {
		return fmt.Errorf("bundle of %s has no local path for init scripts", desc.Name)
	}
	interp := desc.Metadata.InitScriptsRuntime
	if interp == "" {
		interp = "/bin/sh"
	}
	for _, script := range desc.Metadata.InitScripts {
		cmd := exec.Command(interp, filepath.Join(root, script))
		cmd.Dir = root
		cmd.Env = append(os.Environ(),
			"PYLON_PLUGIN="+desc.Name,
			"PYLON_SITE="+desc.RequirementsBase,
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("init script %s failed: %w (output: %s)", script, err, out)
		}
		logging.Debug("ModuleManager", "init script %s of %s done", script, desc.Name)
	}
	return nil
}

func (m *Manager) materializeRequirements(desc *manifest.Descriptor) (string, error) {
	f, err := os.CreateTemp("", "pylon_requirements_"+desc.Name+"_*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()
	m.scratch.Add(f.Name())
	if _, err := f.WriteString(desc.Requirements); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// sitePath is the leaf site directory inside a requirements base.
func sitePath(base string) string { return filepath.Join(base, "site") }

// chainHasher keys the requirements cache: each plugin's hash digests its
// own requirements text chained after every earlier-installed plugin's
// digest, so a cached site is valid only under an identical install chain.
type chainHasher struct {
	chain []byte
}

func (h *chainHasher) next(requirements string) string {
	buf := make([]byte, 0, len(h.chain)+len(requirements))
	buf = append(buf, h.chain...)
	buf = append(buf, requirements...)
	sum := sha256.Sum256(buf)
	h.chain = sum[:]
	return hex.EncodeToString(sum[:])
}
