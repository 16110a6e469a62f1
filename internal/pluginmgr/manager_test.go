package pluginmgr

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pylon/internal/eventbus"
	"pylon/internal/loader"
	"pylon/internal/manifest"
	cfgprov "pylon/internal/providers/config"
	pluginsprov "pylon/internal/providers/plugins"
	reqprov "pylon/internal/providers/requirements"
	"pylon/internal/pluginapi"
	"pylon/internal/pylonctx"
	"pylon/internal/registry"
	"pylon/internal/rpcmgr"
)

type recordedModule struct {
	name    string
	journal *[]string
	reg     func(r pluginapi.Registrar)
}

func (m *recordedModule) Init(r pluginapi.Registrar) error {
	*m.journal = append(*m.journal, "init:"+m.name)
	if m.reg != nil {
		m.reg(r)
	}
	return nil
}

func (m *recordedModule) Deinit() error {
	*m.journal = append(*m.journal, "deinit:"+m.name)
	return nil
}

func writeBundle(t *testing.T, root, name string, meta manifest.Metadata, requirements string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o644))
	if requirements != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(requirements), 0o644))
	}
}

func newTestManager(t *testing.T, pluginsDir string, cfg Config) (*Manager, *[]string) {
	t.Helper()
	pctx := pylonctx.New("test-node")
	bus := eventbus.New(pctx, nil, eventbus.JSONCodec{})
	rpc, err := rpcmgr.New(pctx, nil, nil)
	require.NoError(t, err)

	journal := &[]string{}
	m := New(pctx, registry.New(), bus, rpc, nil, nil, cfg,
		pluginsprov.NewFolderProvider(pluginsDir),
		reqprov.NewFolderProvider(filepath.Join(t.TempDir(), "reqcache")),
		cfgprov.NewFolderProvider(filepath.Join(t.TempDir(), "configs")),
		loader.NewScratch())
	return m, journal
}

func registerRecorded(t *testing.T, moduleID, name string, journal *[]string, reg func(r pluginapi.Registrar)) {
	t.Helper()
	RegisterBuiltin(moduleID, func(_ *pylonctx.Context, _ interface{}) (pluginapi.Module, error) {
		return &recordedModule{name: name, journal: journal, reg: reg}, nil
	})
	t.Cleanup(func() { UnregisterBuiltin(moduleID) })
}

func TestInitModules_TwoPluginLoadOrder(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "a", manifest.Metadata{Name: "a", Module: "plugins.test.a"}, "")
	writeBundle(t, dir, "b", manifest.Metadata{Name: "b", Module: "plugins.test.b", DependsOn: []string{"a"}}, "")

	m, journal := newTestManager(t, dir, Config{})
	registerRecorded(t, "plugins.test.a", "a", journal, nil)
	registerRecorded(t, "plugins.test.b", "b", journal, func(pluginapi.Registrar) {
		// When b initializes, a must already be in the activated registry.
		desc, ok := m.GetModule("a")
		assert.True(t, ok)
		if ok {
			assert.True(t, desc.Activated)
		}
	})

	require.NoError(t, m.InitModules())
	assert.Equal(t, []string{"init:a", "init:b"}, *journal)
	assert.Equal(t, []string{"a", "b"}, m.ActivatedNames())

	descA, ok := m.GetModule("a")
	require.True(t, ok)
	assert.True(t, descA.Prepared)
	assert.True(t, descA.Activated)
	require.NoError(t, descA.Validate())
}

func TestInitModules_MissingDependencyDropsOnlyDependent(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "a", manifest.Metadata{Name: "a", Module: "plugins.test.a"}, "")
	writeBundle(t, dir, "b", manifest.Metadata{Name: "b", Module: "plugins.test.b", DependsOn: []string{"c"}}, "")

	m, journal := newTestManager(t, dir, Config{})
	registerRecorded(t, "plugins.test.a", "a", journal, nil)
	registerRecorded(t, "plugins.test.b", "b", journal, nil)

	require.NoError(t, m.InitModules())
	// b's hard dependency c does not exist: b never reaches prepared, a
	// still activates.
	_, okB := m.GetModule("b")
	assert.False(t, okB)
	assert.NotContains(t, *journal, "init:b")
	assert.Equal(t, []string{"a"}, m.ActivatedNames())
}

func TestInitModules_PreloadPhaseShieldsTarget(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "tooling", manifest.Metadata{Name: "tooling", Module: "plugins.test.tooling"}, "")
	writeBundle(t, dir, "b", manifest.Metadata{Name: "b", Module: "plugins.test.b", DependsOn: []string{"c"}}, "")

	m, journal := newTestManager(t, dir, Config{Preload: []string{"tooling"}})
	registerRecorded(t, "plugins.test.tooling", "tooling", journal, nil)
	registerRecorded(t, "plugins.test.b", "b", journal, nil)

	require.NoError(t, m.InitModules())
	// The preload phase resolves independently of the target phase, where
	// b is dropped for its missing dependency.
	assert.Contains(t, *journal, "init:tooling")
	assert.NotContains(t, *journal, "init:b")
	assert.Equal(t, []string{"tooling"}, m.ActivatedNames())
}

func TestInitModules_CycleActivatesNothing(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "a", manifest.Metadata{Name: "a", Module: "plugins.test.a", InitAfter: []string{"b"}}, "")
	writeBundle(t, dir, "b", manifest.Metadata{Name: "b", Module: "plugins.test.b", InitAfter: []string{"a"}}, "")

	m, journal := newTestManager(t, dir, Config{})
	registerRecorded(t, "plugins.test.a", "a", journal, nil)
	registerRecorded(t, "plugins.test.b", "b", journal, nil)

	require.NoError(t, m.InitModules())
	assert.Empty(t, *journal)
	assert.Empty(t, m.ActivatedNames())
}

func TestDeinitModules_ReverseActivationOrder(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "a", manifest.Metadata{Name: "a", Module: "plugins.test.a"}, "")
	writeBundle(t, dir, "b", manifest.Metadata{Name: "b", Module: "plugins.test.b", DependsOn: []string{"a"}}, "")

	m, journal := newTestManager(t, dir, Config{})
	registerRecorded(t, "plugins.test.a", "a", journal, nil)
	registerRecorded(t, "plugins.test.b", "b", journal, nil)

	require.NoError(t, m.InitModules())
	m.DeinitModules()
	assert.Equal(t, []string{"init:a", "init:b", "deinit:b", "deinit:a"}, *journal)
	assert.Empty(t, m.ActivatedNames())
}

func TestInitModules_SkipAndBeforeReloader(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "a", manifest.Metadata{Name: "a", Module: "plugins.test.a"}, "")

	m, journal := newTestManager(t, dir, Config{Skip: []string{"a"}})
	registerRecorded(t, "plugins.test.a", "a", journal, nil)
	require.NoError(t, m.InitModules())
	assert.Empty(t, *journal)

	gated, gatedJournal := newTestManager(t, dir, Config{BeforeReloader: true})
	_ = gatedJournal
	require.NoError(t, gated.InitModules())
	assert.Empty(t, gated.ActivatedNames())
}

func TestInitModules_FailedInitDoesNotEnterRegistry(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "bad", manifest.Metadata{Name: "bad", Module: "plugins.test.bad"}, "")
	writeBundle(t, dir, "good", manifest.Metadata{Name: "good", Module: "plugins.test.good"}, "")

	m, journal := newTestManager(t, dir, Config{})
	RegisterBuiltin("plugins.test.bad", func(_ *pylonctx.Context, _ interface{}) (pluginapi.Module, error) {
		return nil, assert.AnError
	})
	t.Cleanup(func() { UnregisterBuiltin("plugins.test.bad") })
	registerRecorded(t, "plugins.test.good", "good", journal, nil)

	require.NoError(t, m.InitModules())
	_, okBad := m.GetModule("bad")
	assert.False(t, okBad)
	assert.Equal(t, []string{"good"}, m.ActivatedNames())
}

func TestInitModules_RegistrationsAreInstalled(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "a", manifest.Metadata{Name: "a", Module: "plugins.test.a"}, "")

	m, journal := newTestManager(t, dir, Config{})
	fired := false
	registerRecorded(t, "plugins.test.a", "a", journal, func(r pluginapi.Registrar) {
		r.Event("custom_event", func(_ *pylonctx.Context, _ string, _ interface{}) {
			fired = true
		})
	})

	require.NoError(t, m.InitModules())
	// The drained bus-event registration is live on the process bus.
	descBus := mustBus(t, m)
	descBus.FireEvent("custom_event", nil)
	assert.True(t, fired)
}

func mustBus(t *testing.T, m *Manager) *eventbus.Bus {
	t.Helper()
	require.NotNil(t, m.bus)
	return m.bus
}

func TestChainHasher_CacheKeying(t *testing.T) {
	// The same chain of plugins with the same requirements bytes yields
	// identical hashes across runs; any earlier divergence changes every
	// later hash.
	h1 := &chainHasher{}
	h2 := &chainHasher{}
	assert.Equal(t, h1.next("reqs-a"), h2.next("reqs-a"))
	assert.Equal(t, h1.next("reqs-b"), h2.next("reqs-b"))

	h3 := &chainHasher{}
	h3.next("different")
	assert.NotEqual(t, h1.chain, h3.chain)
	assert.NotEqual(t, h1.next("reqs-c"), h3.next("reqs-c"))
}

func TestPrepare_RequirementsCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "a", manifest.Metadata{Name: "a", Module: "plugins.test.a"}, "dep-one\n")

	cacheDir := filepath.Join(t.TempDir(), "reqcache")
	pctx := pylonctx.New("test-node")
	bus := eventbus.New(pctx, nil, eventbus.JSONCodec{})
	rpc, err := rpcmgr.New(pctx, nil, nil)
	require.NoError(t, err)
	reqs := reqprov.NewFolderProvider(cacheDir)

	journal := &[]string{}
	registerRecorded(t, "plugins.test.a", "a", journal, nil)

	build := func() *Manager {
		return New(pctx, registry.New(), bus, rpc, nil, nil, Config{CacheEnabled: true},
			pluginsprov.NewFolderProvider(dir), reqs,
			cfgprov.NewFolderProvider(filepath.Join(t.TempDir(), "configs")),
			loader.NewScratch())
	}

	first := build()
	require.NoError(t, first.InitModules())
	descFirst, ok := first.GetModule("a")
	require.True(t, ok)
	require.True(t, descFirst.Prepared)

	// A second run with the identical chain hits the cache and reuses the
	// stored site instead of installing again.
	second := build()
	require.NoError(t, second.InitModules())
	descSecond, ok := second.GetModule("a")
	require.True(t, ok)
	assert.True(t, descSecond.Prepared)
	assert.NotEmpty(t, descSecond.RequirementsBase)
	assert.NotEqual(t, descFirst.RequirementsBase, "")
}
