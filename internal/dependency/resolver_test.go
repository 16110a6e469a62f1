package dependency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pylon/internal/manifest"
	"pylon/internal/perr"
)

func idx(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestResolve_TwoPluginLoad(t *testing.T) {
	metaMap := map[string]*manifest.Metadata{
		"a": {Name: "a", Module: "plugins.a"},
		"b": {Name: "b", Module: "plugins.b", DependsOn: []string{"a"}},
	}
	order, err := Resolve(metaMap, nil)
	require.NoError(t, err)
	assert.Less(t, idx(order, "a"), idx(order, "b"))
}

func TestResolve_MissingDependency(t *testing.T) {
	metaMap := map[string]*manifest.Metadata{
		"a": {Name: "a", Module: "plugins.a"},
		"b": {Name: "b", Module: "plugins.b", DependsOn: []string{"c"}},
	}
	_, err := Resolve(metaMap, nil)
	require.Error(t, err)
	assert.True(t, perr.IsMissingDependency(err))
	var mde *perr.MissingDependencyError
	require.ErrorAs(t, err, &mde)
	assert.Equal(t, "c", mde.Missing)
	assert.Equal(t, "b", mde.RequiredBy)
}

func TestResolve_MissingDependencySatisfiedByPresent(t *testing.T) {
	metaMap := map[string]*manifest.Metadata{
		"b": {Name: "b", Module: "plugins.b", DependsOn: []string{"a"}},
	}
	order, err := Resolve(metaMap, map[string]bool{"a": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, order)
}

func TestResolve_Cycle(t *testing.T) {
	metaMap := map[string]*manifest.Metadata{
		"a": {Name: "a", InitAfter: []string{"b"}},
		"b": {Name: "b", InitAfter: []string{"a"}},
	}
	_, err := Resolve(metaMap, nil)
	require.Error(t, err)
	assert.True(t, perr.IsCircularDependency(err))
}

func TestResolve_DeterministicTieBreak(t *testing.T) {
	metaMap := map[string]*manifest.Metadata{
		"z": {Name: "z"},
		"a": {Name: "a"},
		"m": {Name: "m"},
	}
	order, err := Resolve(metaMap, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "m", "z"}, order)
}

func TestResolve_HardPrerequisitePrecedesTransitively(t *testing.T) {
	metaMap := map[string]*manifest.Metadata{
		"a": {Name: "a"},
		"b": {Name: "b", DependsOn: []string{"a"}},
		"c": {Name: "c", DependsOn: []string{"b"}},
	}
	order, err := Resolve(metaMap, nil)
	require.NoError(t, err)
	assert.Less(t, idx(order, "a"), idx(order, "b"))
	assert.Less(t, idx(order, "b"), idx(order, "c"))
}
