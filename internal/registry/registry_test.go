package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableRegisterAndFor(t *testing.T) {
	tbl := newTable()
	tbl.Register("plugin-a", Entry{Name: "route1"})
	tbl.Register("plugin-a", Entry{Name: "route2"})
	tbl.Register("plugin-b", Entry{Name: "route3"})

	a := tbl.For("plugin-a")
	require.Len(t, a, 2)
	assert.Equal(t, "route1", a[0].Name)
	assert.Equal(t, "route2", a[1].Name)

	assert.Empty(t, tbl.For("plugin-nonexistent"))
}

func TestTableOwnersSorted(t *testing.T) {
	tbl := newTable()
	tbl.Register("zebra", Entry{Name: "x"})
	tbl.Register("alpha", Entry{Name: "y"})

	owners := tbl.Owners()
	require.Len(t, owners, 2)
	assert.Equal(t, []string{"alpha", "zebra"}, owners)
}

func TestTableDrainRemovesEntries(t *testing.T) {
	tbl := newTable()
	tbl.Register("plugin-a", Entry{Name: "x"})

	drained := tbl.Drain("plugin-a")
	require.Len(t, drained, 1)
	assert.Empty(t, tbl.For("plugin-a"))
}

func TestPublishSafelyIsolatesPanics(t *testing.T) {
	var calledB, calledC bool
	var panicked []interface{}

	subs := []func(){
		func() { panic("boom") },
		func() { calledB = true },
		func() { calledC = true },
	}

	PublishSafely("Test", subs, func(r interface{}) {
		panicked = append(panicked, r)
	})

	assert.True(t, calledB)
	assert.True(t, calledC)
	require.Len(t, panicked, 1)
	assert.Equal(t, "boom", panicked[0])
}

func TestNewRegistryHasAllEightTables(t *testing.T) {
	r := New()
	require.NotNil(t, r.Routes)
	require.NotNil(t, r.Slots)
	require.NotNil(t, r.RPCs)
	require.NotNil(t, r.SIOEvents)
	require.NotNil(t, r.BusEvents)
	require.NotNil(t, r.Methods)
	require.NotNil(t, r.Inits)
	require.NotNil(t, r.Deinits)
}
