package pylonctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsNodeNameAndID(t *testing.T) {
	c := New("node-a")
	require.Equal(t, "node-a", c.NodeName())
	assert.Contains(t, c.ID(), "node-a-")
	assert.Greater(t, len(c.ID()), len("node-a-"))
}

func TestGetMissingKeyFails(t *testing.T) {
	c := New("node-a")
	_, err := c.Get("nonexistent")
	require.Error(t, err)
	var missing *MissingKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "nonexistent", missing.Key)
}

func TestSetGetRoundtrip(t *testing.T) {
	c := New("node-a")
	c.Set("custom", 42)
	v, err := c.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, c.Has("custom"))

	c.Delete("custom")
	assert.False(t, c.Has("custom"))
}

func TestStopEventClosesOnce(t *testing.T) {
	c := New("node-a")
	ch := c.StopEvent()
	assert.False(t, c.Stopped())

	close(ch)
	assert.True(t, c.Stopped())
	assert.Equal(t, ch, c.StopEvent())
}
