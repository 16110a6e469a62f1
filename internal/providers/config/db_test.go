package config

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "pylon.db")), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestDBProvider_ReadsFallThroughToBackend(t *testing.T) {
	backend := NewFolderProvider(t.TempDir())
	require.NoError(t, backend.Init())
	require.NoError(t, backend.AddConfigData("alpha", []byte("from: backend\n")))

	p := NewDBProvider(openTestDB(t), backend)
	require.NoError(t, p.Init())
	defer p.Deinit()

	// No DB row yet: the read falls through to the wrapped backend.
	assert.True(t, p.ConfigDataExists("alpha"))
	data, err := p.GetConfigData("alpha")
	require.NoError(t, err)
	assert.Equal(t, "from: backend\n", string(data))
}

func TestDBProvider_WritesGoToDatabaseOnly(t *testing.T) {
	backendDir := t.TempDir()
	backend := NewFolderProvider(backendDir)
	require.NoError(t, backend.Init())

	p := NewDBProvider(openTestDB(t), backend)
	require.NoError(t, p.Init())
	defer p.Deinit()

	require.NoError(t, p.AddConfigData("beta", []byte("from: db\n")))

	// The row shadows the backend and the backend stays untouched.
	data, err := p.GetConfigData("beta")
	require.NoError(t, err)
	assert.Equal(t, "from: db\n", string(data))
	assert.False(t, backend.ConfigDataExists("beta"))

	require.NoError(t, p.DeleteConfigData("beta"))
	assert.False(t, p.ConfigDataExists("beta"))
}
