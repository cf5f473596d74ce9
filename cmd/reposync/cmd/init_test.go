package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/reposync/configs"
	"github.com/Aman-CERP/reposync/internal/config"
	rserrors "github.com/Aman-CERP/reposync/internal/errors"
)

func TestInitCmd_WritesValidTemplate(t *testing.T) {
	// Given: an empty directory
	newProject(t)
	dir := filepath.Join(t.TempDir(), "project")

	// When: running init
	out, err := run(t, "init", dir)

	// Then: the template is written and loads cleanly
	require.NoError(t, err)
	path := filepath.Join(dir, config.ProjectFileName)
	assert.Contains(t, out, "Created "+path)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(dir, ".reposync", "storage.db"), cfg.Storage.Path)
	assert.Equal(t, []config.RepositoryConfig{
		{Name: "maven-releases", Format: "maven2"},
		{Name: "npm-proxy", Format: "npm"},
	}, cfg.Repositories)
}

func TestInitCmd_RefusesOverwrite(t *testing.T) {
	path := newProject(t)
	dir := filepath.Dir(path)

	_, err := run(t, "init", dir)
	require.Error(t, err)
	assert.Equal(t, rserrors.ErrCodeInvalidInput, rserrors.GetCode(err))

	_, err = run(t, "init", dir, "--force")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, configs.ProjectConfigTemplate, string(data))
}
