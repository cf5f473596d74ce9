package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/reposync/internal/config"
)

const projectConfig = `
storage:
  path: storage.db
search:
  path: index
repositories:
  - name: libs-release
    format: maven2
  - name: npm-public
    format: npm
`

const importComponents = `
components:
  - id: core-1
    group: org.example
    name: core
    version: 1.0.0
    assets:
      - name: org/example/core/1.0.0/core-1.0.0.jar
        content_type: application/java-archive
        size: 1024
        checksums:
          sha1: 3f786850e387550fdab836ed7e6dc881de23001b
  - id: api-1
    group: org.example
    name: api
    version: 2.0.0
    assets:
      - name: org/example/api/2.0.0/api-2.0.0.jar
`

// newProject writes a project configuration into an isolated temp dir and returns its path.
func newProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	for _, key := range []string{
		"REPOSYNC_STORAGE_DRIVER",
		"REPOSYNC_STORAGE_DSN",
		"REPOSYNC_SEARCH_BACKEND",
		"REPOSYNC_LOG_LEVEL",
		"REPOSYNC_SERVER_ADDR",
		"REPOSYNC_BULK_SIZE",
	} {
		t.Setenv(key, "")
	}

	path := filepath.Join(dir, config.ProjectFileName)
	require.NoError(t, os.WriteFile(path, []byte(projectConfig), 0o644))
	return path
}

// importFixture stores two maven components in libs-release.
func importFixture(t *testing.T, cfgPath string) {
	t.Helper()

	file := filepath.Join(filepath.Dir(cfgPath), "components.yaml")
	require.NoError(t, os.WriteFile(file, []byte(importComponents), 0o644))

	_, err := run(t, "--config", cfgPath, "import", "libs-release", file)
	require.NoError(t, err)
}

// run executes the root command with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}
