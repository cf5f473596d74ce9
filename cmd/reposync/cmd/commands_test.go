package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
)

func TestImportCmd_StoresAndIndexes(t *testing.T) {
	// Given: a project and a components file
	cfg := newProject(t)
	file := filepath.Join(filepath.Dir(cfg), "components.yaml")
	require.NoError(t, os.WriteFile(file, []byte(importComponents), 0o644))

	// When: importing into libs-release
	out, err := run(t, "--config", cfg, "import", "libs-release", file)

	// Then: both components are stored and indexed
	require.NoError(t, err)
	assert.Contains(t, out, "libs-release: 2 component(s) stored and indexed")

	out, err = run(t, "--config", cfg, "check", "libs-release")
	require.NoError(t, err)
	assert.Contains(t, out, "Index is consistent")
}

func TestImportCmd_NoIndex(t *testing.T) {
	cfg := newProject(t)
	file := filepath.Join(filepath.Dir(cfg), "components.yaml")
	require.NoError(t, os.WriteFile(file, []byte(importComponents), 0o644))

	out, err := run(t, "--config", cfg, "import", "--no-index", "libs-release", file)
	require.NoError(t, err)
	assert.Contains(t, out, "2 component(s) stored")

	// the index is left behind storage
	out, err = run(t, "--config", cfg, "check", "libs-release")
	require.NoError(t, err)
	assert.Contains(t, out, "2 inconsistencies found")
}

func TestImportCmd_InvalidFile(t *testing.T) {
	cfg := newProject(t)
	dir := filepath.Dir(cfg)

	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "components: [\n"},
		{"missing name", "components:\n  - group: org.example\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := filepath.Join(dir, "bad.yaml")
			require.NoError(t, os.WriteFile(file, []byte(tt.content), 0o644))

			_, err := run(t, "--config", cfg, "import", "libs-release", file)
			require.Error(t, err)
			assert.Equal(t, rserrors.ErrCodeInvalidInput, rserrors.GetCode(err))
		})
	}

	_, err := run(t, "--config", cfg, "import", "libs-release", filepath.Join(dir, "absent.yaml"))
	assert.Equal(t, rserrors.ErrCodeFileNotFound, rserrors.GetCode(err))
}

func TestSearchCmd(t *testing.T) {
	cfg := newProject(t)
	importFixture(t, cfg)

	t.Run("json", func(t *testing.T) {
		out, err := run(t, "--config", cfg, "search", "libs-release", "core", "--format", "json", "--show")
		require.NoError(t, err)

		var results []searchResult
		require.NoError(t, json.Unmarshal([]byte(out), &results))
		require.Len(t, results, 1)
		assert.Equal(t, "core-1", results[0].ID)
		assert.Contains(t, string(results[0].Document), `"artifact_id":"core"`)
	})

	t.Run("text", func(t *testing.T) {
		out, err := run(t, "--config", cfg, "search", "libs-release", "org.example", "-n", "5")
		require.NoError(t, err)
		assert.Contains(t, out, "ID")
		assert.Contains(t, out, "core-1")
		assert.Contains(t, out, "api-1")
	})

	t.Run("no results", func(t *testing.T) {
		out, err := run(t, "--config", cfg, "search", "libs-release", "nothing-matches-this")
		require.NoError(t, err)
		assert.Contains(t, out, "No results")
	})

	t.Run("invalid limit", func(t *testing.T) {
		_, err := run(t, "--config", cfg, "search", "libs-release", "core", "--limit", "0")
		assert.Equal(t, rserrors.ErrCodeInvalidQuery, rserrors.GetCode(err))
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := run(t, "--config", cfg, "search", "libs-release", "core", "--format", "xml")
		assert.Equal(t, rserrors.ErrCodeInvalidInput, rserrors.GetCode(err))
	})
}

func TestDeleteAndCheckRepair(t *testing.T) {
	// Given: an imported repository
	cfg := newProject(t)
	importFixture(t, cfg)

	// When: one document is removed from the index only
	out, err := run(t, "--config", cfg, "delete", "libs-release", "core-1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 component(s) removed")

	// Then: check reports the stored component as missing
	out, err = run(t, "--config", cfg, "check", "libs-release", "--json")
	require.NoError(t, err)

	var result struct {
		Stored          int `json:"stored"`
		Indexed         int `json:"indexed"`
		Inconsistencies []struct {
			Type        string `json:"type"`
			ComponentID string `json:"component_id"`
		} `json:"inconsistencies"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Stored)
	assert.Equal(t, 1, result.Indexed)
	require.Len(t, result.Inconsistencies, 1)
	assert.Equal(t, "missing", result.Inconsistencies[0].Type)
	assert.Equal(t, "core-1", result.Inconsistencies[0].ComponentID)

	// When: repairing
	out, err = run(t, "--config", cfg, "check", "libs-release", "--repair")
	require.NoError(t, err)
	assert.Contains(t, out, "Repaired 1 inconsistencies")

	// Then: the index matches storage again
	out, err = run(t, "--config", cfg, "check", "libs-release")
	require.NoError(t, err)
	assert.Contains(t, out, "Index is consistent")
}

func TestPutCmd(t *testing.T) {
	cfg := newProject(t)
	file := filepath.Join(filepath.Dir(cfg), "components.yaml")
	require.NoError(t, os.WriteFile(file, []byte(importComponents), 0o644))
	_, err := run(t, "--config", cfg, "import", "--no-index", "libs-release", file)
	require.NoError(t, err)

	// single put
	out, err := run(t, "--config", cfg, "put", "libs-release", "core-1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 component(s) submitted")

	// bulk put, unknown ids are skipped
	out, err = run(t, "--config", cfg, "put", "libs-release", "api-1", "unknown")
	require.NoError(t, err)
	assert.Contains(t, out, "2 component(s) submitted")

	out, err = run(t, "--config", cfg, "check", "libs-release")
	require.NoError(t, err)
	assert.Contains(t, out, "Index is consistent")
}

func TestPutCmd_UnknownRepository(t *testing.T) {
	cfg := newProject(t)

	_, err := run(t, "--config", cfg, "put", "nope", "core-1")

	require.Error(t, err)
	assert.Equal(t, rserrors.ErrCodeRepositoryNotFound, rserrors.GetCode(err))
}

func TestRebuildCmd(t *testing.T) {
	// Given: components stored but never indexed
	cfg := newProject(t)
	file := filepath.Join(filepath.Dir(cfg), "components.yaml")
	require.NoError(t, os.WriteFile(file, []byte(importComponents), 0o644))
	_, err := run(t, "--config", cfg, "import", "--no-index", "libs-release", file)
	require.NoError(t, err)

	// When: rebuilding every repository
	out, err := run(t, "--config", cfg, "rebuild")

	// Then: each repository reports its document count
	require.NoError(t, err)
	assert.Contains(t, out, "libs-release: 2 documents indexed")
	assert.Contains(t, out, "npm-public: 0 documents indexed")
}

func TestRebuildCmd_Pattern(t *testing.T) {
	cfg := newProject(t)

	out, err := run(t, "--config", cfg, "rebuild", "libs-*")
	require.NoError(t, err)
	assert.Contains(t, out, "libs-release")
	assert.NotContains(t, out, "npm-public")

	_, err = run(t, "--config", cfg, "rebuild", "docker-*")
	assert.Equal(t, rserrors.ErrCodeRepositoryNotFound, rserrors.GetCode(err))
}

func TestRepositoriesCmd(t *testing.T) {
	cfg := newProject(t)
	importFixture(t, cfg)

	out, err := run(t, "--config", cfg, "repositories")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"NAME", "FORMAT", "STATE", "DOCUMENTS"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"libs-release", "maven2", "STARTED", "2"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"npm-public", "npm", "STARTED", "0"}, strings.Fields(lines[2]))
}

func TestDropCmd(t *testing.T) {
	cfg := newProject(t)
	importFixture(t, cfg)

	out, err := run(t, "--config", cfg, "drop", "libs-release")
	require.NoError(t, err)
	assert.Contains(t, out, "libs-release: index deleted")

	// the next start creates an empty index over the kept components
	out, err = run(t, "--config", cfg, "check", "libs-release")
	require.NoError(t, err)
	assert.Contains(t, out, "2 inconsistencies found")
}
