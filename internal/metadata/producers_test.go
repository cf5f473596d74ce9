package metadata

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/reposync/internal/storage"
)

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func TestDefaultProducer(t *testing.T) {
	c := &storage.Component{
		ID:          "c1",
		Format:      "raw",
		Name:        "installer",
		Version:     "2.0",
		Attributes:  map[string]any{"origin": "upload"},
		LastUpdated: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	assets := []*storage.Asset{{
		Name:        "tools/installer-2.0.sh",
		ContentType: "text/x-sh",
		Size:        128,
		Checksums:   map[string]string{"sha256": "ff00"},
	}}

	body, err := DefaultProducer{}.Metadata(c, assets, NewRepositoryMetadata("raw-hosted"))
	require.NoError(t, err)

	doc := decode(t, body)
	assert.Equal(t, "raw-hosted", doc["repository_name"])
	assert.Equal(t, "raw", doc["format"])
	assert.Equal(t, "installer", doc["name"])
	assert.Equal(t, "2.0", doc["version"])
	assert.Equal(t, "2024-03-01T12:00:00Z", doc["last_updated"])
	assert.Equal(t, map[string]any{"origin": "upload"}, doc["attributes"])
	assert.NotContains(t, doc, "group")

	require.Len(t, doc["assets"], 1)
	asset := doc["assets"].([]any)[0].(map[string]any)
	assert.Equal(t, "tools/installer-2.0.sh", asset["name"])
	assert.Equal(t, float64(128), asset["size"])
	assert.Equal(t, map[string]any{"sha256": "ff00"}, asset["checksums"])
}

func TestDefaultProducer_NoAssets(t *testing.T) {
	body, err := DefaultProducer{}.Metadata(&storage.Component{Name: "x"}, nil, NewRepositoryMetadata("r"))
	require.NoError(t, err)
	assert.Equal(t, []any{}, decode(t, body)["assets"])
}

func TestMaven2Producer(t *testing.T) {
	c := &storage.Component{ID: "c1", Format: "maven2", Group: "org.apache.commons", Name: "commons-lang3", Version: "3.12.0"}
	assets := []*storage.Asset{
		{Name: "org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0.pom"},
		{Name: "org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0.jar"},
		{Name: "org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0-sources.jar"},
		{Name: "org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0-javadoc.jar"},
		{Name: "org/apache/commons/commons-lang3/3.12.0/commons-lang3-3.12.0.jar.sha1"},
		{Name: "org/apache/commons/commons-lang3/maven-metadata.xml"},
	}

	body, err := Maven2Producer{}.Metadata(c, assets, NewRepositoryMetadata("libs-release"))
	require.NoError(t, err)

	doc := decode(t, body)
	assert.Equal(t, "libs-release", doc["repository_name"])
	assert.Len(t, doc["assets"], 6)

	maven := doc["maven2"].(map[string]any)
	assert.Equal(t, "org.apache.commons", maven["group_id"])
	assert.Equal(t, "commons-lang3", maven["artifact_id"])
	assert.Equal(t, "3.12.0", maven["base_version"])
	assert.Equal(t, []any{"javadoc", "sources"}, maven["classifiers"])
	assert.Equal(t, []any{"jar", "jar.sha1", "pom"}, maven["extensions"])
}

func TestMaven2Producer_Snapshot(t *testing.T) {
	c := &storage.Component{Format: "maven2", Group: "org.example", Name: "core", Version: "1.0-20240101.120000-3"}
	assets := []*storage.Asset{
		{Name: "org/example/core/1.0-SNAPSHOT/core-1.0-20240101.120000-3-tests.jar"},
		{Name: "org/example/core/1.0-SNAPSHOT/core-1.0-SNAPSHOT.pom"},
		{Name: "ignored.bin", Attributes: map[string]any{"extension": "bin", "classifier": "native"}},
	}

	body, err := Maven2Producer{}.Metadata(c, assets, NewRepositoryMetadata("libs-snapshot"))
	require.NoError(t, err)

	maven := decode(t, body)["maven2"].(map[string]any)
	assert.Equal(t, "1.0-SNAPSHOT", maven["base_version"])
	assert.Equal(t, []any{"native", "tests"}, maven["classifiers"])
	assert.Equal(t, []any{"bin", "jar", "pom"}, maven["extensions"])
}

func TestBaseVersion(t *testing.T) {
	assert.Equal(t, "2.1-SNAPSHOT", BaseVersion("2.1-20231231.235959-12"))
	assert.Equal(t, "2.1-SNAPSHOT", BaseVersion("2.1-SNAPSHOT"))
	assert.Equal(t, "2.1", BaseVersion("2.1"))
}

func TestNpmProducer(t *testing.T) {
	tests := []struct {
		name       string
		component  *storage.Component
		scope      any
		pkg        string
		prerelease bool
	}{
		{
			name:      "scoped name",
			component: &storage.Component{Format: "npm", Name: "@types/node", Version: "20.1.0"},
			scope:     "types",
			pkg:       "node",
		},
		{
			name:       "scope in group",
			component:  &storage.Component{Format: "npm", Group: "@babel", Name: "core", Version: "7.0.0-beta.4"},
			scope:      "babel",
			pkg:        "core",
			prerelease: true,
		},
		{
			name:      "unscoped",
			component: &storage.Component{Format: "npm", Name: "left-pad", Version: "1.3.0+build.5"},
			scope:     nil,
			pkg:       "left-pad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assets := []*storage.Asset{
				{Name: tt.pkg + "/package.json"},
				{Name: tt.pkg + "/-/" + tt.pkg + "-" + tt.component.Version + ".tgz"},
			}
			body, err := NpmProducer{}.Metadata(tt.component, assets, NewRepositoryMetadata("npm-proxy"))
			require.NoError(t, err)

			npm := decode(t, body)["npm"].(map[string]any)
			assert.Equal(t, tt.scope, npm["scope"])
			assert.Equal(t, tt.pkg, npm["package"])
			assert.Equal(t, assets[1].Name, npm["tarball"])
			assert.Equal(t, tt.prerelease, npm["is_prerelease"])
		})
	}
}
