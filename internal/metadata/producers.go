package metadata

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/reposync/internal/storage"
)

// document is the format-independent part of every search document.
type document struct {
	RepositoryName string         `json:"repository_name"`
	Format         string         `json:"format"`
	Group          string         `json:"group,omitempty"`
	Name           string         `json:"name"`
	Version        string         `json:"version,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	LastUpdated    string         `json:"last_updated,omitempty"`
	Assets         []assetEntry   `json:"assets"`
}

type assetEntry struct {
	Name        string            `json:"name"`
	ContentType string            `json:"content_type,omitempty"`
	Size        int64             `json:"size"`
	Checksums   map[string]string `json:"checksums,omitempty"`
	Attributes  map[string]any    `json:"attributes,omitempty"`
}

func newDocument(component *storage.Component, assets []*storage.Asset, repository RepositoryMetadata) document {
	doc := document{
		RepositoryName: repository.RepositoryName(),
		Format:         component.Format,
		Group:          component.Group,
		Name:           component.Name,
		Version:        component.Version,
		Attributes:     component.Attributes,
		Assets:         make([]assetEntry, 0, len(assets)),
	}
	if !component.LastUpdated.IsZero() {
		doc.LastUpdated = component.LastUpdated.UTC().Format(time.RFC3339Nano)
	}
	for _, a := range assets {
		doc.Assets = append(doc.Assets, assetEntry{
			Name:        a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
			Checksums:   a.Checksums,
			Attributes:  a.Attributes,
		})
	}
	return doc
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(data), nil
}

// DefaultProducer emits the format-independent document. It serves every format without its own producer.
type DefaultProducer struct{}

// Metadata implements Producer.
func (DefaultProducer) Metadata(component *storage.Component, assets []*storage.Asset, repository RepositoryMetadata) (string, error) {
	return marshal(newDocument(component, assets, repository))
}

// snapshotVersion matches timestamped Maven snapshot versions such as 1.0-20240101.120000-3.
var snapshotVersion = regexp.MustCompile(`^(.*)-(\d{8}\.\d{6})-(\d+)$`)

type maven2Block struct {
	GroupID     string   `json:"group_id"`
	ArtifactID  string   `json:"artifact_id"`
	BaseVersion string   `json:"base_version"`
	Classifiers []string `json:"classifiers"`
	Extensions  []string `json:"extensions"`
}

// Maven2Producer adds Maven coordinates to the default document.
type Maven2Producer struct{}

// Metadata implements Producer.
func (Maven2Producer) Metadata(component *storage.Component, assets []*storage.Asset, repository RepositoryMetadata) (string, error) {
	base := BaseVersion(component.Version)
	classifiers := map[string]struct{}{}
	extensions := map[string]struct{}{}

	for _, a := range assets {
		classifier, extension := mavenCoordinates(a, component.Name, component.Version, base)
		if classifier != "" {
			classifiers[classifier] = struct{}{}
		}
		if extension != "" {
			extensions[extension] = struct{}{}
		}
	}

	return marshal(struct {
		document
		Maven2 maven2Block `json:"maven2"`
	}{
		document: newDocument(component, assets, repository),
		Maven2: maven2Block{
			GroupID:     component.Group,
			ArtifactID:  component.Name,
			BaseVersion: base,
			Classifiers: sortedKeys(classifiers),
			Extensions:  sortedKeys(extensions),
		},
	})
}

// BaseVersion maps a timestamped snapshot version to its -SNAPSHOT form; other versions are returned as is.
func BaseVersion(version string) string {
	if m := snapshotVersion.FindStringSubmatch(version); m != nil {
		return m[1] + "-SNAPSHOT"
	}
	return version
}

// mavenCoordinates reads classifier and extension from asset attributes, or from the
// file name laid out as <artifactId>-<version>[-<classifier>].<extension>.
func mavenCoordinates(a *storage.Asset, artifactID, version, baseVersion string) (string, string) {
	classifier, _ := a.Attributes["classifier"].(string)
	extension, _ := a.Attributes["extension"].(string)
	if extension != "" {
		return classifier, extension
	}

	file := path.Base(a.Name)
	rest := ""
	for _, v := range []string{version, baseVersion} {
		prefix := artifactID + "-" + v
		if v != "" && strings.HasPrefix(file, prefix) {
			rest = strings.TrimPrefix(file, prefix)
			break
		}
	}
	if rest == "" {
		// maven-metadata.xml and other repository files
		return "", ""
	}

	if strings.HasPrefix(rest, "-") {
		dot := strings.Index(rest, ".")
		if dot < 0 {
			return rest[1:], ""
		}
		return rest[1:dot], rest[dot+1:]
	}
	return "", strings.TrimPrefix(rest, ".")
}

type npmBlock struct {
	Scope        string `json:"scope,omitempty"`
	Package      string `json:"package"`
	Tarball      string `json:"tarball,omitempty"`
	IsPrerelease bool   `json:"is_prerelease"`
}

// NpmProducer adds npm package details to the default document.
type NpmProducer struct{}

// Metadata implements Producer.
func (NpmProducer) Metadata(component *storage.Component, assets []*storage.Asset, repository RepositoryMetadata) (string, error) {
	scope, pkg := splitNpmName(component.Group, component.Name)

	var tarball string
	for _, a := range assets {
		if strings.HasSuffix(a.Name, ".tgz") {
			tarball = a.Name
			break
		}
	}

	return marshal(struct {
		document
		Npm npmBlock `json:"npm"`
	}{
		document: newDocument(component, assets, repository),
		Npm: npmBlock{
			Scope:        scope,
			Package:      pkg,
			Tarball:      tarball,
			IsPrerelease: isPrerelease(component.Version),
		},
	})
}

// splitNpmName returns scope and package name. The scope comes from the group when
// storage keeps it there, otherwise from an "@scope/name" component name.
func splitNpmName(group, name string) (string, string) {
	if strings.HasPrefix(name, "@") {
		if scope, pkg, ok := strings.Cut(name[1:], "/"); ok {
			return scope, pkg
		}
	}
	return strings.TrimPrefix(group, "@"), name
}

// isPrerelease reports a semver pre-release tag ("1.0.0-beta.1"); build metadata is ignored.
func isPrerelease(version string) bool {
	core, _, _ := strings.Cut(version, "+")
	return strings.Contains(core, "-")
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
