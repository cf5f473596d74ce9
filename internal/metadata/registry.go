// Package metadata turns stored components into serialized search documents.
// A Registry dispatches on component format to a Producer, falling back to the "default" producer.
package metadata

import (
	"fmt"
	"sort"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/storage"
)

// DefaultFormat is the registry key every registry must carry.
const DefaultFormat = "default"

// KeyRepositoryName is the RepositoryMetadata key holding the repository name.
const KeyRepositoryName = "repository_name"

// Producer builds the serialized metadata document for one component.
type Producer interface {
	Metadata(component *storage.Component, assets []*storage.Asset, repository RepositoryMetadata) (string, error)
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(component *storage.Component, assets []*storage.Asset, repository RepositoryMetadata) (string, error)

// Metadata implements Producer.
func (f ProducerFunc) Metadata(component *storage.Component, assets []*storage.Asset, repository RepositoryMetadata) (string, error) {
	return f(component, assets, repository)
}

// RepositoryMetadata is an immutable snapshot of repository-level values shared by every document.
type RepositoryMetadata struct {
	values map[string]string
}

// NewRepositoryMetadata captures the metadata of the named repository.
func NewRepositoryMetadata(repositoryName string) RepositoryMetadata {
	return RepositoryMetadata{values: map[string]string{KeyRepositoryName: repositoryName}}
}

// Get returns the value stored under key, or "".
func (m RepositoryMetadata) Get(key string) string {
	return m.values[key]
}

// RepositoryName returns the repository the metadata belongs to.
func (m RepositoryMetadata) RepositoryName() string {
	return m.values[KeyRepositoryName]
}

// Map returns a copy of the metadata values.
func (m RepositoryMetadata) Map() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Registry resolves a format id to its Producer.
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	producers map[string]Producer
}

// NewRegistry validates and copies producers. A "default" entry is required.
func NewRegistry(producers map[string]Producer) (*Registry, error) {
	def, ok := producers[DefaultFormat]
	if !ok || def == nil {
		return nil, rserrors.New(rserrors.ErrCodeNoDefaultProducer,
			"no default metadata producer registered", nil).
			WithSuggestion(fmt.Sprintf("Register a producer under the %q key", DefaultFormat))
	}

	copied := make(map[string]Producer, len(producers))
	for format, p := range producers {
		if p == nil {
			return nil, rserrors.ConfigError(fmt.Sprintf("nil metadata producer for format %q", format), nil)
		}
		copied[format] = p
	}
	return &Registry{producers: copied}, nil
}

// MustRegistry is like NewRegistry but panics on error. For static wiring.
func MustRegistry(producers map[string]Producer) *Registry {
	r, err := NewRegistry(producers)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the producer registered for format, or the default producer.
func (r *Registry) Resolve(format string) Producer {
	if p, ok := r.producers[format]; ok {
		return p
	}
	return r.producers[DefaultFormat]
}

// Formats returns the registered format ids, sorted.
func (r *Registry) Formats() []string {
	formats := make([]string, 0, len(r.producers))
	for f := range r.producers {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// DefaultRegistry returns a registry with the built-in producers.
func DefaultRegistry() *Registry {
	return MustRegistry(map[string]Producer{
		DefaultFormat: DefaultProducer{},
		"maven2":      Maven2Producer{},
		"npm":         NpmProducer{},
	})
}
