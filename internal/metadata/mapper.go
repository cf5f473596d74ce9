package metadata

import (
	"github.com/Aman-CERP/reposync/internal/storage"
)

// Mapper derives document ids and bodies for components.
type Mapper struct {
	registry *Registry
}

// NewMapper creates a mapper dispatching through registry.
func NewMapper(registry *Registry) *Mapper {
	return &Mapper{registry: registry}
}

// DocumentID is the component's entity id; it never changes for the component's lifetime.
func (m *Mapper) DocumentID(component *storage.Component) string {
	return component.ID.String()
}

// Document returns the producer output for the component's format, untouched.
func (m *Mapper) Document(component *storage.Component, assets []*storage.Asset, repository RepositoryMetadata) (string, error) {
	return m.registry.Resolve(component.Format).Metadata(component, assets, repository)
}
