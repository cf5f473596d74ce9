// Package storage defines the authoritative component storage contract consumed by
// the index synchronization facet: buckets, components, assets and read-only units of work.
package storage

import (
	"context"
	"iter"
	"time"
)

// EntityID is the globally unique identifier of a stored entity.
type EntityID string

// String returns the raw identifier value.
func (id EntityID) String() string {
	return string(id)
}

// Repository identifies a repository and its format.
type Repository struct {
	Name   string
	Format string
}

// Bucket is the storage partition holding all components of one repository.
type Bucket struct {
	ID             EntityID
	RepositoryName string
}

// Component is a versioned, format-tagged unit stored in a bucket.
type Component struct {
	ID          EntityID
	BucketID    EntityID
	Format      string
	Group       string
	Name        string
	Version     string
	Attributes  map[string]any
	LastUpdated time.Time
}

// Asset is a file-like piece of a component.
type Asset struct {
	ID          EntityID
	ComponentID EntityID
	BucketID    EntityID
	Name        string
	Format      string
	ContentType string
	Size        int64
	Checksums   map[string]string
	Attributes  map[string]any
	LastUpdated time.Time
}

// Tx is a read-only unit of work against component storage.
// A Tx must not be shared between goroutines; End releases it and is safe to call twice.
type Tx interface {
	// FindBucket returns the bucket of the named repository.
	// It returns an error matching errors.ErrBucketNotFound when the repository has no bucket.
	FindBucket(ctx context.Context, repository string) (*Bucket, error)

	// FindComponentInBucket returns the component, or nil with a nil error when it does not exist
	// in the bucket.
	FindComponentInBucket(ctx context.Context, id EntityID, bucket *Bucket) (*Component, error)

	// BrowseComponents streams every component of the bucket ordered by id.
	BrowseComponents(ctx context.Context, bucket *Bucket) iter.Seq2[*Component, error]

	// BrowseAssets returns the assets of a component ordered by name.
	BrowseAssets(ctx context.Context, component *Component) ([]*Asset, error)

	// End releases the unit of work.
	End() error
}

// TxSupplier opens read-only units of work.
type TxSupplier interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Store is a complete storage backend: read units of work plus the writes used by
// import tooling.
type Store interface {
	TxSupplier

	// EnsureBucket returns the repository's bucket, creating it when missing.
	EnsureBucket(ctx context.Context, repository string) (*Bucket, error)

	// SaveComponent inserts or replaces a component together with its full asset list.
	// Empty ids are assigned; the saved component id is returned.
	SaveComponent(ctx context.Context, bucket *Bucket, component *Component, assets []*Asset) (EntityID, error)

	// DeleteComponent removes a component and its assets. Missing components are not an error.
	DeleteComponent(ctx context.Context, id EntityID) error

	// Close releases the backend.
	Close() error
}

// DefaultPageSize is the number of components read per page while browsing a bucket.
const DefaultPageSize = 256
