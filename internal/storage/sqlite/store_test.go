package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rserrors "github.com/Aman-CERP/reposync/internal/errors"
	"github.com/Aman-CERP/reposync/internal/storage"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New("", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func saveComponent(t *testing.T, s *Store, bucket *storage.Bucket, name string, assets ...*storage.Asset) storage.EntityID {
	t.Helper()
	id, err := s.SaveComponent(context.Background(), bucket, &storage.Component{
		Format:  "maven2",
		Group:   "org.example",
		Name:    name,
		Version: "1.0.0",
		Attributes: map[string]any{
			"packaging": "jar",
		},
	}, assets)
	require.NoError(t, err)
	return id
}

func TestStore_EnsureBucket_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureBucket(ctx, "libs-release")
	require.NoError(t, err)
	second, err := s.EnsureBucket(ctx, "libs-release")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "libs-release", second.RepositoryName)
}

func TestTx_FindBucket_Missing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.End()

	_, err = tx.FindBucket(ctx, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rserrors.ErrBucketNotFound))
}

func TestTx_FindComponentInBucket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	releases, err := s.EnsureBucket(ctx, "libs-release")
	require.NoError(t, err)
	snapshots, err := s.EnsureBucket(ctx, "libs-snapshot")
	require.NoError(t, err)

	id := saveComponent(t, s, releases, "core")

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.End()

	t.Run("found", func(t *testing.T) {
		c, err := tx.FindComponentInBucket(ctx, id, releases)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, id, c.ID)
		assert.Equal(t, "core", c.Name)
		assert.Equal(t, "maven2", c.Format)
		assert.Equal(t, "jar", c.Attributes["packaging"])
		assert.False(t, c.LastUpdated.IsZero())
	})

	t.Run("other bucket", func(t *testing.T) {
		c, err := tx.FindComponentInBucket(ctx, id, snapshots)
		require.NoError(t, err)
		assert.Nil(t, c)
	})

	t.Run("unknown id", func(t *testing.T) {
		c, err := tx.FindComponentInBucket(ctx, "missing", releases)
		require.NoError(t, err)
		assert.Nil(t, c)
	})
}

func TestTx_BrowseComponents_PagesThroughBucket(t *testing.T) {
	// Given: a page size smaller than the bucket
	s := newTestStore(t, WithPageSize(2))
	ctx := context.Background()

	bucket, err := s.EnsureBucket(ctx, "libs-release")
	require.NoError(t, err)
	other, err := s.EnsureBucket(ctx, "other")
	require.NoError(t, err)

	want := map[storage.EntityID]bool{}
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		want[saveComponent(t, s, bucket, name)] = true
	}
	saveComponent(t, s, other, "unrelated")

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.End()

	// When: browsing the bucket while querying the tx between components
	got := map[storage.EntityID]bool{}
	var previous storage.EntityID
	for c, err := range tx.BrowseComponents(ctx, bucket) {
		require.NoError(t, err)
		assert.Greater(t, string(c.ID), string(previous), "components are ordered by id")
		previous = c.ID
		got[c.ID] = true

		_, err := tx.BrowseAssets(ctx, c)
		require.NoError(t, err)
	}

	// Then: every component of the bucket is seen exactly once
	assert.Equal(t, want, got)
}

func TestTx_BrowseComponents_StopsEarly(t *testing.T) {
	s := newTestStore(t, WithPageSize(1))
	ctx := context.Background()

	bucket, err := s.EnsureBucket(ctx, "libs-release")
	require.NoError(t, err)
	saveComponent(t, s, bucket, "a")
	saveComponent(t, s, bucket, "b")

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.End()

	count := 0
	for _, err := range tx.BrowseComponents(ctx, bucket) {
		require.NoError(t, err)
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestTx_BrowseAssets_RoundTripsFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bucket, err := s.EnsureBucket(ctx, "libs-release")
	require.NoError(t, err)

	id := saveComponent(t, s, bucket, "core",
		&storage.Asset{
			Name:        "org/example/core/1.0.0/core-1.0.0.pom",
			ContentType: "application/xml",
			Size:        812,
			Checksums:   map[string]string{"sha1": "abc"},
		},
		&storage.Asset{
			Name:        "org/example/core/1.0.0/core-1.0.0.jar",
			ContentType: "application/java-archive",
			Size:        4096,
			Attributes:  map[string]any{"extension": "jar"},
		},
	)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.End()

	c, err := tx.FindComponentInBucket(ctx, id, bucket)
	require.NoError(t, err)
	require.NotNil(t, c)

	assets, err := tx.BrowseAssets(ctx, c)
	require.NoError(t, err)
	require.Len(t, assets, 2)

	// ordered by name
	assert.Equal(t, "org/example/core/1.0.0/core-1.0.0.jar", assets[0].Name)
	assert.Equal(t, "maven2", assets[0].Format, "asset format defaults to the component format")
	assert.Equal(t, int64(4096), assets[0].Size)
	assert.Equal(t, "jar", assets[0].Attributes["extension"])
	assert.Equal(t, id, assets[0].ComponentID)
	assert.Equal(t, "abc", assets[1].Checksums["sha1"])
}

func TestStore_SaveComponent_ReplacesAssets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bucket, err := s.EnsureBucket(ctx, "libs-release")
	require.NoError(t, err)

	comp := &storage.Component{Format: "npm", Name: "left-pad", Version: "1.0.0"}
	id, err := s.SaveComponent(ctx, bucket, comp, []*storage.Asset{{Name: "a.tgz"}, {Name: "b.tgz"}})
	require.NoError(t, err)

	comp.Version = "1.0.1"
	_, err = s.SaveComponent(ctx, bucket, comp, []*storage.Asset{{Name: "c.tgz"}})
	require.NoError(t, err)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.End()

	c, err := tx.FindComponentInBucket(ctx, id, bucket)
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", c.Version)

	assets, err := tx.BrowseAssets(ctx, c)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "c.tgz", assets[0].Name)
}

func TestStore_DeleteComponent_CascadesAndIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bucket, err := s.EnsureBucket(ctx, "libs-release")
	require.NoError(t, err)
	id := saveComponent(t, s, bucket, "core", &storage.Asset{Name: "core.jar"})

	require.NoError(t, s.DeleteComponent(ctx, id))
	require.NoError(t, s.DeleteComponent(ctx, id))

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.End()

	c, err := tx.FindComponentInBucket(ctx, id, bucket)
	require.NoError(t, err)
	assert.Nil(t, c)

	assets, err := tx.BrowseAssets(ctx, &storage.Component{ID: id})
	require.NoError(t, err)
	assert.Empty(t, assets)
}

func TestStore_PersistsToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "storage.db")
	ctx := context.Background()

	s, err := New(path)
	require.NoError(t, err)
	bucket, err := s.EnsureBucket(ctx, "libs-release")
	require.NoError(t, err)
	id := saveComponent(t, s, bucket, "core")
	require.NoError(t, s.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	tx, err := reopened.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.End()

	b, err := tx.FindBucket(ctx, "libs-release")
	require.NoError(t, err)
	c, err := tx.FindComponentInBucket(ctx, id, b)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestStore_ClosedRejectsWork(t *testing.T) {
	s, err := New("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.BeginTx(context.Background())
	assert.Error(t, err)
	_, err = s.EnsureBucket(context.Background(), "x")
	assert.Error(t, err)
}

func TestTx_End_IsIdempotent(t *testing.T) {
	s := newTestStore(t)

	tx, err := s.BeginTx(context.Background())
	require.NoError(t, err)

	require.NoError(t, tx.End())
	assert.NoError(t, tx.End())
}
