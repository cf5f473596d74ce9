package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/reposync/internal/facet"
	"github.com/Aman-CERP/reposync/internal/metadata"
	"github.com/Aman-CERP/reposync/internal/search"
	"github.com/Aman-CERP/reposync/internal/storage"
	"github.com/Aman-CERP/reposync/internal/storage/sqlite"
)

type checkFixture struct {
	store   *sqlite.Store
	search  *search.SQLiteService
	facet   *facet.Facet
	checker *ConsistencyChecker
	bucket  *storage.Bucket
}

func newCheckFixture(t *testing.T) *checkFixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc, err := search.NewSQLiteService("", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	bucket, err := store.EnsureBucket(ctx, "libs-release")
	require.NoError(t, err)

	f := facet.New(store, svc, metadata.NewMapper(metadata.DefaultRegistry()))
	require.NoError(t, f.OnInit(storage.Repository{Name: "libs-release", Format: "maven2"}))
	require.NoError(t, f.OnStart(ctx))

	return &checkFixture{
		store:   store,
		search:  svc,
		facet:   f,
		checker: NewConsistencyChecker(store, svc),
		bucket:  bucket,
	}
}

func (fx *checkFixture) save(t *testing.T, name string) storage.EntityID {
	t.Helper()
	id, err := fx.store.SaveComponent(context.Background(), fx.bucket,
		&storage.Component{Format: "maven2", Group: "org.example", Name: name, Version: "1.0"}, nil)
	require.NoError(t, err)
	return id
}

func TestConsistencyChecker_Check(t *testing.T) {
	ctx := context.Background()
	fx := newCheckFixture(t)

	// Given: one indexed component, one never indexed, and one stale document
	indexed := fx.save(t, "indexed")
	require.NoError(t, fx.facet.Put(ctx, indexed))
	missing := fx.save(t, "missing")
	require.NoError(t, fx.search.Put(ctx, "libs-release", "orphan", "{}"))

	// When
	result, err := fx.checker.Check(ctx, "libs-release")

	// Then
	require.NoError(t, err)
	assert.False(t, result.Consistent())
	assert.Equal(t, 2, result.Stored)
	assert.Equal(t, 2, result.Indexed)
	require.Len(t, result.Inconsistencies, 2)
	assert.Equal(t, Inconsistency{Type: InconsistencyOrphan, ComponentID: "orphan", Details: "indexed document without a stored component"}, result.Inconsistencies[0])
	assert.Equal(t, InconsistencyMissing, result.Inconsistencies[1].Type)
	assert.Equal(t, missing.String(), result.Inconsistencies[1].ComponentID)

	ok, err := fx.checker.QuickCheck(ctx, "libs-release")
	require.NoError(t, err)
	assert.True(t, ok, "counts match even though ids do not")
}

func TestConsistencyChecker_Repair(t *testing.T) {
	ctx := context.Background()
	fx := newCheckFixture(t)

	fx.save(t, "a")
	fx.save(t, "b")
	require.NoError(t, fx.search.Put(ctx, "libs-release", "orphan", "{}"))

	result, err := fx.checker.Check(ctx, "libs-release")
	require.NoError(t, err)
	require.Len(t, result.Inconsistencies, 3)

	// When: repairing through the facet
	require.NoError(t, fx.checker.Repair(ctx, fx.facet, result.Inconsistencies))

	// Then: the index matches storage again
	after, err := fx.checker.Check(ctx, "libs-release")
	require.NoError(t, err)
	assert.True(t, after.Consistent())
	assert.Equal(t, 2, after.Indexed)
}

func TestConsistencyChecker_RepositoryWithoutBucket(t *testing.T) {
	ctx := context.Background()
	fx := newCheckFixture(t)
	require.NoError(t, fx.search.CreateIndex(ctx, "empty"))

	result, err := fx.checker.Check(ctx, "empty")

	require.NoError(t, err)
	assert.True(t, result.Consistent())
	assert.Zero(t, result.Stored)
}

func TestInconsistencyType_String(t *testing.T) {
	assert.Equal(t, "orphan", InconsistencyOrphan.String())
	assert.Equal(t, "missing", InconsistencyMissing.String())
	assert.Equal(t, "unknown", InconsistencyType(9).String())
}
