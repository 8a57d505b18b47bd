package pgindex

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flulink/engine/internal/engine"
)

func TestSearchSQLOperators(t *testing.T) {
	assert.Contains(t, searchSQL(engine.MetricCosine), "<=>")
	assert.Contains(t, searchSQL(engine.MetricEuclidean), "<->")
	assert.Contains(t, searchSQL(engine.MetricDot), "<#>")
	assert.Contains(t, searchSQL(""), "<=>")
}

func TestToDistance(t *testing.T) {
	// <#> returns -0.9 for an inner product of 0.9.
	assert.InDelta(t, 1/1.9, toDistance(engine.MetricDot, -0.9), 1e-12)
	// Large products keep their order instead of collapsing to zero.
	assert.Less(t, toDistance(engine.MetricDot, -900), toDistance(engine.MetricDot, -810))
	assert.Less(t, toDistance(engine.MetricDot, 810), toDistance(engine.MetricDot, 900))
	assert.Equal(t, 0.25, toDistance(engine.MetricCosine, 0.25))
	assert.Equal(t, 0.0, toDistance(engine.MetricEuclidean, -1e-9))
}

func TestUpsertArgsValidation(t *testing.T) {
	idx := &Index{dims: 3}
	_, err := idx.upsertArgs(engine.User{})
	assert.Equal(t, engine.KindIncompleteUser, engine.KindOf(err))

	_, err = idx.upsertArgs(engine.User{ID: "u", InterestVector: []float64{1}})
	assert.Equal(t, engine.KindDimensionMismatch, engine.KindOf(err))

	args, err := idx.upsertArgs(engine.User{ID: "u", ActiveHours: []int{8, 9}})
	require.NoError(t, err)
	assert.Equal(t, []int32{8, 9}, args[5])
}

// Integration tests need a PostgreSQL server with the vector extension.
func openTestIndex(t *testing.T) *Index {
	t.Helper()
	dsn := os.Getenv("FLULINK_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("FLULINK_TEST_PG_DSN not set")
	}
	idx, err := Open(context.Background(), dsn, 3)
	require.NoError(t, err)
	t.Cleanup(func() {
		idx.pool.Exec(context.Background(), "DROP TABLE IF EXISTS flulink_users")
		idx.Close()
	})
	_, err = idx.pool.Exec(context.Background(), "TRUNCATE flulink_users")
	require.NoError(t, err)
	return idx
}

func TestIndexSearchAndLookup(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	n, err := idx.ImportUsers(ctx, []engine.User{
		{ID: "user1", InterestVector: []float64{1, 0, 0}, Location: &engine.Location{Lat: 39.9, Lng: 116.4}},
		{ID: "user2", InterestVector: []float64{0, 1, 0}},
		{ID: "user3", InterestVector: []float64{0.9, 0.1, 0}, ActiveHours: []int{20, 21}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, m := range []engine.Metric{engine.MetricCosine, engine.MetricEuclidean, engine.MetricDot} {
		res, err := idx.Search(ctx, []float64{1, 0, 0}, 3, m)
		require.NoError(t, err, m)
		require.Len(t, res, 3)
		assert.Equal(t, []string{"user1", "user3", "user2"}, []string{res[0].ID, res[1].ID, res[2].ID}, m)
	}

	users, err := idx.LookupUsers(ctx, []string{"user3", "missing", "user1"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "user3", users[0].ID)
	assert.Equal(t, []int{20, 21}, users[0].ActiveHours)
	assert.NotNil(t, users[1].Location)

	_, err = idx.Search(ctx, []float64{1, 0}, 3, engine.MetricCosine)
	assert.Equal(t, engine.KindDimensionMismatch, engine.KindOf(err))

	n, err = idx.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := idx.GetUser(ctx, "user1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []float64{1, 0, 0}, got.InterestVector)

	require.NoError(t, idx.DeleteUser(ctx, "user1"))
	got, err = idx.GetUser(ctx, "user1")
	require.NoError(t, err)
	assert.Nil(t, got)

	all, err := idx.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "user2", all[0].ID)
}
