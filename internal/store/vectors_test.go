package store

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flulink/engine/internal/engine"
)

func TestEncodeDecodeEmbedding(t *testing.T) {
	original := []float64{1.0, -0.5, 0.333, math.Pi, 0.0}
	decoded := decodeEmbedding(encodeEmbedding(original))
	assert.Equal(t, original, decoded)
}

func TestSaveVectorReplaces(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertUser(ctx, engine.User{ID: "u1"}))

	require.NoError(t, saveVector(ctx, db, "u1", []float64{0.1, 0.2, 0.3}, "test-model", 1))
	got, err := db.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.InterestVector)

	// Replace
	require.NoError(t, saveVector(ctx, db, "u1", []float64{1, 0}, "other", 2))
	var dims int
	var model string
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT dimensions, model FROM user_vectors WHERE user_id = ?", "u1").Scan(&dims, &model))
	assert.Equal(t, 2, dims)
	assert.Equal(t, "other", model)
}

func TestSaveVectorUnknownUser(t *testing.T) {
	db := testDB(t)
	err := saveVector(context.Background(), db, "ghost", []float64{1}, "m", 1)
	assert.Error(t, err)
}

func seedUsers(t *testing.T, db *DB) {
	t.Helper()
	_, err := db.ImportUsers(context.Background(), []engine.User{
		{ID: "user1", InterestVector: []float64{1, 0, 0}},
		{ID: "user2", InterestVector: []float64{0, 1, 0}},
		{ID: "user3", InterestVector: []float64{0.9, 0.1, 0}},
		{ID: "flat", InterestVector: []float64{1, 0}},
		{ID: "novector"},
	})
	require.NoError(t, err)
}

func TestSearch(t *testing.T) {
	db := testDB(t)
	seedUsers(t, db)

	for _, m := range []engine.Metric{engine.MetricCosine, engine.MetricEuclidean, engine.MetricDot} {
		t.Run(string(m), func(t *testing.T) {
			res, err := db.Search(context.Background(), []float64{1, 0, 0}, 10, m)
			require.NoError(t, err)
			require.Len(t, res, 3)
			assert.Equal(t, "user1", res[0].ID)
			assert.Equal(t, "user3", res[1].ID)
			assert.Equal(t, "user2", res[2].ID)
		})
	}
}

func TestSearchDotLargeMagnitude(t *testing.T) {
	db := testDB(t)
	_, err := db.ImportUsers(context.Background(), []engine.User{
		{ID: "a", InterestVector: []float64{27, 0}},
		{ID: "b", InterestVector: []float64{30, 0}},
	})
	require.NoError(t, err)

	res, err := db.Search(context.Background(), []float64{30, 0}, 2, engine.MetricDot)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "b", res[0].ID)
	assert.Equal(t, "a", res[1].ID)
	assert.Less(t, res[0].Distance, res[1].Distance)
}

func TestSearchTopK(t *testing.T) {
	db := testDB(t)
	seedUsers(t, db)

	res, err := db.Search(context.Background(), []float64{1, 0, 0}, 1, engine.MetricCosine)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "user1", res[0].ID)

	res, err = db.Search(context.Background(), []float64{1, 0, 0}, 0, engine.MetricCosine)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearchBacksMatchingAgent(t *testing.T) {
	db := testDB(t)
	seedUsers(t, db)

	agent := engine.NewMatchingAgent(engine.WithIndex(db))
	got, err := agent.FindSimilarUsers(context.Background(), []float64{1, 0, 0}, nil, 2)
	require.NoError(t, err)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "user1", got.Results[0].ID)
	assert.Equal(t, "user3", got.Results[1].ID)
}
