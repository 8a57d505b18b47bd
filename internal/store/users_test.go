package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flulink/engine/internal/engine"
)

func TestUpsertAndGetUser(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	level := 0.7
	u := engine.User{
		ID:             "u1",
		InterestVector: []float64{0.5, 0.5},
		Location:       &engine.Location{Lat: 39.9, Lng: 116.4},
		ActivityLevel:  &level,
		ActiveHours:    []int{19, 20, 21},
	}
	require.NoError(t, db.UpsertUser(ctx, u))

	got, err := db.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u, *got)

	// Update clears optional fields
	require.NoError(t, db.UpsertUser(ctx, engine.User{ID: "u1"}))
	got, err = db.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.Location)
	assert.Nil(t, got.ActivityLevel)
	assert.Empty(t, got.ActiveHours)
	assert.Equal(t, []float64{0.5, 0.5}, got.InterestVector, "vector is kept when the update carries none")
}

func TestGetUserMissing(t *testing.T) {
	got, err := testDB(t).GetUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertUserRequiresID(t *testing.T) {
	err := testDB(t).UpsertUser(context.Background(), engine.User{ID: "  "})
	assert.Equal(t, engine.KindIncompleteUser, engine.KindOf(err))
}

func TestLookupUsersPreservesOrder(t *testing.T) {
	db := testDB(t)
	seedUsers(t, db)

	users, err := db.LookupUsers(context.Background(), []string{"user3", "ghost", "user1", "novector"})
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "user3", users[0].ID)
	assert.Equal(t, "user1", users[1].ID)
	assert.Equal(t, "novector", users[2].ID)
	assert.Empty(t, users[2].InterestVector)

	none, err := db.LookupUsers(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestImportUsersAtomic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ImportUsers(ctx, []engine.User{{ID: "ok"}, {ID: ""}})
	require.Error(t, err)
	n, err := db.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	written, err := db.ImportUsers(ctx, []engine.User{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	n, err = db.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListUsers(t *testing.T) {
	db := testDB(t)
	seedUsers(t, db)

	users, err := db.ListUsers(context.Background())
	require.NoError(t, err)
	var ids []string
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"flat", "novector", "user1", "user2", "user3"}, ids)
}

func TestDeleteUserCascades(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, db.UpsertUser(ctx, engine.User{ID: "u1", InterestVector: []float64{1}}))
	require.NoError(t, db.DeleteUser(ctx, "u1"))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_vectors WHERE user_id = ?", "u1").Scan(&n))
	assert.Zero(t, n)
}
