// Package pgindex is a PostgreSQL + pgvector collaborator implementing the
// engine's vector index and user directory.
package pgindex

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/flulink/engine/internal/engine"
)

var (
	_ engine.VectorIndex   = (*Index)(nil)
	_ engine.UserDirectory = (*Index)(nil)
)

// Index stores users and their interest vectors in a pgvector table.
type Index struct {
	pool *pgxpool.Pool
	dims int
}

// Open connects to dsn, registers the vector type on every connection and
// ensures the schema exists for vectors of dims dimensions.
func Open(ctx context.Context, dsn string, dims int) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	idx := &Index{pool: pool, dims: dims}
	if err := idx.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the connection pool.
func (i *Index) Close() { i.pool.Close() }

// Dimensions is the vector size of the users table.
func (i *Index) Dimensions() int { return i.dims }

// Migrate creates the extension, table and HNSW index if missing.
func (i *Index) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS flulink_users (
			id             TEXT PRIMARY KEY,
			embedding      vector(%d),
			lat            DOUBLE PRECISION,
			lng            DOUBLE PRECISION,
			activity_level DOUBLE PRECISION,
			active_hours   INTEGER[],
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, i.dims),
		`CREATE INDEX IF NOT EXISTS flulink_users_embedding_idx
			ON flulink_users USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, s := range stmts {
		if _, err := i.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const upsertSQL = `
	INSERT INTO flulink_users (id, embedding, lat, lng, activity_level, active_hours, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	ON CONFLICT (id) DO UPDATE SET
		embedding = COALESCE(EXCLUDED.embedding, flulink_users.embedding),
		lat = EXCLUDED.lat, lng = EXCLUDED.lng,
		activity_level = EXCLUDED.activity_level,
		active_hours = EXCLUDED.active_hours,
		updated_at = now()`

func (i *Index) upsertArgs(u engine.User) ([]any, error) {
	if u.ID == "" {
		return nil, engine.Errorf(engine.KindIncompleteUser, "user id is required")
	}
	var vec *pgvector.Vector
	if len(u.InterestVector) > 0 {
		if len(u.InterestVector) != i.dims {
			return nil, engine.Errorf(engine.KindDimensionMismatch,
				"user %s vector dimension %d does not match index dimension %d", u.ID, len(u.InterestVector), i.dims)
		}
		v := pgvector.NewVector(toFloat32(u.InterestVector))
		vec = &v
	}
	var lat, lng *float64
	if u.Location != nil {
		lat, lng = &u.Location.Lat, &u.Location.Lng
	}
	var hours []int32
	for _, h := range u.ActiveHours {
		hours = append(hours, int32(h))
	}
	return []any{u.ID, vec, lat, lng, u.ActivityLevel, hours}, nil
}

// UpsertUser stores a user. A user without a vector keeps any stored one.
func (i *Index) UpsertUser(ctx context.Context, u engine.User) error {
	args, err := i.upsertArgs(u)
	if err != nil {
		return err
	}
	if _, err := i.pool.Exec(ctx, upsertSQL, args...); err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// ImportUsers upserts users in one transaction using a batch.
func (i *Index) ImportUsers(ctx context.Context, users []engine.User) (int, error) {
	batch := &pgx.Batch{}
	for n, u := range users {
		args, err := i.upsertArgs(u)
		if err != nil {
			return 0, fmt.Errorf("user %d: %w", n, err)
		}
		batch.Queue(upsertSQL, args...)
	}

	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("import users: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return len(users), nil
}

// searchSQL returns the nearest-neighbour query for metric. pgvector's <#>
// yields the negated inner product.
func searchSQL(metric engine.Metric) string {
	op := "<=>"
	switch metric {
	case engine.MetricEuclidean:
		op = "<->"
	case engine.MetricDot:
		op = "<#>"
	}
	return `SELECT id, embedding ` + op + ` $1 AS distance
		FROM flulink_users
		WHERE embedding IS NOT NULL
		ORDER BY distance, id
		LIMIT $2`
}

// toDistance converts a pgvector operator result into the engine's distance.
func toDistance(metric engine.Metric, raw float64) float64 {
	if metric == engine.MetricDot {
		return engine.DotDistance(-raw)
	}
	return math.Max(0, raw)
}

// Search returns the k nearest users to query.
func (i *Index) Search(ctx context.Context, query []float64, k int, metric engine.Metric) ([]engine.VectorSearchResult, error) {
	if len(query) != i.dims {
		return nil, engine.Errorf(engine.KindDimensionMismatch,
			"query dimension %d does not match index dimension %d", len(query), i.dims)
	}
	if k <= 0 {
		return nil, nil
	}
	rows, err := i.pool.Query(ctx, searchSQL(metric), pgvector.NewVector(toFloat32(query)), k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []engine.VectorSearchResult
	for rows.Next() {
		var id string
		var raw float64
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, engine.VectorSearchResult{ID: id, Distance: toDistance(metric, raw)})
	}
	return out, rows.Err()
}

const userColumns = `id, embedding, lat, lng, activity_level, active_hours`

func scanUser(row pgx.Row) (engine.User, error) {
	var (
		u             engine.User
		vec           *pgvector.Vector
		lat, lng      *float64
		activityLevel *float64
		hours         []int32
	)
	if err := row.Scan(&u.ID, &vec, &lat, &lng, &activityLevel, &hours); err != nil {
		return engine.User{}, err
	}
	if vec != nil {
		u.InterestVector = toFloat64(vec.Slice())
	}
	if lat != nil && lng != nil {
		u.Location = &engine.Location{Lat: *lat, Lng: *lng}
	}
	u.ActivityLevel = activityLevel
	for _, h := range hours {
		u.ActiveHours = append(u.ActiveHours, int(h))
	}
	return u, nil
}

// LookupUsers resolves ids into users, preserving the order of ids.
func (i *Index) LookupUsers(ctx context.Context, ids []string) ([]engine.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := i.pool.Query(ctx, `SELECT `+userColumns+` FROM flulink_users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup users: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]engine.User, len(ids))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		byID[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]engine.User, 0, len(byID))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, u)
			delete(byID, id)
		}
	}
	return out, nil
}

// GetUser returns a user by id, or nil if not found.
func (i *Index) GetUser(ctx context.Context, id string) (*engine.User, error) {
	u, err := scanUser(i.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM flulink_users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ListUsers returns every user ordered by id.
func (i *Index) ListUsers(ctx context.Context) ([]engine.User, error) {
	rows, err := i.pool.Query(ctx, `SELECT `+userColumns+` FROM flulink_users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []engine.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of stored users.
func (i *Index) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := i.pool.QueryRow(ctx, `SELECT COUNT(*) FROM flulink_users`).Scan(&n)
	return n, err
}

// DeleteUser removes a user and its vector.
func (i *Index) DeleteUser(ctx context.Context, id string) error {
	if _, err := i.pool.Exec(ctx, `DELETE FROM flulink_users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
