package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flulink/engine/internal/engine"
)

// InterestModel labels interest vectors imported with user records.
const InterestModel = "interest"

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertUser stores a user and, when present, its interest vector.
func (db *DB) UpsertUser(ctx context.Context, u engine.User) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert user: %w", err)
	}
	if err := upsertUser(ctx, tx, u, time.Now().UnixMilli()); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert user: %w", err)
	}
	return nil
}

// ImportUsers upserts users in a single transaction and returns how many
// were written.
func (db *DB) ImportUsers(ctx context.Context, users []engine.User) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	now := time.Now().UnixMilli()
	for i, u := range users {
		if err := upsertUser(ctx, tx, u, now); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("user %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return len(users), nil
}

func upsertUser(ctx context.Context, ex execer, u engine.User, now int64) error {
	if strings.TrimSpace(u.ID) == "" {
		return engine.Errorf(engine.KindIncompleteUser, "user id is required")
	}
	var lat, lng sql.NullFloat64
	if u.Location != nil {
		lat = sql.NullFloat64{Float64: u.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: u.Location.Lng, Valid: true}
	}
	var activity sql.NullFloat64
	if u.ActivityLevel != nil {
		activity = sql.NullFloat64{Float64: *u.ActivityLevel, Valid: true}
	}
	var hours sql.NullString
	if len(u.ActiveHours) > 0 {
		b, err := json.Marshal(u.ActiveHours)
		if err != nil {
			return fmt.Errorf("encode active hours: %w", err)
		}
		hours = sql.NullString{String: string(b), Valid: true}
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO users (id, lat, lng, activity_level, active_hours, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET lat = excluded.lat, lng = excluded.lng,
			activity_level = excluded.activity_level, active_hours = excluded.active_hours,
			updated_at = excluded.updated_at
	`, u.ID, lat, lng, activity, hours, now, now)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}

	if len(u.InterestVector) == 0 {
		return nil
	}
	return saveVector(ctx, ex, u.ID, u.InterestVector, InterestModel, now)
}

const userColumns = `u.id, u.lat, u.lng, u.activity_level, u.active_hours, v.embedding`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (engine.User, error) {
	var (
		u        engine.User
		lat, lng sql.NullFloat64
		activity sql.NullFloat64
		hours    sql.NullString
		blob     []byte
	)
	if err := row.Scan(&u.ID, &lat, &lng, &activity, &hours, &blob); err != nil {
		return engine.User{}, err
	}
	if lat.Valid && lng.Valid {
		u.Location = &engine.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	if activity.Valid {
		v := activity.Float64
		u.ActivityLevel = &v
	}
	if hours.Valid {
		if err := json.Unmarshal([]byte(hours.String), &u.ActiveHours); err != nil {
			return engine.User{}, fmt.Errorf("decode active hours for %s: %w", u.ID, err)
		}
	}
	if len(blob) > 0 {
		u.InterestVector = decodeEmbedding(blob)
	}
	return u, nil
}

// GetUser returns a user by id, or nil if not found.
func (db *DB) GetUser(ctx context.Context, id string) (*engine.User, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users u LEFT JOIN user_vectors v ON v.user_id = u.id
		WHERE u.id = ?
	`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// LookupUsers resolves ids into users, preserving the order of ids.
// Unknown ids are omitted.
func (db *DB) LookupUsers(ctx context.Context, ids []string) ([]engine.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users u LEFT JOIN user_vectors v ON v.user_id = u.id
		WHERE u.id IN (`+placeholders+`)
	`, args...)
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

// ListUsers returns every user ordered by id.
func (db *DB) ListUsers(ctx context.Context) ([]engine.User, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users u LEFT JOIN user_vectors v ON v.user_id = u.id
		ORDER BY u.id
	`)
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
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// DeleteUser removes a user and its vector.
func (db *DB) DeleteUser(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
