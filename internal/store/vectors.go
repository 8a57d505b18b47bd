package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/flulink/engine/internal/engine"
)

var (
	_ engine.VectorIndex   = (*DB)(nil)
	_ engine.UserDirectory = (*DB)(nil)
)

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// saveVector stores or replaces the vector for a user.
func saveVector(ctx context.Context, ex execer, userID string, embedding []float64, model string, now int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO user_vectors (user_id, embedding, model, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET embedding = excluded.embedding, model = excluded.model,
			dimensions = excluded.dimensions, created_at = excluded.created_at
	`, userID, encodeEmbedding(embedding), model, len(embedding), now)
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

// Search scans every stored vector of the query's dimension and returns the
// k nearest under metric.
func (db *DB) Search(ctx context.Context, query []float64, k int, metric engine.Metric) ([]engine.VectorSearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT user_id, embedding FROM user_vectors WHERE dimensions = ?
	`, len(query))
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	var results []engine.VectorSearchResult
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		d, err := engine.Distance(metric, query, decodeEmbedding(blob))
		if err != nil {
			continue
		}
		results = append(results, engine.VectorSearchResult{ID: id, Distance: d})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
