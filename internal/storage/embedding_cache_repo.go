package storage

import (
	"context"
	"fmt"
)

type CachedEmbedding struct {
	Key       string
	Model     string
	Dimension int
	Vector    []float32
}

// EmbeddingCacheRepo stores row embeddings keyed by a hash of model, dimension
// and text so re-analysis of the same rows skips the provider.
type EmbeddingCacheRepo struct {
	db *DB
}

func NewEmbeddingCacheRepo(db *DB) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db}
}

func (r *EmbeddingCacheRepo) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := r.db.Pool.Query(ctx, `SELECT cache_key, embedding FROM embedding_cache WHERE cache_key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("query embedding cache: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var vec []float32
		if err := rows.Scan(&key, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding cache: %w", err)
		}
		out[key] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding cache: %w", err)
	}
	return out, nil
}

func (r *EmbeddingCacheRepo) PutMany(ctx context.Context, entries []CachedEmbedding) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx put embeddings: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, e := range entries {
		_, err := tx.Exec(ctx, `
INSERT INTO embedding_cache (cache_key, model, dimension, embedding)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cache_key) DO NOTHING`,
			e.Key, e.Model, e.Dimension, e.Vector,
		)
		if err != nil {
			return fmt.Errorf("put embedding %s: %w", e.Key, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit embeddings tx: %w", err)
	}
	return nil
}
