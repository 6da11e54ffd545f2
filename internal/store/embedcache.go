package store

import (
	"context"
	"database/sql"

	"github.com/persona-labs/persona/internal/memerr"
)

// EmbeddingCacheEntry stores a cached embedding keyed by content hash.
type EmbeddingCacheEntry struct {
	ContentHash string
	Embedding   []byte
	Dimension   int
	Model       string
	UpdatedAt   int64
}

// EmbeddingCacheStore caches embeddings by content hash so re-extracted or
// re-queried text never hits the provider twice.
type EmbeddingCacheStore struct {
	db *DB
}

func NewEmbeddingCacheStore(db *DB) *EmbeddingCacheStore {
	return &EmbeddingCacheStore{db: db}
}

// Get returns the cached entry, or nil on a miss.
func (s *EmbeddingCacheStore) Get(ctx context.Context, hash string) (*EmbeddingCacheEntry, error) {
	var e EmbeddingCacheEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, embedding, dimension, model, updated_at
		FROM embedding_cache WHERE content_hash = ?
	`, hash).Scan(&e.ContentHash, &e.Embedding, &e.Dimension, &e.Model, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "cache get", Err: err}
	}
	return &e, nil
}

// Put upserts a cache entry.
func (s *EmbeddingCacheStore) Put(ctx context.Context, e *EmbeddingCacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, embedding, dimension, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			updated_at = excluded.updated_at
	`, e.ContentHash, e.Embedding, e.Dimension, e.Model, now())
	if err != nil {
		return &memerr.PersistenceError{Op: "cache put", Err: err}
	}
	return nil
}
