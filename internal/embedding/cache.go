// Package embedding provides the cached embedder used by both pipelines.
package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/persona-labs/persona/internal/store"
	"github.com/persona-labs/persona/internal/vec"
)

// Client is the embedding capability consumed here; satisfied by llm.Ollama.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder wraps the embedding capability with content-hash caching via
// SQLite.
type CachedEmbedder struct {
	client Client
	cache  *store.EmbeddingCacheStore
	model  string
	dim    int
}

func NewCachedEmbedder(client Client, cache *store.EmbeddingCacheStore, model string, dim int) *CachedEmbedder {
	return &CachedEmbedder{
		client: client,
		cache:  cache,
		model:  model,
		dim:    dim,
	}
}

// Embed returns the embedding for text, using cache when available.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := ContentHash(text)

	entry, err := e.cache.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if entry != nil {
		return vec.Decode(entry.Embedding), nil
	}

	v, err := e.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	// Cache write failures are non-fatal; the vector is already in hand.
	_ = e.cache.Put(ctx, &store.EmbeddingCacheEntry{
		ContentHash: hash,
		Embedding:   vec.Encode(v),
		Dimension:   e.dim,
		Model:       e.model,
	})

	return v, nil
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
