package ingest

import (
	"context"
	"log/slog"

	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/store"
	"github.com/persona-labs/persona/internal/vec"
)

// EntityResolver resolves an entity mention to a canonical entity ID,
// creating the canonical row when nothing matches. The matching rule is
// pluggable: aggregation queries undercount when "Project Alpha" and "Alpha
// project" land on separate nodes, and no single fixed rule fits every
// deployment.
type EntityResolver interface {
	Resolve(ctx context.Context, userID, mention string) (string, error)
}

// Matcher is the default resolver: exact normalized-string match first, then
// embedding similarity against known entities above a threshold, then create.
type Matcher struct {
	entities  *store.EntityStore
	embedder  Embedder
	threshold float64
	logger    *slog.Logger
}

func NewMatcher(entities *store.EntityStore, embedder Embedder, threshold float64, logger *slog.Logger) *Matcher {
	return &Matcher{
		entities:  entities,
		embedder:  embedder,
		threshold: threshold,
		logger:    logger,
	}
}

func (m *Matcher) Resolve(ctx context.Context, userID, mention string) (string, error) {
	normalized := store.NormalizeEntity(mention)
	if normalized == "" {
		return "", nil
	}

	existing, err := m.entities.GetByNormalized(ctx, userID, normalized)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	// No exact hit: try embedding similarity against the known entities.
	// Embedding failure here degrades to exact-only matching; a mention must
	// never be dropped because the provider is down.
	mentionVec, embErr := m.embedder.Embed(ctx, normalized)
	if embErr == nil && len(mentionVec) > 0 && m.threshold > 0 {
		all, err := m.entities.All(ctx, userID)
		if err != nil {
			return "", err
		}
		bestSim := 0.0
		var best *models.Entity
		for _, e := range all {
			sim := vec.Cosine(mentionVec, e.Embedding)
			if sim > bestSim {
				bestSim = sim
				best = e
			}
		}
		if best != nil && bestSim >= m.threshold {
			m.logger.Debug("entity resolved by similarity",
				"mention", mention, "entity", best.Name, "similarity", bestSim)
			return best.ID, nil
		}
	} else if embErr != nil {
		m.logger.Warn("entity embedding failed, exact match only", "mention", mention, "error", embErr)
	}

	return m.entities.Create(ctx, &models.Entity{
		UserID:     userID,
		Name:       mention,
		Normalized: normalized,
		Embedding:  mentionVec,
	})
}
