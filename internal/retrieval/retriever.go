// Package retrieval assembles the candidate set for a query: static
// inclusion, vector search over embeddings, and a bounded graph crawl, then
// link scoring and ranking.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/persona-labs/persona/internal/memerr"
	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/query"
	"github.com/persona-labs/persona/internal/store"
	"github.com/persona-labs/persona/internal/vec"
)

const (
	defaultTopK     = 10
	defaultHopDepth = 2
	defaultMaxItems = 50
)

// Embedder is the embedding capability used for the semantic query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RankedContext is the ordered candidate set handed to the formatter.
type RankedContext struct {
	Items     []*models.Memory
	StaticIDs map[string]bool
	Card      *models.UserCard
	Expansion models.QueryExpansion
	Meta      models.ContextMeta
}

// Defaults are the per-request fallbacks applied when a ContextRequest
// leaves a knob unset.
type Defaults struct {
	TopK     int
	HopDepth int
	MaxItems int
}

type Retriever struct {
	memories *store.MemoryStore
	links    *store.LinkStore
	cards    *store.UserCardStore
	expander *query.Expander
	embedder Embedder
	logger   *slog.Logger
	defaults Defaults
	now      func() time.Time
}

func NewRetriever(
	memories *store.MemoryStore,
	links *store.LinkStore,
	cards *store.UserCardStore,
	expander *query.Expander,
	embedder Embedder,
	logger *slog.Logger,
) *Retriever {
	return &Retriever{
		memories: memories,
		links:    links,
		cards:    cards,
		expander: expander,
		embedder: embedder,
		logger:   logger,
		defaults: Defaults{TopK: defaultTopK, HopDepth: defaultHopDepth, MaxItems: defaultMaxItems},
		now:      time.Now,
	}
}

// SetDefaults replaces the built-in per-request fallbacks. Zero fields keep
// the built-ins.
func (r *Retriever) SetDefaults(d Defaults) {
	if d.TopK > 0 {
		r.defaults.TopK = d.TopK
	}
	if d.HopDepth > 0 {
		r.defaults.HopDepth = d.HopDepth
	}
	if d.MaxItems > 0 {
		r.defaults.MaxItems = d.MaxItems
	}
}

// GetContext runs the read path for one query. Static fetch and vector
// search run concurrently; the graph crawl is seeded from their union. A
// storage failure in any stage fails the whole call, never a silent empty
// context.
func (r *Retriever) GetContext(ctx context.Context, userID string, req models.ContextRequest) (*RankedContext, error) {
	start := r.now()

	topK := req.TopK
	if topK <= 0 {
		topK = r.defaults.TopK
	}
	hopDepth := req.HopDepth
	if hopDepth <= 0 {
		hopDepth = r.defaults.HopDepth
	}
	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = r.defaults.MaxItems
	}
	includeStatic := true
	if req.IncludeStatic != nil {
		includeStatic = *req.IncludeStatic
	}

	tz := time.UTC
	if req.Timezone != "" {
		if loc, err := time.LoadLocation(req.Timezone); err == nil {
			tz = loc
		} else {
			r.logger.Warn("unknown timezone, using UTC", "timezone", req.Timezone)
		}
	}

	expansion := r.expander.Expand(ctx, req.Query, tz)

	var (
		staticSet  []*models.Memory
		card       *models.UserCard
		vectorHits []*models.Memory
		degraded   bool
	)

	g, gctx := errgroup.WithContext(ctx)
	if includeStatic {
		g.Go(func() error {
			var err error
			staticSet, card, err = r.staticSet(gctx, userID)
			if err != nil {
				return &memerr.RetrievalError{Stage: "static", Err: err}
			}
			return nil
		})
	}
	g.Go(func() error {
		var err error
		vectorHits, degraded, err = r.vectorSearch(gctx, userID, expansion, topK)
		if err != nil {
			return &memerr.RetrievalError{Stage: "vector", Err: err}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	staticIDs := make(map[string]bool, len(staticSet))
	seen := make(map[string]bool)
	candidates := make([]*models.Memory, 0, len(staticSet)+len(vectorHits))
	for _, m := range staticSet {
		staticIDs[m.ID] = true
		seen[m.ID] = true
		candidates = append(candidates, m)
	}
	for _, m := range vectorHits {
		if !seen[m.ID] {
			seen[m.ID] = true
			candidates = append(candidates, m)
		}
	}

	seedIDs := make([]string, 0, len(candidates))
	for _, m := range candidates {
		seedIDs = append(seedIDs, m.ID)
	}

	crawled, err := r.links.Connected(ctx, r.memories, seedIDs, hopDepth)
	if err != nil {
		return nil, &memerr.RetrievalError{Stage: "crawl", Err: err}
	}
	crawlCount := 0
	for _, m := range crawled {
		if seen[m.ID] {
			continue
		}
		// Crawl results honor the active date filter the same way vector
		// candidates do.
		if expansion.DateRange != nil && !expansion.DateRange.Contains(m.CreatedAt) {
			continue
		}
		seen[m.ID] = true
		candidates = append(candidates, m)
		crawlCount++
	}

	items := rank(candidates, staticIDs, expansion.Entities, r.now(), maxItems)

	return &RankedContext{
		Items:     items,
		StaticIDs: staticIDs,
		Card:      card,
		Expansion: expansion,
		Meta: models.ContextMeta{
			StaticCount:    len(staticSet),
			SeedCount:      len(vectorHits),
			CrawlCount:     crawlCount,
			TookMs:         time.Since(start).Milliseconds(),
			VectorDegraded: degraded,
		},
	}, nil
}

// staticSet is the deterministic inclusion floor: every active note, the
// current psyche per attribute key, and the identity card. These never depend
// on vector recall.
func (r *Retriever) staticSet(ctx context.Context, userID string) ([]*models.Memory, *models.UserCard, error) {
	notes, err := r.memories.ListActive(ctx, userID, models.TypeNote)
	if err != nil {
		return nil, nil, err
	}
	psyche, err := r.memories.ListActive(ctx, userID, models.TypePsyche)
	if err != nil {
		return nil, nil, err
	}
	card, err := r.cards.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return append(notes, psyche...), card, nil
}

type scoredHit struct {
	m   *models.Memory
	sim float64
}

// vectorSearch embeds the semantic query and takes the topK most similar
// memories by cosine. The date filter is applied to the pool before ranking,
// a hard filter rather than a scoring bonus. An embedding provider failure
// degrades to zero vector hits since the static set still answers; the
// degraded flag tells the caller recall was reduced.
func (r *Retriever) vectorSearch(ctx context.Context, userID string, expansion models.QueryExpansion, topK int) ([]*models.Memory, bool, error) {
	qv, err := r.embedder.Embed(ctx, expansion.SemanticQuery)
	if err != nil {
		r.logger.Warn("query embedding failed, skipping vector search", "error", err)
		return nil, true, nil
	}

	pool, err := r.memories.AllWithEmbeddings(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	hits := make([]scoredHit, 0, len(pool))
	for _, m := range pool {
		if expansion.DateRange != nil && !expansion.DateRange.Contains(m.CreatedAt) {
			continue
		}
		sim := vec.Cosine(qv, m.Embedding)
		if sim <= 0 {
			continue
		}
		hits = append(hits, scoredHit{m: m, sim: sim})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]*models.Memory, len(hits))
	for i, h := range hits {
		out[i] = h.m
	}
	return out, false, nil
}
