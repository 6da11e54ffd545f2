package ingest

import (
	"context"
	"log/slog"
	"strings"

	"github.com/persona-labs/persona/internal/extract"
	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/store"
)

// Linker resolves extraction candidates against the existing graph: psyche
// supersession by attribute key, entity mention resolution, and session
// note association.
type Linker struct {
	memories *store.MemoryStore
	links    *store.LinkStore
	cards    *store.UserCardStore
	resolver EntityResolver
	logger   *slog.Logger
}

func NewLinker(
	memories *store.MemoryStore,
	links *store.LinkStore,
	cards *store.UserCardStore,
	resolver EntityResolver,
	logger *slog.Logger,
) *Linker {
	return &Linker{
		memories: memories,
		links:    links,
		cards:    cards,
		resolver: resolver,
		logger:   logger,
	}
}

// PlacePsyche persists a psyche candidate. When a current statement exists
// for the same attribute key the new one supersedes it, keeping the
// current-belief-per-key invariant: exactly one node without an outgoing
// SUPERSEDES edge.
func (l *Linker) PlacePsyche(ctx context.Context, m *models.Memory) (string, error) {
	if m.AttributeKey != "" {
		prior, err := l.memories.CurrentPsycheForKey(ctx, m.UserID, m.AttributeKey)
		if err != nil {
			return "", err
		}
		if prior != nil {
			return l.memories.CreatePsycheSuperseding(ctx, m, prior.ID)
		}
	}
	return l.memories.Create(ctx, m)
}

// LinkEntities resolves each mention to a canonical entity and adds a
// REFERS_TO edge from the memory to it.
func (l *Linker) LinkEntities(ctx context.Context, userID, memoryID string, mentions []string) error {
	for _, mention := range mentions {
		entityID, err := l.resolver.Resolve(ctx, userID, mention)
		if err != nil {
			return err
		}
		if entityID == "" {
			continue
		}
		if err := l.links.Create(ctx, userID, memoryID, entityID, models.RelRefersTo); err != nil {
			return err
		}
	}
	return nil
}

// LinkSessionNotes associates an episode with the hot-path notes captured in
// the same session window.
func (l *Linker) LinkSessionNotes(ctx context.Context, userID, episodeID string, noteIDs []string) error {
	for _, noteID := range noteIDs {
		if err := l.links.Create(ctx, userID, episodeID, noteID, models.RelRelatesTo); err != nil {
			return err
		}
	}
	return nil
}

// identityCardThreshold gates which psyche facts are trusted enough to
// rebuild the user card.
const identityCardThreshold = 0.8

// MergeCard folds high-confidence identity facts from this ingest into the
// user card. Best-effort: card drift never fails an ingest.
func (l *Linker) MergeCard(ctx context.Context, userID string, psyche []extract.Candidate) {
	var patch models.CardPatch
	for _, p := range psyche {
		if p.Confidence < identityCardThreshold {
			continue
		}
		key := strings.ToLower(p.AttributeKey)
		switch {
		case key == "name":
			patch.Name = strings.TrimSpace(p.Content)
		case key == "role" || strings.HasSuffix(key, "_role") || key == "occupation":
			patch.Roles = append(patch.Roles, strings.TrimSpace(p.Content))
		case p.PsycheType == "value":
			patch.CoreValues = append(patch.CoreValues, strings.TrimSpace(p.Content))
		case strings.Contains(key, "focus") || strings.Contains(key, "current_project"):
			patch.CurrentFocus = append(patch.CurrentFocus, strings.TrimSpace(p.Content))
		}
	}

	if patch.Name == "" && len(patch.Roles) == 0 && len(patch.CoreValues) == 0 && len(patch.CurrentFocus) == 0 {
		return
	}
	if _, err := l.cards.Merge(ctx, userID, patch); err != nil {
		l.logger.Warn("user card merge failed", "user", userID, "error", err)
	}
}
