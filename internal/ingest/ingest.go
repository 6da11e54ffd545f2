// Package ingest sequences the write path: extract candidates from raw text,
// persist urgent notes on the hot path, then link and persist the narrative
// cold path.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/persona-labs/persona/internal/extract"
	"github.com/persona-labs/persona/internal/memerr"
	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/privacy"
	"github.com/persona-labs/persona/internal/store"
)

// Embedder is the embedding capability consumed by ingestion; satisfied by
// embedding.CachedEmbedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service is the ingestion orchestrator.
type Service struct {
	memories  *store.MemoryStore
	links     *store.LinkStore
	cards     *store.UserCardStore
	extractor *extract.Extractor
	embedder  Embedder
	linker    *Linker
	logger    *slog.Logger

	// persistAttempts bounds hot-path retries against transient storage
	// failures.
	persistAttempts int
}

func NewService(
	memories *store.MemoryStore,
	links *store.LinkStore,
	cards *store.UserCardStore,
	extractor *extract.Extractor,
	embedder Embedder,
	linker *Linker,
	logger *slog.Logger,
) *Service {
	return &Service{
		memories:        memories,
		links:           links,
		cards:           cards,
		extractor:       extractor,
		embedder:        embedder,
		linker:          linker,
		logger:          logger,
		persistAttempts: 3,
	}
}

// Ingest runs the full write path for one unit of input. Notes are durable
// before anything else proceeds; a cold-path failure partway surfaces as
// PartialIngestError alongside the partial result, never a rollback.
//
// Re-ingesting identical input is not idempotent: each call may create new
// episode and note nodes.
func (s *Service) Ingest(ctx context.Context, userID, text string, meta models.SessionMeta) (*models.IngestResult, error) {
	// Redacted blocks never reach the extraction provider or the graph.
	text = privacy.StripPrivateTags(text)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty input")
	}

	recent := s.recentContext(ctx, userID)

	out, err := s.extractor.Extract(ctx, text, meta, recent)
	if err != nil {
		// The only stage allowed to fail the whole call: partial extraction
		// cannot be safely reconciled.
		return nil, err
	}

	result := &models.IngestResult{}
	var completed, failed []string

	notes := make([]*models.Memory, len(out.Notes))
	for i, cand := range out.Notes {
		notes[i] = s.toMemory(userID, cand, out.Model, meta)
	}
	psyche := make([]*models.Memory, len(out.Psyche))
	for i, cand := range out.Psyche {
		psyche[i] = s.toMemory(userID, cand, out.Model, meta)
	}
	var episode *models.Memory
	if out.Episode != nil {
		episode = s.toMemory(userID, *out.Episode, out.Model, meta)
	}

	all := make([]*models.Memory, 0, len(notes)+len(psyche)+1)
	all = append(all, notes...)
	all = append(all, psyche...)
	if episode != nil {
		all = append(all, episode)
	}
	s.embedAll(ctx, all)

	// Hot path: note candidates are persisted immediately, before any
	// linking, so a user-visible commitment is durable no matter what the
	// cold path does.
	noteIDs := make([]string, 0, len(notes))
	for _, note := range notes {
		id, err := s.persistWithRetry(ctx, note)
		if err != nil {
			s.logger.Error("hot-path note persist failed", "user", userID, "error", err)
			failed = append(failed, fmt.Sprintf("note %q: %v", note.Title, err))
			continue
		}
		noteIDs = append(noteIDs, id)
		completed = append(completed, id)
		result.Notes = append(result.Notes, note)
	}

	// Cold path: psyche resolution, episode chain append, session and entity
	// links. Best-effort sequence; hot-path notes are never rolled back.
	for i, m := range psyche {
		id, err := s.linker.PlacePsyche(ctx, m)
		if err != nil {
			failed = append(failed, fmt.Sprintf("psyche %q: %v", m.AttributeKey, err))
			continue
		}
		completed = append(completed, id)
		result.Psyche = append(result.Psyche, m)

		if err := s.linker.LinkEntities(ctx, userID, id, out.Psyche[i].Entities); err != nil {
			failed = append(failed, fmt.Sprintf("psyche links %s: %v", id, err))
		}
	}

	if episode != nil {
		m := episode
		id, err := s.memories.Create(ctx, m)
		if err != nil {
			failed = append(failed, fmt.Sprintf("episode %q: %v", out.Episode.Title, err))
		} else {
			completed = append(completed, id)
			result.Episodes = append(result.Episodes, m)

			if err := s.linker.LinkSessionNotes(ctx, userID, id, noteIDs); err != nil {
				failed = append(failed, fmt.Sprintf("episode session links %s: %v", id, err))
			}
			if err := s.linker.LinkEntities(ctx, userID, id, out.Episode.Entities); err != nil {
				failed = append(failed, fmt.Sprintf("episode entity links %s: %v", id, err))
			}
		}
	}

	s.linker.MergeCard(ctx, userID, out.Psyche)

	s.logger.Info("ingest complete",
		"user", userID,
		"episodes", len(result.Episodes),
		"psyche", len(result.Psyche),
		"notes", len(result.Notes),
		"failed", len(failed),
	)

	if len(failed) > 0 {
		return result, &memerr.PartialIngestError{Completed: completed, Failed: failed}
	}
	return result, nil
}

func (s *Service) toMemory(userID string, cand extract.Candidate, model string, meta models.SessionMeta) *models.Memory {
	return &models.Memory{
		UserID:          userID,
		Type:            cand.Type,
		Title:           cand.Title,
		Content:         cand.Content,
		Importance:      cand.Confidence,
		AttributeKey:    cand.AttributeKey,
		PsycheType:      cand.PsycheType,
		NoteType:        cand.NoteType,
		SourceRef:       cand.SourceRef,
		SessionID:       meta.SessionID,
		ExtractionModel: model,
	}
}

// embedBestEffort attaches an embedding when available. Persistence never
// waits on a healthy provider; a memory without a vector is still reachable
// through the static set and the graph.
func (s *Service) embedBestEffort(ctx context.Context, m *models.Memory) {
	text := m.Content
	if m.Title != "" {
		text = m.Title + " | " + m.Content
	}
	v, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embedding failed, persisting without vector", "type", m.Type, "error", err)
		return
	}
	m.Embedding = v
}

func (s *Service) persistWithRetry(ctx context.Context, m *models.Memory) (string, error) {
	var id string
	var err error
	for attempt := 1; attempt <= s.persistAttempts; attempt++ {
		id, err = s.memories.Create(ctx, m)
		if err == nil {
			return id, nil
		}
		if !memerr.Retryable(err) || attempt == s.persistAttempts {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	return "", err
}

// recentContext gives the extractor a glimpse of the existing graph: the
// chain tail and the identity card. Best-effort.
func (s *Service) recentContext(ctx context.Context, userID string) string {
	var parts []string

	if tail, err := s.memories.ChainTail(ctx, userID); err == nil && tail != nil {
		parts = append(parts, "Previous episode: "+tail.Title)
	}
	if card, err := s.cards.Get(ctx, userID); err == nil && card != nil {
		line := "User: " + card.Name
		if len(card.CurrentFocus) > 0 {
			line += " | focus: " + strings.Join(card.CurrentFocus, ", ")
		}
		parts = append(parts, line)
	}

	return strings.Join(parts, "\n")
}

// embedAll fetches embeddings for a batch of candidates in parallel, bounded
// downstream by the shared provider limiter. Best-effort per item.
func (s *Service) embedAll(ctx context.Context, memories []*models.Memory) {
	var g errgroup.Group
	for _, m := range memories {
		g.Go(func() error {
			s.embedBestEffort(ctx, m)
			return nil
		})
	}
	_ = g.Wait()
}
