package ingest_test

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persona-labs/persona/internal/extract"
	"github.com/persona-labs/persona/internal/ingest"
	"github.com/persona-labs/persona/internal/memerr"
	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/query"
	"github.com/persona-labs/persona/internal/retrieval"
	"github.com/persona-labs/persona/internal/store"
)

var testLogger = slog.New(slog.DiscardHandler)

// stubChat plays the extraction provider with canned JSON.
type stubChat struct {
	out string
	err error
}

func (s *stubChat) GenerateJSON(context.Context, string) (string, error) { return s.out, s.err }
func (s *stubChat) ChatModel() string                                    { return "stub-model" }

// stubEmbedder hands every distinct text its own one-hot vector, so identical
// texts are identical and different texts are orthogonal. fail simulates a
// provider outage.
type stubEmbedder struct {
	fail bool

	mu   sync.Mutex
	seen map[string]int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, fmt.Errorf("embedding provider down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]int)
	}
	idx, ok := s.seen[text]
	if !ok {
		idx = len(s.seen)
		s.seen[text] = idx
	}
	v := make([]float32, 64)
	v[idx%64] = 1
	return v, nil
}

type fixture struct {
	svc      *ingest.Service
	memories *store.MemoryStore
	links    *store.LinkStore
	entities *store.EntityStore
	cards    *store.UserCardStore
}

func setup(t *testing.T, chat extract.ChatClient, embedder ingest.Embedder) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	memories := store.NewMemoryStore(db)
	links := store.NewLinkStore(db)
	entities := store.NewEntityStore(db)
	cards := store.NewUserCardStore(db)

	extractor := extract.New(chat, testLogger)
	matcher := ingest.NewMatcher(entities, embedder, 0.85, testLogger)
	linker := ingest.NewLinker(memories, links, cards, matcher, testLogger)
	svc := ingest.NewService(memories, links, cards, extractor, embedder, linker, testLogger)

	return &fixture{svc: svc, memories: memories, links: links, entities: entities, cards: cards}
}

const fullExtraction = `{
  "episode": {"title": "Sprint planning", "content": "Planned the Alpha sprint with Dana", "confidence": 0.9, "entities": ["Project Alpha", "Dana"]},
  "psyche": [{"psyche_type": "preference", "attribute_key": "work_style", "content": "Likes planning in the morning", "confidence": 0.85, "entities": []}],
  "notes": [{"note_type": "reminder", "title": "Send the sprint doc", "content": "Send the sprint doc to Dana by Friday", "confidence": 0.95, "source_ref": "I need to send Dana the doc by Friday", "entities": ["Dana"]}]
}`

func TestIngestFullSession(t *testing.T) {
	f := setup(t, &stubChat{out: fullExtraction}, &stubEmbedder{})
	ctx := context.Background()

	result, err := f.svc.Ingest(ctx, "u1", "planning talk with Dana... I need to send Dana the doc by Friday", models.SessionMeta{SessionID: "s1"})
	require.NoError(t, err)

	require.Len(t, result.Episodes, 1)
	require.Len(t, result.Psyche, 1)
	require.Len(t, result.Notes, 1)

	// Provenance lands on every node.
	assert.Equal(t, "s1", result.Episodes[0].SessionID)
	assert.Equal(t, "stub-model", result.Episodes[0].ExtractionModel)
	assert.Equal(t, "I need to send Dana the doc by Friday", result.Notes[0].SourceRef)

	// The episode became the chain tail.
	tail, err := f.memories.ChainTail(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, tail)
	assert.Equal(t, result.Episodes[0].ID, tail.ID)

	// Session note is linked to the episode, entity mentions resolved.
	edges, err := f.links.For(ctx, result.Episodes[0].ID)
	require.NoError(t, err)
	var relates, refers int
	for _, l := range edges {
		switch l.Relation {
		case models.RelRelatesTo:
			relates++
			assert.Equal(t, result.Notes[0].ID, l.TargetID)
		case models.RelRefersTo:
			refers++
		}
	}
	assert.Equal(t, 1, relates)
	assert.Equal(t, 2, refers, "one REFERS_TO edge per extracted entity")

	ents, err := f.entities.All(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, ents, 2)
}

func TestExtractionFailureFailsWholeIngest(t *testing.T) {
	f := setup(t, &stubChat{err: fmt.Errorf("model overloaded")}, &stubEmbedder{})

	_, err := f.svc.Ingest(context.Background(), "u1", "some text", models.SessionMeta{})
	var ee *memerr.ExtractionError
	require.ErrorAs(t, err, &ee)

	notes, err := f.memories.ListNotes(context.Background(), "u1", "all")
	require.NoError(t, err)
	assert.Empty(t, notes, "nothing persists when extraction itself fails")
}

func TestMalformedExtractionOutput(t *testing.T) {
	f := setup(t, &stubChat{out: "I cannot produce JSON today"}, &stubEmbedder{})

	_, err := f.svc.Ingest(context.Background(), "u1", "some text", models.SessionMeta{})
	var ee *memerr.ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Output, "I cannot produce JSON")
}

func TestNotesSurviveEmbeddingOutage(t *testing.T) {
	// Cold-path embedding is best-effort; hot-path notes must land durable
	// regardless.
	f := setup(t, &stubChat{out: fullExtraction}, &stubEmbedder{fail: true})
	ctx := context.Background()

	result, err := f.svc.Ingest(ctx, "u1", "planning talk", models.SessionMeta{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, result.Notes, 1)

	got, err := f.memories.Get(ctx, result.Notes[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Embedding)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestNotesSurviveColdPathFailure(t *testing.T) {
	// Hot-path notes write to a healthy store while every cold-path step
	// (psyche placement, session and entity links, card merge) goes through a
	// linker whose database is gone. The committed note must stay readable
	// and the partial outcome must name it.
	f := setup(t, &stubChat{out: fullExtraction}, &stubEmbedder{})
	ctx := context.Background()

	deadDB, err := store.Open(filepath.Join(t.TempDir(), "dead.db"))
	require.NoError(t, err)
	deadMemories := store.NewMemoryStore(deadDB)
	deadLinks := store.NewLinkStore(deadDB)
	deadEntities := store.NewEntityStore(deadDB)
	deadCards := store.NewUserCardStore(deadDB)
	require.NoError(t, deadDB.Close())

	emb := &stubEmbedder{}
	matcher := ingest.NewMatcher(deadEntities, emb, 0.85, testLogger)
	deadLinker := ingest.NewLinker(deadMemories, deadLinks, deadCards, matcher, testLogger)
	extractor := extract.New(&stubChat{out: fullExtraction}, testLogger)
	svc := ingest.NewService(f.memories, f.links, f.cards, extractor, emb, deadLinker, testLogger)

	result, err := svc.Ingest(ctx, "u1", "planning talk... I need to send Dana the doc by Friday", models.SessionMeta{SessionID: "s1"})

	var partial *memerr.PartialIngestError
	require.ErrorAs(t, err, &partial)
	require.Len(t, result.Notes, 1)
	noteID := result.Notes[0].ID
	assert.Contains(t, partial.Completed, noteID)
	assert.NotEmpty(t, partial.Failed)

	// The note is durable in the healthy store.
	got, err := f.memories.Get(ctx, noteID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusActive, got.Status)

	// And reachable on the read path, through the static set.
	retriever := retrieval.NewRetriever(f.memories, f.links, f.cards, query.NewExpander(nil, testLogger), emb, testLogger)
	rc, err := retriever.GetContext(ctx, "u1", models.ContextRequest{Query: "what do I need to send"})
	require.NoError(t, err)
	found := false
	for _, m := range rc.Items {
		if m.ID == noteID {
			found = true
		}
	}
	assert.True(t, found, "hot-path note retrievable despite cold-path failure in the same call")
}

func TestRepeatedPsycheSupersedes(t *testing.T) {
	first := `{"episode": null, "psyche": [{"psyche_type": "preference", "attribute_key": "diet", "content": "vegetarian", "confidence": 0.9, "entities": []}], "notes": []}`
	second := `{"episode": null, "psyche": [{"psyche_type": "preference", "attribute_key": "diet", "content": "vegan now", "confidence": 0.9, "entities": []}], "notes": []}`

	chat := &stubChat{out: first}
	f := setup(t, chat, &stubEmbedder{})
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, "u1", "I'm vegetarian", models.SessionMeta{})
	require.NoError(t, err)

	chat.out = second
	_, err = f.svc.Ingest(ctx, "u1", "I've gone vegan", models.SessionMeta{})
	require.NoError(t, err)

	current, err := f.memories.CurrentPsycheForKey(ctx, "u1", "diet")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "vegan now", current.Content)

	active, err := f.memories.ListActive(ctx, "u1", models.TypePsyche)
	require.NoError(t, err)
	assert.Len(t, active, 1, "one current belief per attribute key")
}

func TestEntityResolutionAcrossSessions(t *testing.T) {
	mk := func(entity string) string {
		return fmt.Sprintf(`{"episode": {"title": "t", "content": "worked on %s", "confidence": 0.8, "entities": [%q]}, "psyche": [], "notes": []}`, entity, entity)
	}

	chat := &stubChat{out: mk("Project Alpha")}
	f := setup(t, chat, &stubEmbedder{})
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, "u1", "alpha work", models.SessionMeta{})
	require.NoError(t, err)

	// Same entity with different casing and punctuation resolves to the
	// existing canonical node instead of creating a duplicate.
	chat.out = mk("project alpha!")
	_, err = f.svc.Ingest(ctx, "u1", "more alpha work", models.SessionMeta{})
	require.NoError(t, err)

	ents, err := f.entities.All(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, ents, 1)
}

func TestPrivateOnlyInputRejected(t *testing.T) {
	f := setup(t, &stubChat{out: fullExtraction}, &stubEmbedder{})

	_, err := f.svc.Ingest(context.Background(), "u1", "<private>do not store this</private>", models.SessionMeta{})
	require.Error(t, err)

	notes, err := f.memories.ListNotes(context.Background(), "u1", "all")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestIdentityFactsMergeIntoCard(t *testing.T) {
	out := `{"episode": null, "psyche": [
		{"psyche_type": "trait", "attribute_key": "name", "content": "Riley", "confidence": 0.95, "entities": []},
		{"psyche_type": "value", "attribute_key": "honesty_value", "content": "values honesty", "confidence": 0.9, "entities": []}
	], "notes": []}`
	f := setup(t, &stubChat{out: out}, &stubEmbedder{})
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, "u1", "my name is Riley and I value honesty", models.SessionMeta{})
	require.NoError(t, err)

	card, err := f.cards.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.Equal(t, "Riley", card.Name)
}
