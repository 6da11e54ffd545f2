package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/store"
)

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMemoryRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	memories := store.NewMemoryStore(db)
	ctx := context.Background()

	m := &models.Memory{
		UserID:          "u1",
		Type:            models.TypeNote,
		Title:           "Call the dentist",
		Content:         "Call the dentist about the crown on Monday",
		Embedding:       []float32{0.1, 0.2, 0.3},
		Importance:      0.9,
		NoteType:        models.NoteReminder,
		SessionID:       "s1",
		ExtractionModel: "qwen2.5:7b",
		SourceRef:       "remind me to call the dentist",
	}
	id, err := memories.Create(ctx, m)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := memories.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, m.UserID, got.UserID)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.Title, got.Title)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, m.Embedding, got.Embedding)
	assert.Equal(t, m.Importance, got.Importance)
	assert.Equal(t, m.NoteType, got.NoteType)
	assert.Equal(t, models.StatusActive, got.Status, "notes default to active")
	assert.Equal(t, m.SessionID, got.SessionID)
	assert.Equal(t, m.ExtractionModel, got.ExtractionModel)
	assert.Equal(t, m.SourceRef, got.SourceRef)
	assert.NotZero(t, got.CreatedAt)
}

func TestGetMissingReturnsNil(t *testing.T) {
	db := setupTestDB(t)
	memories := store.NewMemoryStore(db)

	got, err := memories.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEpisodeChainAppend(t *testing.T) {
	db := setupTestDB(t)
	memories := store.NewMemoryStore(db)
	links := store.NewLinkStore(db)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := memories.Create(ctx, &models.Memory{
			UserID:  "u1",
			Type:    models.TypeEpisode,
			Title:   fmt.Sprintf("day %d", i),
			Content: fmt.Sprintf("episode %d", i),
			// distinct timestamps keep the chain order observable
			CreatedAt: int64(1000 + i),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	tail, err := memories.ChainTail(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, tail)
	assert.Equal(t, ids[2], tail.ID)

	// Middle node carries both directions: PRECEDES to its successor,
	// FOLLOWS back to its predecessor.
	edges, err := links.For(ctx, ids[1])
	require.NoError(t, err)

	var precedesOut, followsOut int
	for _, l := range edges {
		if l.SourceID == ids[1] && l.Relation == models.RelPrecedes {
			precedesOut++
			assert.Equal(t, ids[2], l.TargetID)
		}
		if l.SourceID == ids[1] && l.Relation == models.RelFollows {
			followsOut++
			assert.Equal(t, ids[0], l.TargetID)
		}
	}
	assert.Equal(t, 1, precedesOut)
	assert.Equal(t, 1, followsOut)
}

func TestConcurrentEpisodeAppendsKeepSingleChain(t *testing.T) {
	db := setupTestDB(t)
	memories := store.NewMemoryStore(db)
	links := store.NewLinkStore(db)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = memories.Create(ctx, &models.Memory{
				UserID:  "u1",
				Type:    models.TypeEpisode,
				Content: fmt.Sprintf("concurrent episode %d", i),
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	episodes, err := memories.ListActive(ctx, "u1", models.TypeEpisode)
	require.NoError(t, err)
	require.Len(t, episodes, n)

	// A single non-branching chain: every node has at most one outgoing
	// PRECEDES and at most one incoming PRECEDES, and exactly n-1 chain
	// edges exist in each direction.
	outgoing := map[string]int{}
	incoming := map[string]int{}
	totalPrecedes := 0
	for _, ep := range episodes {
		edges, err := links.For(ctx, ep.ID)
		require.NoError(t, err)
		for _, l := range edges {
			if l.Relation != models.RelPrecedes {
				continue
			}
			if l.SourceID == ep.ID {
				outgoing[ep.ID]++
				totalPrecedes++
			}
			if l.TargetID == ep.ID {
				incoming[ep.ID]++
			}
		}
	}
	for id, c := range outgoing {
		assert.LessOrEqual(t, c, 1, "node %s branches forward", id)
	}
	for id, c := range incoming {
		assert.LessOrEqual(t, c, 1, "node %s has multiple predecessors", id)
	}
	assert.Equal(t, n-1, totalPrecedes)

	tail, err := memories.ChainTail(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, tail)
	assert.Equal(t, 0, outgoing[tail.ID], "tail must not precede anything")
}

func TestPsycheSupersedeKeepsOneCurrent(t *testing.T) {
	db := setupTestDB(t)
	memories := store.NewMemoryStore(db)
	ctx := context.Background()

	first, err := memories.Create(ctx, &models.Memory{
		UserID:       "u1",
		Type:         models.TypePsyche,
		Content:      "prefers working from home",
		AttributeKey: "work_location_preference",
		CreatedAt:    1000,
	})
	require.NoError(t, err)

	second, err := memories.CreatePsycheSuperseding(ctx, &models.Memory{
		UserID:       "u1",
		Type:         models.TypePsyche,
		Content:      "prefers the office three days a week now",
		AttributeKey: "work_location_preference",
		CreatedAt:    2000,
	}, first)
	require.NoError(t, err)

	current, err := memories.CurrentPsycheForKey(ctx, "u1", "work_location_preference")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, second, current.ID)

	active, err := memories.ListActive(ctx, "u1", models.TypePsyche)
	require.NoError(t, err)
	require.Len(t, active, 1, "superseded statement must drop out of the active view")
	assert.Equal(t, second, active[0].ID)

	// History stays queryable.
	old, err := memories.Get(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, old)
}

func TestNoteStatusLifecycle(t *testing.T) {
	db := setupTestDB(t)
	memories := store.NewMemoryStore(db)
	ctx := context.Background()

	id, err := memories.Create(ctx, &models.Memory{
		UserID:   "u1",
		Type:     models.TypeNote,
		Content:  "buy oat milk",
		NoteType: models.NoteTask,
	})
	require.NoError(t, err)

	require.NoError(t, memories.UpdateStatus(ctx, id, models.StatusCompleted))

	active, err := memories.ListNotes(ctx, "u1", "")
	require.NoError(t, err)
	assert.Empty(t, active)

	completed, err := memories.ListNotes(ctx, "u1", string(models.StatusCompleted))
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, models.StatusCompleted, completed[0].Status)

	all, err := memories.ListNotes(ctx, "u1", "all")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.Error(t, memories.UpdateStatus(ctx, "missing", models.StatusDismissed))
}

func TestEpisodesInRange(t *testing.T) {
	db := setupTestDB(t)
	memories := store.NewMemoryStore(db)
	ctx := context.Background()

	for i, ts := range []int64{300, 100, 200} {
		_, err := memories.Create(ctx, &models.Memory{
			UserID:    "u1",
			Type:      models.TypeEpisode,
			Content:   fmt.Sprintf("e%d", i),
			CreatedAt: ts,
		})
		require.NoError(t, err)
	}

	got, err := memories.EpisodesInRange(ctx, "u1", 100, 250)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].CreatedAt)
	assert.Equal(t, int64(200), got[1].CreatedAt)
}
