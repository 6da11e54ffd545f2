package contextfmt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/retrieval"
)

func TestClassify(t *testing.T) {
	note := &models.Memory{ID: "n", Type: models.TypeNote}
	statics := map[string]bool{"n": true}

	cases := []struct {
		name      string
		query     string
		expansion models.QueryExpansion
		items     []*models.Memory
		want      ContextView
	}{
		{"identity phrasing wins", "who am I really?", models.QueryExpansion{Entities: []string{"Dana"}}, nil, ViewProfile},
		{"date range", "what happened yesterday", models.QueryExpansion{DateRange: &models.DateRange{Start: 1, End: 2}}, nil, ViewTimeline},
		{"tasks", "what tasks are open", models.QueryExpansion{}, []*models.Memory{note}, ViewTasks},
		{"entities", "tell me about Project Alpha", models.QueryExpansion{Entities: []string{"Project Alpha"}}, nil, ViewGraphNeighborhood},
		{"default", "hmm", models.QueryExpansion{}, nil, ViewProfile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.query, tc.expansion, tc.items, statics)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTimelineIsChronological(t *testing.T) {
	// Input arrives score-sorted, newest first; the timeline view must
	// re-sort oldest first.
	rc := &retrieval.RankedContext{
		Items: []*models.Memory{
			{ID: "c", Type: models.TypeEpisode, Title: "third", Content: "c", CreatedAt: 3000},
			{ID: "a", Type: models.TypeEpisode, Title: "first", Content: "a", CreatedAt: 1000},
			{ID: "b", Type: models.TypeEpisode, Title: "second", Content: "b", CreatedAt: 2000},
			{ID: "n", Type: models.TypeNote, Content: "not an episode", CreatedAt: 500},
		},
		StaticIDs: map[string]bool{},
		Expansion: models.QueryExpansion{DateRange: &models.DateRange{Start: 0, End: 4000}},
	}

	text, view := Format("what happened last week", rc)
	assert.Equal(t, ViewTimeline, view)

	first := strings.Index(text, `title="first"`)
	second := strings.Index(text, `title="second"`)
	third := strings.Index(text, `title="third"`)
	require.True(t, first >= 0 && second >= 0 && third >= 0)
	assert.Less(t, first, second)
	assert.Less(t, second, third)
	assert.NotContains(t, text, "not an episode", "timeline renders episodes only")
}

func TestProfilePutsCardFirstEpisodesLast(t *testing.T) {
	rc := &retrieval.RankedContext{
		Items: []*models.Memory{
			{ID: "e", Type: models.TypeEpisode, Title: "standup", Content: "daily standup", CreatedAt: 100},
			{ID: "p", Type: models.TypePsyche, AttributeKey: "diet", Content: "vegetarian", CreatedAt: 100},
			{ID: "n", Type: models.TypeNote, NoteType: models.NoteTask, Status: models.StatusActive, Content: "book flights", CreatedAt: 100},
		},
		StaticIDs: map[string]bool{"p": true, "n": true},
		Card:      &models.UserCard{UserID: "u1", Name: "Riley", Roles: []string{"engineer"}},
	}

	text, view := Format("who am I", rc)
	assert.Equal(t, ViewProfile, view)

	card := strings.Index(text, "<user_card>")
	trait := strings.Index(text, "vegetarian")
	noteIdx := strings.Index(text, "book flights")
	episode := strings.Index(text, "daily standup")
	require.True(t, card >= 0 && trait >= 0 && noteIdx >= 0 && episode >= 0)
	assert.Less(t, card, trait)
	assert.Less(t, trait, noteIdx)
	assert.Less(t, noteIdx, episode)
}

func TestNeighborhoodGroupsByEntity(t *testing.T) {
	rc := &retrieval.RankedContext{
		Items: []*models.Memory{
			{ID: "a", Type: models.TypeEpisode, Title: "alpha sync", Content: "Project Alpha kickoff with Dana", CreatedAt: 100},
			{ID: "b", Type: models.TypeEpisode, Title: "misc", Content: "unrelated errand", CreatedAt: 100},
		},
		StaticIDs: map[string]bool{},
		Expansion: models.QueryExpansion{Entities: []string{"Project Alpha"}},
	}

	text, view := Format("status of Project Alpha", rc)
	assert.Equal(t, ViewGraphNeighborhood, view)
	assert.Contains(t, text, `<entity name="Project Alpha">`)

	grouped := strings.Index(text, "kickoff with Dana")
	rest := strings.Index(text, "unrelated errand")
	require.True(t, grouped >= 0 && rest >= 0)
	assert.Less(t, grouped, rest, "entity-linked memories come first")
}

func TestEscaping(t *testing.T) {
	rc := &retrieval.RankedContext{
		Items: []*models.Memory{
			{ID: "n", Type: models.TypeNote, NoteType: models.NoteFact, Status: models.StatusActive,
				Content: `uses <script> & "quotes"`, CreatedAt: 100},
		},
		StaticIDs: map[string]bool{"n": true},
	}

	text, _ := Format("anything at all", rc)
	assert.Contains(t, text, "uses &lt;script&gt; &amp; &quot;quotes&quot;")
	assert.NotContains(t, text, "<script>")
}

func TestItemTruncation(t *testing.T) {
	long := strings.Repeat("x", 1000)
	rc := &retrieval.RankedContext{
		Items: []*models.Memory{
			{ID: "n", Type: models.TypeNote, NoteType: models.NoteFact, Status: models.StatusActive,
				Content: long, CreatedAt: 100},
		},
		StaticIDs: map[string]bool{"n": true},
	}

	text, _ := Format("anything", rc)
	assert.NotContains(t, text, long, "item content is capped")
	assert.Contains(t, text, strings.Repeat("x", itemCharBudget)+"…")
}
