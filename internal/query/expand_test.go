package query

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.DiscardHandler)

func fixedExpander(t *testing.T, chat ChatClient) *Expander {
	t.Helper()
	e := NewExpander(chat, testLogger)
	// 2026-03-10 15:30 in New York
	e.now = func() time.Time {
		return time.Date(2026, 3, 10, 15, 30, 0, 0, mustLoc(t, "America/New_York"))
	}
	return e
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestFallbackYesterday(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	e := fixedExpander(t, nil)

	exp := e.Expand(context.Background(), "What did I eat yesterday?", loc)

	require.NotNil(t, exp.DateRange)
	start := time.Unix(exp.DateRange.Start, 0).In(loc)
	end := time.Unix(exp.DateRange.End, 0).In(loc)
	assert.Equal(t, "2026-03-09 00:00:00", start.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "2026-03-09 23:59:59", end.Format("2006-01-02 15:04:05"))

	assert.NotContains(t, exp.SemanticQuery, "yesterday")
	assert.Equal(t, "What did I eat ?", exp.SemanticQuery)
	assert.Empty(t, exp.Entities, "fallback never extracts entities")
	assert.Equal(t, "What did I eat yesterday?", exp.OriginalQuery)
}

func TestFallbackToday(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	e := fixedExpander(t, nil)

	exp := e.Expand(context.Background(), "what happened TODAY", loc)

	require.NotNil(t, exp.DateRange)
	start := time.Unix(exp.DateRange.Start, 0).In(loc)
	end := time.Unix(exp.DateRange.End, 0).In(loc)
	assert.Equal(t, "2026-03-10 00:00:00", start.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "2026-03-10 23:59:59", end.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "what happened", exp.SemanticQuery)
}

func TestFallbackRollingWindows(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	e := fixedExpander(t, nil)
	now := e.now()

	cases := []struct {
		query string
		days  int
	}{
		{"what did I do last week", 7},
		{"progress over the past week", 7},
		{"summarize last month", 30},
		{"past month highlights", 30},
	}
	for _, tc := range cases {
		exp := e.Expand(context.Background(), tc.query, loc)
		require.NotNil(t, exp.DateRange, tc.query)
		assert.Equal(t, now.AddDate(0, 0, -tc.days).Unix(), exp.DateRange.Start, tc.query)
		assert.Equal(t, now.Unix(), exp.DateRange.End, tc.query)
	}
}

func TestFallbackPrecedence(t *testing.T) {
	e := fixedExpander(t, nil)
	// "yesterday" outranks "last week" regardless of position.
	exp := e.Expand(context.Background(), "compare last week against yesterday", time.UTC)
	require.NotNil(t, exp.DateRange)
	assert.Equal(t, int64(86400-1), exp.DateRange.End-exp.DateRange.Start)
	assert.NotContains(t, exp.SemanticQuery, "yesterday")
	assert.Contains(t, exp.SemanticQuery, "last week")
}

func TestFallbackNoTemporalPhrase(t *testing.T) {
	e := fixedExpander(t, nil)
	exp := e.Expand(context.Background(), "tell me about Project Alpha", time.UTC)
	assert.Nil(t, exp.DateRange)
	assert.Equal(t, "tell me about Project Alpha", exp.SemanticQuery)
}

type stubChat struct {
	out string
	err error
}

func (s *stubChat) GenerateJSON(context.Context, string) (string, error) {
	return s.out, s.err
}

func TestLLMPath(t *testing.T) {
	chat := &stubChat{out: `{
		"date_range": {"start": "2026-03-01", "end": "2026-03-07"},
		"entities": ["Project Alpha", "Dana"],
		"threads": ["launch prep"],
		"semantic_query": "work done on Project Alpha with Dana"
	}`}
	e := fixedExpander(t, chat)

	exp := e.Expand(context.Background(), "what did Dana and I ship on Alpha in early March?", time.UTC)

	require.NotNil(t, exp.DateRange)
	assert.Equal(t, "2026-03-01", time.Unix(exp.DateRange.Start, 0).UTC().Format("2006-01-02"))
	// end date is inclusive
	assert.Equal(t, "2026-03-07 23:59:59", time.Unix(exp.DateRange.End, 0).UTC().Format("2006-01-02 15:04:05"))
	assert.Equal(t, []string{"Project Alpha", "Dana"}, exp.Entities)
	assert.Equal(t, []string{"launch prep"}, exp.Threads)
	assert.Equal(t, "work done on Project Alpha with Dana", exp.SemanticQuery)
}

func TestLLMFailureFallsBack(t *testing.T) {
	failures := []*stubChat{
		{err: fmt.Errorf("provider down")},
		{out: "not even json"},
		{out: `{"entities": [], "semantic_query": ""}`},
	}
	for _, chat := range failures {
		e := fixedExpander(t, chat)
		exp := e.Expand(context.Background(), "what did I do yesterday", time.UTC)
		require.NotNil(t, exp.DateRange, "fallback must still parse the temporal phrase")
		assert.NotContains(t, exp.SemanticQuery, "yesterday")
	}
}
