// Package query turns a natural-language question into structured retrieval
// hints: a date window, entity mentions, and a cleaned semantic query.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/persona-labs/persona/internal/models"
)

// ChatClient is the generation capability used by the LLM expansion path.
type ChatClient interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Expander parses queries. The LLM path is primary; when it fails or returns
// garbage, the deterministic rule parser takes over.
type Expander struct {
	chat   ChatClient
	logger *slog.Logger
	// now is swappable for tests.
	now func() time.Time
}

func NewExpander(chat ChatClient, logger *slog.Logger) *Expander {
	return &Expander{chat: chat, logger: logger, now: time.Now}
}

const expansionPrompt = `You parse a user's memory-recall question into structured search hints.

Today's date is %s (timezone %s).

Return ONLY a JSON object with this exact shape:
{
  "date_range": {"start": "YYYY-MM-DD", "end": "YYYY-MM-DD"} or null,
  "entities": ["proper nouns, project names, people mentioned"],
  "threads": ["topic threads the question is about"],
  "semantic_query": "the question rephrased as a search phrase, temporal words removed"
}

Rules:
- date_range is null unless the question clearly scopes a time window.
- entities is [] when none are named.
- semantic_query must never be empty.

Question: %s`

type llmExpansion struct {
	DateRange *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"date_range"`
	Entities      []string `json:"entities"`
	Threads       []string `json:"threads"`
	SemanticQuery string   `json:"semantic_query"`
}

// Expand produces retrieval hints for query, resolving calendar phrases in
// the given timezone. It never fails: any LLM trouble degrades to the rule
// parser.
func (e *Expander) Expand(ctx context.Context, query string, tz *time.Location) models.QueryExpansion {
	if tz == nil {
		tz = time.UTC
	}

	if e.chat != nil {
		if exp, err := e.expandLLM(ctx, query, tz); err == nil {
			return exp
		} else {
			e.logger.Warn("llm query expansion failed, using rule fallback", "error", err)
		}
	}
	return e.expandRules(query, tz)
}

func (e *Expander) expandLLM(ctx context.Context, query string, tz *time.Location) (models.QueryExpansion, error) {
	now := e.now().In(tz)
	prompt := fmt.Sprintf(expansionPrompt, now.Format("2006-01-02"), tz.String(), query)

	raw, err := e.chat.GenerateJSON(ctx, prompt)
	if err != nil {
		return models.QueryExpansion{}, err
	}

	var parsed llmExpansion
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return models.QueryExpansion{}, fmt.Errorf("unmarshal expansion: %w", err)
	}
	if strings.TrimSpace(parsed.SemanticQuery) == "" {
		return models.QueryExpansion{}, fmt.Errorf("expansion missing semantic_query")
	}

	exp := models.QueryExpansion{
		OriginalQuery: query,
		Entities:      parsed.Entities,
		Threads:       parsed.Threads,
		SemanticQuery: parsed.SemanticQuery,
	}
	if exp.Entities == nil {
		exp.Entities = []string{}
	}
	if parsed.DateRange != nil {
		r, err := parseDayRange(parsed.DateRange.Start, parsed.DateRange.End, tz)
		if err != nil {
			return models.QueryExpansion{}, err
		}
		exp.DateRange = r
	}
	return exp, nil
}

func parseDayRange(start, end string, tz *time.Location) (*models.DateRange, error) {
	s, err := time.ParseInLocation("2006-01-02", start, tz)
	if err != nil {
		return nil, fmt.Errorf("bad date_range start %q: %w", start, err)
	}
	t, err := time.ParseInLocation("2006-01-02", end, tz)
	if err != nil {
		return nil, fmt.Errorf("bad date_range end %q: %w", end, err)
	}
	// End date is inclusive: extend to the last second of that day.
	return &models.DateRange{
		Start: s.Unix(),
		End:   t.AddDate(0, 0, 1).Add(-time.Second).Unix(),
	}, nil
}

// temporalRule maps a recognized phrase to its window. Order matters: the
// first matching phrase wins.
type temporalRule struct {
	phrases []string
	window  func(now time.Time) models.DateRange
}

var temporalRules = []temporalRule{
	{
		phrases: []string{"yesterday"},
		window: func(now time.Time) models.DateRange {
			start := startOfDay(now).AddDate(0, 0, -1)
			return models.DateRange{Start: start.Unix(), End: start.AddDate(0, 0, 1).Add(-time.Second).Unix()}
		},
	},
	{
		phrases: []string{"today"},
		window: func(now time.Time) models.DateRange {
			// The whole current calendar day, same inclusive end as the
			// other day-granular rules.
			start := startOfDay(now)
			return models.DateRange{Start: start.Unix(), End: start.AddDate(0, 0, 1).Add(-time.Second).Unix()}
		},
	},
	{
		phrases: []string{"last week", "past week"},
		window: func(now time.Time) models.DateRange {
			return models.DateRange{Start: now.AddDate(0, 0, -7).Unix(), End: now.Unix()}
		},
	},
	{
		phrases: []string{"last month", "past month"},
		window: func(now time.Time) models.DateRange {
			return models.DateRange{Start: now.AddDate(0, 0, -30).Unix(), End: now.Unix()}
		},
	},
}

var collapseSpace = regexp.MustCompile(`\s+`)

// expandRules is the deterministic fallback: phrase-table temporal parsing,
// no entity extraction.
func (e *Expander) expandRules(query string, tz *time.Location) models.QueryExpansion {
	exp := models.QueryExpansion{
		OriginalQuery: query,
		Entities:      []string{},
		SemanticQuery: query,
	}

	lower := strings.ToLower(query)
	now := e.now().In(tz)

	for _, rule := range temporalRules {
		for _, phrase := range rule.phrases {
			if !strings.Contains(lower, phrase) {
				continue
			}
			r := rule.window(now)
			exp.DateRange = &r
			exp.SemanticQuery = stripPhrase(query, phrase)
			return exp
		}
	}
	return exp
}

func stripPhrase(query, phrase string) string {
	lower := strings.ToLower(query)
	idx := strings.Index(lower, phrase)
	if idx < 0 {
		return query
	}
	out := query[:idx] + query[idx+len(phrase):]
	out = collapseSpace.ReplaceAllString(strings.TrimSpace(out), " ")
	if out == "" {
		return query
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
