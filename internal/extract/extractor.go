// Package extract turns raw text plus session metadata into typed candidate
// memories via the chat capability.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/persona-labs/persona/internal/memerr"
	"github.com/persona-labs/persona/internal/models"
)

// ChatClient is the generation capability consumed here; satisfied by
// llm.Ollama.
type ChatClient interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
	ChatModel() string
}

// Candidate is one untyped extraction result before linking. Confidence maps
// to Memory.Importance when persisted.
type Candidate struct {
	Type         models.MemoryType `json:"type"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	Confidence   float64           `json:"confidence"`
	AttributeKey string            `json:"attributeKey,omitempty"`
	PsycheType   string            `json:"psycheType,omitempty"`
	NoteType     models.NoteType   `json:"noteType,omitempty"`
	SourceRef    string            `json:"sourceRef,omitempty"`
	Entities     []string          `json:"entities,omitempty"`
}

// Output is the full extraction for one piece of input.
type Output struct {
	Episode *Candidate
	Psyche  []Candidate
	Notes   []Candidate
	Model   string
}

// Extractor calls the LLM with the extraction prompt and parses its JSON
// output into candidates.
type Extractor struct {
	chat   ChatClient
	logger *slog.Logger
}

func New(chat ChatClient, logger *slog.Logger) *Extractor {
	return &Extractor{chat: chat, logger: logger}
}

const extractionPrompt = `You are a memory extraction system for a personal knowledge assistant. Process the raw input and extract typed memories.

Extract:
1. "episode": A narrative memory of what happened. Write as natural prose, preserve emotional context. Title 2-10 words. Null if the input carries no narrative.
2. "psyche": Identity-related statements (traits, preferences, values, beliefs) if present. Each needs an attribute_key: a stable snake_case key for the attribute the statement is about (e.g. "work_location_preference", "diet"), so later statements about the same attribute can supersede it.
3. "notes": Concrete actionable items: commitments, reminders, tasks, facts, contacts, lists. Each carries source_ref: the verbatim snippet of the input it came from.

Every item gets a confidence in [0,1] and an entities list of named things mentioned (people, places, projects).

## Session
Timestamp: %s
Source: %s

## Recent context
%s

## Input
%s

Return valid JSON:
{
  "episode": {"title": "...", "content": "...", "confidence": 0.9, "entities": []} or null,
  "psyche": [{"psyche_type": "trait|preference|value|belief", "attribute_key": "...", "content": "...", "confidence": 0.8, "entities": []}],
  "notes": [{"note_type": "goal|task|fact|contact|reminder|list", "title": "...", "content": "...", "confidence": 0.9, "source_ref": "...", "entities": []}]
}`

type rawCandidate struct {
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	Confidence   float64  `json:"confidence"`
	PsycheType   string   `json:"psyche_type"`
	AttributeKey string   `json:"attribute_key"`
	NoteType     string   `json:"note_type"`
	SourceRef    string   `json:"source_ref"`
	Entities     []string `json:"entities"`
}

type rawOutput struct {
	Episode *rawCandidate  `json:"episode"`
	Psyche  []rawCandidate `json:"psyche"`
	Notes   []rawCandidate `json:"notes"`
}

// Extract runs the extraction capability over text. Any provider failure or
// malformed output fails the call with ExtractionError; this is the only
// stage allowed to fail a whole ingest.
func (e *Extractor) Extract(ctx context.Context, text string, meta models.SessionMeta, recentContext string) (*Output, error) {
	occurred := meta.OccurredAt
	if occurred == 0 {
		occurred = time.Now().Unix()
	}
	prompt := fmt.Sprintf(extractionPrompt,
		time.Unix(occurred, 0).UTC().Format("2006/01/02 (Mon) 15:04"),
		orDefault(meta.Source, "conversation"),
		orDefault(recentContext, "(none)"),
		text,
	)

	raw, err := e.chat.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, &memerr.ExtractionError{Err: err}
	}

	var parsed rawOutput
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, &memerr.ExtractionError{Err: fmt.Errorf("parse extraction output: %w", err), Output: truncate(raw, 500)}
	}

	out := &Output{Model: e.chat.ChatModel()}
	if parsed.Episode != nil && strings.TrimSpace(parsed.Episode.Content) != "" {
		out.Episode = &Candidate{
			Type:       models.TypeEpisode,
			Title:      parsed.Episode.Title,
			Content:    parsed.Episode.Content,
			Confidence: clamp(parsed.Episode.Confidence),
			Entities:   parsed.Episode.Entities,
		}
	}
	for _, p := range parsed.Psyche {
		if strings.TrimSpace(p.Content) == "" {
			continue
		}
		out.Psyche = append(out.Psyche, Candidate{
			Type:         models.TypePsyche,
			Content:      p.Content,
			Confidence:   clamp(p.Confidence),
			AttributeKey: p.AttributeKey,
			PsycheType:   orDefault(p.PsycheType, "trait"),
			Entities:     p.Entities,
		})
	}
	for _, n := range parsed.Notes {
		if strings.TrimSpace(n.Content) == "" && strings.TrimSpace(n.Title) == "" {
			continue
		}
		noteType := models.NoteType(n.NoteType)
		if !noteType.IsValid() {
			noteType = models.NoteTask
		}
		out.Notes = append(out.Notes, Candidate{
			Type:       models.TypeNote,
			Title:      n.Title,
			Content:    orDefault(n.Content, n.Title),
			Confidence: clamp(n.Confidence),
			NoteType:   noteType,
			SourceRef:  n.SourceRef,
			Entities:   n.Entities,
		})
	}

	e.logger.Debug("extraction complete",
		"episode", out.Episode != nil,
		"psyche", len(out.Psyche),
		"notes", len(out.Notes),
	)
	return out, nil
}

func clamp(v float64) float64 {
	switch {
	case v <= 0:
		return 0.5 // absent or nonsense confidence gets the neutral default
	case v > 1:
		return 1
	default:
		return v
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
