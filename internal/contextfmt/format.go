// Package contextfmt renders a ranked candidate set into the structured text
// block handed to an LLM consumer. The layout adapts to the query: identity
// questions lead with the user card, temporal questions become a timeline,
// task questions surface actionable notes first.
package contextfmt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/retrieval"
)

// ContextView selects the ordering strategy for one rendered context.
type ContextView string

const (
	ViewProfile           ContextView = "PROFILE"
	ViewTimeline          ContextView = "TIMELINE"
	ViewTasks             ContextView = "TASKS"
	ViewGraphNeighborhood ContextView = "GRAPH_NEIGHBORHOOD"
)

const (
	// itemCharBudget caps one memory's rendered content.
	itemCharBudget = 400
	// totalCharBudget caps the whole block; rendering stops once exceeded,
	// identity and task sections are emitted first so they always fit.
	totalCharBudget = 12000
)

var identityPhrases = []string{
	"who am i", "about me", "my name", "what do i do", "my role",
	"my job", "what do i value", "what matters to me", "describe me",
}

var taskPhrases = []string{
	"task", "todo", "to-do", "to do", "remind", "reminder",
	"need to do", "my goals", "what should i",
}

// Classify picks the view for a query given its expansion and candidate set.
func Classify(query string, expansion models.QueryExpansion, items []*models.Memory, staticIDs map[string]bool) ContextView {
	lower := strings.ToLower(query)

	for _, p := range identityPhrases {
		if strings.Contains(lower, p) {
			return ViewProfile
		}
	}
	if expansion.DateRange != nil {
		return ViewTimeline
	}
	if mentionsTasks(lower) && notesDominate(items, staticIDs) {
		return ViewTasks
	}
	if len(expansion.Entities) > 0 {
		return ViewGraphNeighborhood
	}
	return ViewProfile
}

func mentionsTasks(lowerQuery string) bool {
	for _, p := range taskPhrases {
		if strings.Contains(lowerQuery, p) {
			return true
		}
	}
	return false
}

// notesDominate reports whether notes are the majority of the static items.
func notesDominate(items []*models.Memory, staticIDs map[string]bool) bool {
	notes, total := 0, 0
	for _, m := range items {
		if !staticIDs[m.ID] {
			continue
		}
		total++
		if m.Type == models.TypeNote {
			notes++
		}
	}
	return total > 0 && notes*2 > total
}

// Format renders rc for the query. It returns the text block and the view
// that shaped it.
func Format(query string, rc *retrieval.RankedContext) (string, ContextView) {
	view := Classify(query, rc.Expansion, rc.Items, rc.StaticIDs)

	var b strings.Builder
	fmt.Fprintf(&b, "<memory_context view=%q>\n", view)

	switch view {
	case ViewTimeline:
		renderTimeline(&b, rc)
	case ViewTasks:
		renderTasks(&b, rc)
	case ViewGraphNeighborhood:
		renderNeighborhood(&b, rc)
	default:
		renderProfile(&b, rc)
	}

	b.WriteString("</memory_context>")
	return b.String(), view
}

// renderProfile puts the identity anchor first and narrative last. Primacy
// for who the user is, recency position for what just happened.
func renderProfile(b *strings.Builder, rc *retrieval.RankedContext) {
	writeCard(b, rc.Card)
	writeSection(b, "psyche", filterType(rc.Items, models.TypePsyche))
	writeSection(b, "notes", filterType(rc.Items, models.TypeNote))
	writeSection(b, "episodes", filterType(rc.Items, models.TypeEpisode))
}

// renderTimeline emits episodes only, oldest first, ignoring score order.
func renderTimeline(b *strings.Builder, rc *retrieval.RankedContext) {
	episodes := filterType(rc.Items, models.TypeEpisode)
	sort.SliceStable(episodes, func(i, j int) bool {
		return episodes[i].CreatedAt < episodes[j].CreatedAt
	})
	writeSection(b, "timeline", episodes)
}

// renderTasks leads with active notes (status, then rank order), then the
// rest in rank order.
func renderTasks(b *strings.Builder, rc *retrieval.RankedContext) {
	notes := filterType(rc.Items, models.TypeNote)
	sort.SliceStable(notes, func(i, j int) bool {
		return statusRank(notes[i].Status) < statusRank(notes[j].Status)
	})
	writeSection(b, "tasks", notes)

	var rest []*models.Memory
	for _, m := range rc.Items {
		if m.Type != models.TypeNote {
			rest = append(rest, m)
		}
	}
	writeCard(b, rc.Card)
	writeSection(b, "related", rest)
}

// renderNeighborhood groups entity-linked memories under the entity they
// matched, then the remainder in rank order.
func renderNeighborhood(b *strings.Builder, rc *retrieval.RankedContext) {
	matched := make(map[string]bool)
	for _, entity := range rc.Expansion.Entities {
		needle := strings.ToLower(entity)
		var group []*models.Memory
		for _, m := range rc.Items {
			if strings.Contains(strings.ToLower(m.Title+" "+m.Content), needle) {
				group = append(group, m)
				matched[m.ID] = true
			}
		}
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(b, "  <entity name=%q>\n", entity)
		for _, m := range group {
			writeMemory(b, m, "    ")
		}
		b.WriteString("  </entity>\n")
	}

	var rest []*models.Memory
	for _, m := range rc.Items {
		if !matched[m.ID] {
			rest = append(rest, m)
		}
	}
	writeCard(b, rc.Card)
	writeSection(b, "related", rest)
}

func statusRank(s models.NoteStatus) int {
	switch s {
	case models.StatusActive:
		return 0
	case models.StatusCompleted:
		return 1
	default:
		return 2
	}
}

func filterType(items []*models.Memory, t models.MemoryType) []*models.Memory {
	var out []*models.Memory
	for _, m := range items {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func writeCard(b *strings.Builder, card *models.UserCard) {
	if card == nil {
		return
	}
	b.WriteString("  <user_card>\n")
	if card.Name != "" {
		fmt.Fprintf(b, "    <name>%s</name>\n", escape(card.Name))
	}
	writeCardList(b, "roles", card.Roles)
	writeCardList(b, "core_values", card.CoreValues)
	writeCardList(b, "current_focus", card.CurrentFocus)
	b.WriteString("  </user_card>\n")
}

func writeCardList(b *strings.Builder, tag string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(b, "    <%s>%s</%s>\n", tag, escape(strings.Join(values, ", ")), tag)
}

func writeSection(b *strings.Builder, tag string, items []*models.Memory) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "  <%s>\n", tag)
	for _, m := range items {
		if b.Len() > totalCharBudget {
			break
		}
		writeMemory(b, m, "    ")
	}
	fmt.Fprintf(b, "  </%s>\n", tag)
}

func writeMemory(b *strings.Builder, m *models.Memory, indent string) {
	date := time.Unix(m.CreatedAt, 0).UTC().Format("2006-01-02")
	switch m.Type {
	case models.TypeNote:
		fmt.Fprintf(b, "%s<note type=%q status=%q date=%q>%s</note>\n",
			indent, m.NoteType, m.Status, date, escape(truncate(m.Content, itemCharBudget)))
	case models.TypePsyche:
		fmt.Fprintf(b, "%s<trait key=%q>%s</trait>\n",
			indent, m.AttributeKey, escape(truncate(m.Content, itemCharBudget)))
	default:
		title := m.Title
		if title == "" {
			title = "episode"
		}
		fmt.Fprintf(b, "%s<episode date=%q title=%q>%s</episode>\n",
			indent, date, escape(title), escape(truncate(m.Content, itemCharBudget)))
	}
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string { return escaper.Replace(s) }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
