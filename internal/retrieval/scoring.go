package retrieval

import (
	"sort"
	"strings"
	"time"

	"github.com/persona-labs/persona/internal/models"
)

const (
	entityMatchBonus = 0.2
	recencyBonusNear = 0.3
	recencyBonusMid  = 0.1
	recencyNear      = 7 * 24 * time.Hour
	recencyMid       = 30 * 24 * time.Hour
)

// linkScore ranks a non-static candidate: base importance, a bonus per
// expansion entity mentioned in the content, and a freshness bonus. Only
// episodes get the freshness bonus; standing facts and tasks do not go stale
// the way narrative does.
func linkScore(m *models.Memory, entities []string, now time.Time) float64 {
	score := m.Importance + entityMatchBonus*float64(entityMatches(m, entities))

	if m.Type == models.TypeEpisode {
		age := now.Sub(time.Unix(m.CreatedAt, 0))
		switch {
		case age < recencyNear:
			score += recencyBonusNear
		case age < recencyMid:
			score += recencyBonusMid
		}
	}
	return score
}

// entityMatches counts how many of the expansion's entities appear in the
// candidate's text, case-insensitive.
func entityMatches(m *models.Memory, entities []string) int {
	if len(entities) == 0 {
		return 0
	}
	haystack := strings.ToLower(m.Title + " " + m.Content)
	n := 0
	for _, e := range entities {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && strings.Contains(haystack, e) {
			n++
		}
	}
	return n
}

// rank sorts candidates by score descending, breaking ties by created_at
// descending, then truncates to maxItems. Static members are exempt from
// truncation; the cut falls on scored candidates only.
func rank(candidates []*models.Memory, staticIDs map[string]bool, entities []string, now time.Time, maxItems int) []*models.Memory {
	scores := make(map[string]float64, len(candidates))
	for _, m := range candidates {
		if staticIDs[m.ID] {
			continue
		}
		scores[m.ID] = linkScore(m, entities, now)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		// Static members sort by importance among themselves, ahead of any
		// scored candidate.
		aStatic, bStatic := staticIDs[a.ID], staticIDs[b.ID]
		if aStatic != bStatic {
			return aStatic
		}
		var as, bs float64
		if aStatic {
			as, bs = a.Importance, b.Importance
		} else {
			as, bs = scores[a.ID], scores[b.ID]
		}
		if as != bs {
			return as > bs
		}
		return a.CreatedAt > b.CreatedAt
	})

	if maxItems <= 0 || len(candidates) <= maxItems {
		return candidates
	}

	// Static members form a prefix after the sort and always survive the
	// budget, even when the budget is smaller than the static set.
	staticCount := 0
	for _, m := range candidates {
		if staticIDs[m.ID] {
			staticCount++
		}
	}
	if staticCount > maxItems {
		return candidates[:staticCount]
	}
	return candidates[:maxItems]
}
