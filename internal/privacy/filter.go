// Package privacy strips content the user marked as off-limits before any of
// it reaches the extraction provider or the graph.
package privacy

import (
	"regexp"
	"strings"
)

// privateTagRegex matches <private>...</private> blocks (non-greedy, dotall).
var privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

// StripPrivateTags removes all <private>...</private> blocks from text,
// returning the cleaned remainder.
func StripPrivateTags(text string) string {
	return strings.TrimSpace(privateTagRegex.ReplaceAllString(text, ""))
}

// HasOnlyPrivateContent reports whether text is entirely <private> blocks and
// whitespace, meaning nothing may be ingested from it.
func HasOnlyPrivateContent(text string) bool {
	return StripPrivateTags(text) == ""
}
