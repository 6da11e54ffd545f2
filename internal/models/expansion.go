package models

// DateRange is an inclusive window in unix seconds, already resolved to the
// caller's timezone.
type DateRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Contains reports whether ts falls inside the range.
func (r DateRange) Contains(ts int64) bool {
	return ts >= r.Start && ts <= r.End
}

// QueryExpansion is the structured form of a natural-language query: the
// retrieval hints the expander extracted from it. It is ephemeral, produced
// per query and never persisted.
type QueryExpansion struct {
	OriginalQuery string     `json:"originalQuery"`
	DateRange     *DateRange `json:"dateRange,omitempty"`
	Entities      []string   `json:"entities"`
	// Threads are topic threads suggested by the LLM to guide graph traversal.
	Threads       []string `json:"threads,omitempty"`
	SemanticQuery string   `json:"semanticQuery"`
}
