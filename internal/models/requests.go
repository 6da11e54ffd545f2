package models

// SessionMeta describes the interaction a piece of raw text came from.
type SessionMeta struct {
	SessionID  string `json:"sessionId"`
	Source     string `json:"source,omitempty"`
	OccurredAt int64  `json:"occurredAt,omitempty"`
}

// IngestRequest is the payload for POST /users/{userID}/ingest.
type IngestRequest struct {
	Text string      `json:"text"`
	Meta SessionMeta `json:"meta"`
}

// IngestResult reports what one ingest call produced, split by type so a
// caller can see hot-path notes separately from cold-path memories.
type IngestResult struct {
	Episodes []*Memory `json:"episodes"`
	Psyche   []*Memory `json:"psyche"`
	Notes    []*Memory `json:"notes"`
}

// ContextRequest is the payload for POST /users/{userID}/context.
type ContextRequest struct {
	Query         string `json:"query"`
	TopK          int    `json:"topK,omitempty"`
	HopDepth      int    `json:"hopDepth,omitempty"`
	IncludeStatic *bool  `json:"includeStatic,omitempty"`
	MaxItems      int    `json:"maxItems,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// ContextResponse is returned from POST /users/{userID}/context.
type ContextResponse struct {
	Context string      `json:"context"`
	View    string      `json:"view"`
	Items   []*Memory   `json:"items"`
	Meta    ContextMeta `json:"meta"`
}

type ContextMeta struct {
	StaticCount int   `json:"staticCount"`
	SeedCount   int   `json:"seedCount"`
	CrawlCount  int   `json:"crawlCount"`
	TookMs      int64 `json:"tookMs"`
	// VectorDegraded marks a context served without vector recall because the
	// embedding provider was unavailable, as opposed to no similar memories.
	VectorDegraded bool `json:"vectorDegraded,omitempty"`
}

// UpdateStatusRequest is the payload for PATCH /notes/{id}/status.
type UpdateStatusRequest struct {
	Status NoteStatus `json:"status"`
}
