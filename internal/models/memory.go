package models

// MemoryType is the discriminator for the memory union. Every memory is
// exactly one of episode, psyche, or note; store and retrieval code switches
// exhaustively on it.
type MemoryType string

const (
	TypeEpisode MemoryType = "episode"
	TypePsyche  MemoryType = "psyche"
	TypeNote    MemoryType = "note"
)

var ValidMemoryTypes = map[MemoryType]bool{
	TypeEpisode: true,
	TypePsyche:  true,
	TypeNote:    true,
}

func (t MemoryType) IsValid() bool {
	return ValidMemoryTypes[t]
}

// NoteType classifies actionable items.
type NoteType string

const (
	NoteGoal     NoteType = "goal"
	NoteTask     NoteType = "task"
	NoteFact     NoteType = "fact"
	NoteContact  NoteType = "contact"
	NoteReminder NoteType = "reminder"
	NoteList     NoteType = "list"
)

var ValidNoteTypes = map[NoteType]bool{
	NoteGoal:     true,
	NoteTask:     true,
	NoteFact:     true,
	NoteContact:  true,
	NoteReminder: true,
	NoteList:     true,
}

func (t NoteType) IsValid() bool {
	return ValidNoteTypes[t]
}

// NoteStatus is the lifecycle state of a note. Notes are retired by status
// change, never deleted.
type NoteStatus string

const (
	StatusActive    NoteStatus = "active"
	StatusCompleted NoteStatus = "completed"
	StatusDismissed NoteStatus = "dismissed"
)

func (s NoteStatus) IsValid() bool {
	return s == StatusActive || s == StatusCompleted || s == StatusDismissed
}

// Memory is the unified memory unit. Type determines which of the optional
// fields are meaningful:
//   - episode: Title, SessionID; chained per user via PRECEDES/FOLLOWS edges
//   - psyche: AttributeKey, PsycheType; history kept via SUPERSEDES edges
//   - note: NoteType, Status, SourceRef; persisted on the hot path
type Memory struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Type      MemoryType `json:"type"`
	Title     string     `json:"title,omitempty"`
	Content   string     `json:"content"`
	Embedding []float32  `json:"-"`
	// Importance in [0,1], assigned at extraction time.
	Importance float64 `json:"importance"`
	CreatedAt  int64   `json:"createdAt"`

	// Psyche fields
	AttributeKey string `json:"attributeKey,omitempty"`
	PsycheType   string `json:"psycheType,omitempty"`

	// Note fields
	NoteType NoteType   `json:"noteType,omitempty"`
	Status   NoteStatus `json:"status,omitempty"`

	// Provenance
	SessionID       string `json:"sessionId,omitempty"`
	ExtractionModel string `json:"extractionModel,omitempty"`
	SourceRef       string `json:"sourceRef,omitempty"`
}

// Relation is the type of a directed edge between two memories, or between a
// memory and a canonical entity.
type Relation string

const (
	// RelPrecedes runs from the prior episode to the one after it; an episode
	// with no outgoing PRECEDES edge is the tail of the user's chain.
	RelPrecedes Relation = "PRECEDES"
	// RelFollows is the paired reverse edge, new episode back to the prior.
	RelFollows Relation = "FOLLOWS"
	// RelSupersedes runs from a retired psyche to the statement that replaced
	// it. The current belief for an attribute key is the one psyche node with
	// no outgoing SUPERSEDES edge.
	RelSupersedes Relation = "SUPERSEDES"
	// RelRefersTo resolves an entity mention to its canonical entity node.
	RelRefersTo Relation = "REFERS_TO"
	// RelRelatesTo is a generic semantic association, e.g. an episode to the
	// notes captured in the same session.
	RelRelatesTo Relation = "RELATES_TO"
)

// Link is a typed directed edge in the memory graph.
type Link struct {
	ID        int64    `json:"id"`
	UserID    string   `json:"userId"`
	SourceID  string   `json:"sourceId"`
	TargetID  string   `json:"targetId"`
	Relation  Relation `json:"relation"`
	CreatedAt int64    `json:"createdAt"`
}

// Entity is a canonical named thing (person, place, project) that memories
// point at via REFERS_TO edges. Repeated mentions across sessions resolve to
// one entity row instead of duplicating nodes.
type Entity struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Normalized string    `json:"normalized"`
	Embedding  []float32 `json:"-"`
	CreatedAt  int64     `json:"createdAt"`
}

// UserCard is the singleton identity anchor per user. It is merged in place
// when new high-confidence identity facts arrive, not chained.
type UserCard struct {
	UserID       string   `json:"userId"`
	Name         string   `json:"name,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	CoreValues   []string `json:"coreValues,omitempty"`
	CurrentFocus []string `json:"currentFocus,omitempty"`
	UpdatedAt    int64    `json:"updatedAt"`
}

// CardPatch is a partial UserCard update produced by the linker. Empty fields
// leave the card untouched; list fields are unioned in order.
type CardPatch struct {
	Name         string
	Roles        []string
	CoreValues   []string
	CurrentFocus []string
}
