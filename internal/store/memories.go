package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/persona-labs/persona/internal/memerr"
	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/vec"
)

// memoryColumns is the canonical column list for all SELECT queries.
// Order must match scanOne/scanRows.
const memoryColumns = `id, user_id, type, title, content, importance, embedding,
	created_at, attribute_key, psyche_type, note_type, status,
	session_id, extraction_model, source_ref`

// MemoryStore owns typed CRUD over memory nodes, including the per-user
// episode temporal chain.
type MemoryStore struct {
	db *DB

	// chainMu serializes episode-chain appends per user. Two concurrent
	// episode creates for the same user must not both attach to the same tail.
	chainMu sync.Map // userID -> *sync.Mutex
}

func NewMemoryStore(db *DB) *MemoryStore {
	return &MemoryStore{db: db}
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	mu, _ := s.chainMu.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Create persists a memory node and returns its ID. Episodes are appended to
// the user's temporal chain atomically; use CreatePsycheSuperseding when a
// psyche statement replaces a prior one.
func (s *MemoryStore) Create(ctx context.Context, m *models.Memory) (string, error) {
	fill(m)
	switch m.Type {
	case models.TypeEpisode:
		return s.appendEpisode(ctx, m)
	case models.TypePsyche, models.TypeNote:
		if err := s.insert(ctx, s.db.DB, m); err != nil {
			return "", err
		}
		return m.ID, nil
	default:
		return "", fmt.Errorf("unknown memory type %q", m.Type)
	}
}

// CreatePsycheSuperseding persists a psyche memory and, in the same
// transaction, adds the SUPERSEDES edge from the prior statement to it.
func (s *MemoryStore) CreatePsycheSuperseding(ctx context.Context, m *models.Memory, priorID string) (string, error) {
	fill(m)
	if m.Type != models.TypePsyche {
		return "", fmt.Errorf("superseding create requires a psyche memory, got %q", m.Type)
	}

	prior, err := s.Get(ctx, priorID)
	if err != nil {
		return "", err
	}
	if prior == nil {
		return "", &memerr.DanglingReferenceError{SourceID: priorID, TargetID: m.ID, Relation: string(models.RelSupersedes)}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", &memerr.PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	if err := s.insert(ctx, tx, m); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO links (user_id, source_id, target_id, relation, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation) DO NOTHING
	`, m.UserID, priorID, m.ID, string(models.RelSupersedes), now()); err != nil {
		return "", &memerr.PersistenceError{Op: "link supersedes", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return "", &memerr.PersistenceError{Op: "commit", Err: err}
	}
	return m.ID, nil
}

// appendEpisode inserts an episode node and links it after the current chain
// tail, advancing the tail pointer, all in one transaction under the per-user
// lock.
func (s *MemoryStore) appendEpisode(ctx context.Context, m *models.Memory) (string, error) {
	mu := s.userLock(m.UserID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", &memerr.PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	var tailID string
	err = tx.QueryRowContext(ctx, `SELECT tail_id FROM chain_tails WHERE user_id = ?`, m.UserID).Scan(&tailID)
	if err != nil && err != sql.ErrNoRows {
		return "", &memerr.PersistenceError{Op: "read chain tail", Err: err}
	}

	if err := s.insert(ctx, tx, m); err != nil {
		return "", err
	}

	if tailID != "" {
		ts := now()
		edges := []struct {
			source, target string
			relation       models.Relation
		}{
			{tailID, m.ID, models.RelPrecedes},
			{m.ID, tailID, models.RelFollows},
		}
		for _, e := range edges {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO links (user_id, source_id, target_id, relation, created_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(source_id, target_id, relation) DO NOTHING
			`, m.UserID, e.source, e.target, string(e.relation), ts); err != nil {
				return "", &memerr.PersistenceError{Op: "link chain", Err: err}
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chain_tails (user_id, tail_id) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET tail_id = excluded.tail_id
	`, m.UserID, m.ID); err != nil {
		return "", &memerr.PersistenceError{Op: "advance chain tail", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return "", &memerr.PersistenceError{Op: "commit", Err: err}
	}
	return m.ID, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *MemoryStore) insert(ctx context.Context, db execer, m *models.Memory) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO memories (
			id, user_id, type, title, content, importance, embedding,
			created_at, attribute_key, psyche_type, note_type, status,
			session_id, extraction_model, source_ref
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.UserID, string(m.Type), m.Title, m.Content, m.Importance,
		vec.Encode(m.Embedding), m.CreatedAt,
		m.AttributeKey, m.PsycheType, string(m.NoteType), string(m.Status),
		m.SessionID, m.ExtractionModel, m.SourceRef,
	)
	if err != nil {
		return &memerr.PersistenceError{Op: "insert memory", Err: err}
	}
	return nil
}

// Get fetches a memory by ID. Returns nil, nil when not found.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE id = ?`, memoryColumns), id)
	m, err := scanOne(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "get memory", Err: err}
	}
	return m, nil
}

// ListActive returns the live memories of a type for a user: all episodes,
// notes with active status, and for psyche the current (non-superseded)
// statement per attribute key.
func (s *MemoryStore) ListActive(ctx context.Context, userID string, t models.MemoryType) ([]*models.Memory, error) {
	var query string
	args := []any{userID}
	switch t {
	case models.TypeEpisode:
		query = fmt.Sprintf(`SELECT %s FROM memories WHERE user_id = ? AND type = 'episode'
			ORDER BY created_at DESC`, memoryColumns)
	case models.TypeNote:
		query = fmt.Sprintf(`SELECT %s FROM memories WHERE user_id = ? AND type = 'note' AND status = 'active'
			ORDER BY created_at DESC`, memoryColumns)
	case models.TypePsyche:
		query = fmt.Sprintf(`SELECT %s FROM memories m WHERE m.user_id = ? AND m.type = 'psyche'
			AND NOT EXISTS (
				SELECT 1 FROM links l WHERE l.source_id = m.id AND l.relation = 'SUPERSEDES'
			)
			ORDER BY m.created_at DESC`, memoryColumns)
	default:
		return nil, fmt.Errorf("unknown memory type %q", t)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "list active", Err: err}
	}
	defer rows.Close()
	return scanRows(rows)
}

// ListNotes returns a user's notes filtered by status. An empty status means
// active only; "all" returns every note regardless of lifecycle state.
func (s *MemoryStore) ListNotes(ctx context.Context, userID, status string) ([]*models.Memory, error) {
	query := fmt.Sprintf(`SELECT %s FROM memories WHERE user_id = ? AND type = 'note'`, memoryColumns)
	args := []any{userID}
	switch status {
	case "", string(models.StatusActive):
		query += ` AND status = 'active'`
	case "all":
	default:
		if !models.NoteStatus(status).IsValid() {
			return nil, fmt.Errorf("invalid note status %q", status)
		}
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "list notes", Err: err}
	}
	defer rows.Close()
	return scanRows(rows)
}

// CurrentPsycheForKey returns the current (non-superseded) psyche statement
// for an attribute key, or nil when the user has none.
func (s *MemoryStore) CurrentPsycheForKey(ctx context.Context, userID, key string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM memories m
		WHERE m.user_id = ? AND m.type = 'psyche' AND m.attribute_key = ?
		AND NOT EXISTS (
			SELECT 1 FROM links l WHERE l.source_id = m.id AND l.relation = 'SUPERSEDES'
		)
		ORDER BY m.created_at DESC LIMIT 1`, memoryColumns), userID, key)
	m, err := scanOne(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "current psyche", Err: err}
	}
	return m, nil
}

// UpdateStatus sets a note's lifecycle status.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.NoteStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET status = ? WHERE id = ? AND type = 'note'`, string(status), id)
	if err != nil {
		return &memerr.PersistenceError{Op: "update status", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("note not found: %s", id)
	}
	return nil
}

// AllWithEmbeddings returns every memory for a user that carries an
// embedding, for brute-force cosine scans.
func (s *MemoryStore) AllWithEmbeddings(ctx context.Context, userID string) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM memories WHERE user_id = ? AND embedding IS NOT NULL`, memoryColumns), userID)
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "scan embeddings", Err: err}
	}
	defer rows.Close()
	return scanRows(rows)
}

// EpisodesInRange returns a user's episodes within [start, end] in
// chronological order.
func (s *MemoryStore) EpisodesInRange(ctx context.Context, userID string, start, end int64) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM memories
		 WHERE user_id = ? AND type = 'episode' AND created_at >= ? AND created_at <= ?
		 ORDER BY created_at ASC`, memoryColumns), userID, start, end)
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "episodes in range", Err: err}
	}
	defer rows.Close()
	return scanRows(rows)
}

// ChainTail returns the current tail episode of a user's chain, or nil when
// the user has no episodes yet.
func (s *MemoryStore) ChainTail(ctx context.Context, userID string) (*models.Memory, error) {
	var tailID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tail_id FROM chain_tails WHERE user_id = ?`, userID).Scan(&tailID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "chain tail", Err: err}
	}
	return s.Get(ctx, tailID)
}

func fill(m *models.Memory) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = now()
	}
	if m.Type == models.TypeNote && m.Status == "" {
		m.Status = models.StatusActive
	}
}

func now() int64 { return time.Now().Unix() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*models.Memory, error) {
	var m models.Memory
	var embedding []byte
	var attributeKey, psycheType, noteType, status sql.NullString
	var sessionID, extractionModel, sourceRef sql.NullString

	err := row.Scan(
		&m.ID, &m.UserID, (*string)(&m.Type), &m.Title, &m.Content, &m.Importance,
		&embedding, &m.CreatedAt,
		&attributeKey, &psycheType, &noteType, &status,
		&sessionID, &extractionModel, &sourceRef,
	)
	if err != nil {
		return nil, err
	}

	m.Embedding = vec.Decode(embedding)
	m.AttributeKey = attributeKey.String
	m.PsycheType = psycheType.String
	m.NoteType = models.NoteType(noteType.String)
	m.Status = models.NoteStatus(status.String)
	m.SessionID = sessionID.String
	m.ExtractionModel = extractionModel.String
	m.SourceRef = sourceRef.String
	return &m, nil
}

func scanRows(rows *sql.Rows) ([]*models.Memory, error) {
	var memories []*models.Memory
	for rows.Next() {
		m, err := scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
