package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/persona-labs/persona/internal/memerr"
	"github.com/persona-labs/persona/internal/models"
	"github.com/persona-labs/persona/internal/vec"
)

// EntityStore handles canonical entity rows. Entities are the dedup targets
// for repeated mentions: "Project Alpha" in two sessions resolves to one row.
type EntityStore struct {
	db *DB
}

func NewEntityStore(db *DB) *EntityStore {
	return &EntityStore{db: db}
}

// NormalizeEntity lowercases, strips punctuation, and collapses whitespace so
// trivially different spellings of a name compare equal.
func NormalizeEntity(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Create inserts a canonical entity, returning the existing row's ID when the
// normalized name is already taken for this user.
func (s *EntityStore) Create(ctx context.Context, e *models.Entity) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Normalized == "" {
		e.Normalized = NormalizeEntity(e.Name)
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = now()
	}

	existing, err := s.GetByNormalized(ctx, e.UserID, e.Normalized)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, user_id, name, normalized, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, normalized) DO NOTHING
	`, e.ID, e.UserID, e.Name, e.Normalized, vec.Encode(e.Embedding), e.CreatedAt)
	if err != nil {
		return "", &memerr.PersistenceError{Op: "insert entity", Err: err}
	}
	return e.ID, nil
}

// GetByNormalized fetches an entity by its normalized name. Returns nil, nil
// when absent.
func (s *EntityStore) GetByNormalized(ctx context.Context, userID, normalized string) (*models.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, normalized, embedding, created_at
		FROM entities WHERE user_id = ? AND normalized = ?
	`, userID, normalized)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "get entity", Err: err}
	}
	return e, nil
}

// All returns every canonical entity for a user, embeddings included, for
// similarity-based matching.
func (s *EntityStore) All(ctx context.Context, userID string) ([]*models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, normalized, embedding, created_at
		FROM entities WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "list entities", Err: err}
	}
	defer rows.Close()

	var out []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntity(row rowScanner) (*models.Entity, error) {
	var e models.Entity
	var embedding []byte
	if err := row.Scan(&e.ID, &e.UserID, &e.Name, &e.Normalized, &embedding, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Embedding = vec.Decode(embedding)
	return &e, nil
}
