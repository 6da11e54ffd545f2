package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/persona-labs/persona/internal/memerr"
	"github.com/persona-labs/persona/internal/models"
)

// UserCardStore handles the singleton identity card per user.
type UserCardStore struct {
	db *DB
}

func NewUserCardStore(db *DB) *UserCardStore {
	return &UserCardStore{db: db}
}

// Get returns the user's card, or nil when none has been built yet.
func (s *UserCardStore) Get(ctx context.Context, userID string) (*models.UserCard, error) {
	var card models.UserCard
	var roles, values, focus sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, roles, core_values, current_focus, updated_at
		FROM user_cards WHERE user_id = ?
	`, userID).Scan(&card.UserID, &card.Name, &roles, &values, &focus, &card.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "get user card", Err: err}
	}

	card.Roles = decodeList(roles)
	card.CoreValues = decodeList(values)
	card.CurrentFocus = decodeList(focus)
	return &card, nil
}

// Merge folds a patch into the card, creating it if needed. Name replaces;
// list fields union in order, preserving existing entries first. The card is
// rebuilt in place rather than chained.
func (s *UserCardStore) Merge(ctx context.Context, userID string, patch models.CardPatch) (*models.UserCard, error) {
	card, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		card = &models.UserCard{UserID: userID}
	}

	if patch.Name != "" {
		card.Name = patch.Name
	}
	card.Roles = union(card.Roles, patch.Roles)
	card.CoreValues = union(card.CoreValues, patch.CoreValues)
	card.CurrentFocus = union(card.CurrentFocus, patch.CurrentFocus)
	card.UpdatedAt = now()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_cards (user_id, name, roles, core_values, current_focus, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			roles = excluded.roles,
			core_values = excluded.core_values,
			current_focus = excluded.current_focus,
			updated_at = excluded.updated_at
	`, card.UserID, card.Name, encodeList(card.Roles), encodeList(card.CoreValues),
		encodeList(card.CurrentFocus), card.UpdatedAt)
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "merge user card", Err: err}
	}
	return card, nil
}

func union(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	out := existing
	for _, v := range existing {
		seen[v] = true
	}
	for _, v := range add {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(v.String), &out)
	return out
}
