package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/persona-labs/persona/internal/memerr"
	"github.com/persona-labs/persona/internal/models"
)

// LinkStore handles typed edges between memory nodes (and REFERS_TO edges to
// canonical entities).
type LinkStore struct {
	db *DB
}

func NewLinkStore(db *DB) *LinkStore {
	return &LinkStore{db: db}
}

// Create inserts a typed edge. Both endpoints must exist: the source must be
// a memory, the target a memory or (for REFERS_TO) an entity. A missing
// endpoint is a DanglingReferenceError — a linker bug, not a transient fault.
func (s *LinkStore) Create(ctx context.Context, userID, sourceID, targetID string, relation models.Relation) error {
	ok, err := s.memoryExists(ctx, sourceID)
	if err != nil {
		return err
	}
	if !ok {
		return &memerr.DanglingReferenceError{SourceID: sourceID, TargetID: targetID, Relation: string(relation)}
	}

	ok, err = s.memoryExists(ctx, targetID)
	if err != nil {
		return err
	}
	if !ok && relation == models.RelRefersTo {
		ok, err = s.entityExists(ctx, targetID)
		if err != nil {
			return err
		}
	}
	if !ok {
		return &memerr.DanglingReferenceError{SourceID: sourceID, TargetID: targetID, Relation: string(relation)}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO links (user_id, source_id, target_id, relation, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation) DO NOTHING
	`, userID, sourceID, targetID, string(relation), now())
	if err != nil {
		return &memerr.PersistenceError{Op: "create link", Err: err}
	}
	return nil
}

// For returns all edges touching the given memory, in either direction.
func (s *LinkStore) For(ctx context.Context, id string) ([]models.Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, source_id, target_id, relation, created_at
		FROM links WHERE source_id = ? OR target_id = ?
	`, id, id)
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "links for", Err: err}
	}
	defer rows.Close()

	var links []models.Link
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.ID, &l.UserID, &l.SourceID, &l.TargetID, (*string)(&l.Relation), &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// Connected crawls outgoing and incoming edges up to maxHops hops from the
// seed set and returns the newly reached memory nodes (entity endpoints are
// traversed through but not returned).
func (s *LinkStore) Connected(ctx context.Context, memories *MemoryStore, seedIDs []string, maxHops int) ([]*models.Memory, error) {
	if maxHops <= 0 || len(seedIDs) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		seen[id] = true
	}

	var reached []*models.Memory
	frontier := seedIDs

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		neighborIDs, err := s.neighbors(ctx, frontier)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, id := range neighborIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			m, err := memories.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if m == nil {
				// Entity node or removed endpoint; keep crawling through it.
				next = append(next, id)
				continue
			}
			reached = append(reached, m)
			next = append(next, id)
		}
		frontier = next
	}
	return reached, nil
}

func (s *LinkStore) neighbors(ctx context.Context, ids []string) ([]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)*2)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT target_id FROM links WHERE source_id IN (%s)
		UNION
		SELECT source_id FROM links WHERE target_id IN (%s)
	`, placeholders, placeholders), args...)
	if err != nil {
		return nil, &memerr.PersistenceError{Op: "crawl neighbors", Err: err}
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *LinkStore) memoryExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &memerr.PersistenceError{Op: "check memory", Err: err}
	}
	return true, nil
}

func (s *LinkStore) entityExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &memerr.PersistenceError{Op: "check entity", Err: err}
	}
	return true, nil
}
