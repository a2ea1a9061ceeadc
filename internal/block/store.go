// Package block provides PostgreSQL-backed storage for block records. A
// block row (user_id, target_id) means user_id has blocked target_id; the
// moderation gate checks the pair symmetrically, so either direction stops
// messaging between the two.
package block

import (
	"context"
	"database/sql"
	"fmt"
)

// Store manages block records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new block store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Block records that userID has blocked targetID. Blocking an already
// blocked user is a no-op, not an error.
func (s *Store) Block(ctx context.Context, userID, targetID string) error {
	if userID == "" || targetID == "" {
		return fmt.Errorf("block: missing user id")
	}
	if userID == targetID {
		return fmt.Errorf("block: user %s cannot block themselves", userID)
	}

	const query = `
		INSERT INTO blocks (user_id, target_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, target_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, userID, targetID); err != nil {
		return fmt.Errorf("block: insert: %w", err)
	}
	return nil
}

// Unblock removes userID's block on targetID. Removing a block that does
// not exist is a no-op.
func (s *Store) Unblock(ctx context.Context, userID, targetID string) error {
	const query = `DELETE FROM blocks WHERE user_id = $1 AND target_id = $2`

	if _, err := s.db.ExecContext(ctx, query, userID, targetID); err != nil {
		return fmt.Errorf("block: delete: %w", err)
	}
	return nil
}

// Blocked reports whether a block record exists between the two users in
// either direction. This is the relay's moderation gate; errors are returned
// so the caller can apply its configured policy (fail-open by default).
func (s *Store) Blocked(ctx context.Context, userA, userB string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM blocks
			WHERE (user_id = $1 AND target_id = $2)
			   OR (user_id = $2 AND target_id = $1)
		)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userA, userB).Scan(&exists); err != nil {
		return false, fmt.Errorf("block: exists: %w", err)
	}
	return exists, nil
}

// BlockedBy returns the ids of every user that userID has blocked, for the
// client's blocked-users screen.
func (s *Store) BlockedBy(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT target_id FROM blocks WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("block: list: %w", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, fmt.Errorf("block: scan: %w", err)
		}
		targets = append(targets, target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("block: rows: %w", err)
	}
	return targets, nil
}
