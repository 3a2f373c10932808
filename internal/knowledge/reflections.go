package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// retainedReflections caps how many session reflections are kept.
const retainedReflections = 5

// Reflection is one stored end-of-session summary.
type Reflection struct {
	ID          int64
	SessionID   string
	SummaryJSON string
	CreatedAt   time.Time
}

// StoreSessionReflection persists a reflection and prunes old ones so at
// most the latest five remain.
func (s *Store) StoreSessionReflection(ctx context.Context, sessionID, summaryJSON string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO reflections (session_id, summary_json) VALUES (?, ?)`,
		sessionID, summaryJSON); err != nil {
		return fmt.Errorf("failed to insert reflection: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM reflections WHERE id NOT IN (
			SELECT id FROM reflections ORDER BY id DESC LIMIT ?
		)`, retainedReflections); err != nil {
		return fmt.Errorf("failed to prune reflections: %w", err)
	}
	return nil
}

// LastSessionReflection returns the most recent reflection, or ErrNotFound.
func (s *Store) LastSessionReflection(ctx context.Context) (*Reflection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, summary_json, created_at FROM reflections ORDER BY id DESC LIMIT 1`)

	var r Reflection
	err := row.Scan(&r.ID, &r.SessionID, &r.SummaryJSON, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reflection: %w", err)
	}
	return &r, nil
}
