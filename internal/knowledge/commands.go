package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CommandRecord is one logged command with its outcome.
type CommandRecord struct {
	ID        int64
	SessionID string
	Command   string
	Response  string
	Talent    string
	Success   bool
	CreatedAt time.Time
}

// ActionRecord is one concrete action a handler performed.
type ActionRecord struct {
	ID        int64
	SessionID string
	Talent    string
	Action    map[string]interface{}
	Result    string
	Success   bool
	CreatedAt time.Time
}

// LogCommand records a processed command and its outcome.
func (s *Store) LogCommand(ctx context.Context, rec CommandRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (session_id, command, response, talent, success) VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Command, rec.Response, rec.Talent, boolToInt(rec.Success))
	if err != nil {
		return 0, fmt.Errorf("failed to log command: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read command id: %w", err)
	}
	return id, nil
}

// LogAction records one action a handler took.
func (s *Store) LogAction(ctx context.Context, rec ActionRecord) error {
	actionJSON, err := json.Marshal(rec.Action)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO actions (session_id, talent, action_json, result, success) VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Talent, string(actionJSON), rec.Result, boolToInt(rec.Success))
	if err != nil {
		return fmt.Errorf("failed to log action: %w", err)
	}
	return nil
}

// LastSuccessfulAction returns the most recent successful action in the
// session, or ErrNotFound.
func (s *Store) LastSuccessfulAction(ctx context.Context, sessionID string) (*ActionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, talent, action_json, result, success, created_at
		 FROM actions WHERE session_id = ? AND success = 1
		 ORDER BY id DESC LIMIT 1`, sessionID)

	rec, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last action: %w", err)
	}
	return rec, nil
}

// SessionCommandCount returns how many commands the session has logged.
func (s *Store) SessionCommandCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM commands WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count session commands: %w", err)
	}
	return count, nil
}

// SessionCommands returns the session's commands oldest first, capped at
// limit when limit > 0.
func (s *Store) SessionCommands(ctx context.Context, sessionID string, limit int) ([]CommandRecord, error) {
	query := `SELECT id, session_id, command, response, talent, success, created_at
		 FROM commands WHERE session_id = ? ORDER BY id`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load session commands: %w", err)
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var success int
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Command, &rec.Response, &rec.Talent, &success, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan command row: %w", err)
		}
		rec.Success = success != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*ActionRecord, error) {
	var rec ActionRecord
	var actionJSON string
	var success int
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.Talent, &actionJSON, &rec.Result, &success, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Success = success != 0
	if err := json.Unmarshal([]byte(actionJSON), &rec.Action); err != nil {
		return nil, fmt.Errorf("failed to decode action: %w", err)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
