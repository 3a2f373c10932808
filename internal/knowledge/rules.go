package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Rule maps a trigger phrase to an action command.
type Rule struct {
	ID        int64
	Trigger   string
	Action    string
	Enabled   bool
	CreatedAt time.Time
}

// RuleMatch is a rule found near a command.
type RuleMatch struct {
	Rule     Rule
	Distance float32
}

// AddRule persists a rule and indexes its trigger for matching.
func (s *Store) AddRule(ctx context.Context, trigger, action string) (*Rule, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (trigger, action, enabled) VALUES (?, ?, 1)`, trigger, action)
	if err != nil {
		return nil, fmt.Errorf("failed to insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read rule id: %w", err)
	}

	rule := Rule{ID: id, Trigger: trigger, Action: action, Enabled: true, CreatedAt: time.Now()}
	if err := s.indexRuleTrigger(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to index rule trigger: %w", err)
	}
	return &rule, nil
}

// MatchRule returns the enabled rule whose trigger is nearest to the
// command within maxDistance, or ErrNotFound.
func (s *Store) MatchRule(ctx context.Context, command string, maxDistance float32) (*RuleMatch, error) {
	results, err := s.searchPartition(ctx, PartitionRules, command, maxDistance, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to search rules: %w", err)
	}

	for _, r := range results {
		id, ok := r.Document.Metadata["rule_id"].(string)
		if !ok {
			continue
		}
		ruleID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		rule, err := s.GetRule(ctx, ruleID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !rule.Enabled {
			continue
		}
		return &RuleMatch{Rule: *rule, Distance: r.Distance}, nil
	}
	return nil, ErrNotFound
}

// GetRule loads one rule by id.
func (s *Store) GetRule(ctx context.Context, id int64) (*Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, trigger, action, enabled, created_at FROM rules WHERE id = ?`, id)

	var rule Rule
	var enabled int
	err := row.Scan(&rule.ID, &rule.Trigger, &rule.Action, &enabled, &rule.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule: %w", err)
	}
	rule.Enabled = enabled != 0
	return &rule, nil
}

// ListRules returns all rules oldest first.
func (s *Store) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger, action, enabled, created_at FROM rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var rule Rule
		var enabled int
		if err := rows.Scan(&rule.ID, &rule.Trigger, &rule.Action, &enabled, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		rule.Enabled = enabled != 0
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ToggleRule enables or disables a rule.
func (s *Store) ToggleRule(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to toggle rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check toggle result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule and its trigger embedding.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return s.partitions[PartitionRules].Delete(ctx, []string{ruleDocID(id)})
}

func (s *Store) indexRuleTrigger(ctx context.Context, rule Rule) error {
	return s.upsertVector(ctx, PartitionRules, ruleDocID(rule.ID), rule.Trigger, map[string]interface{}{
		"rule_id": strconv.FormatInt(rule.ID, 10),
	}, rule.CreatedAt)
}

func ruleDocID(id int64) string {
	return "rule-" + strconv.FormatInt(id, 10)
}
