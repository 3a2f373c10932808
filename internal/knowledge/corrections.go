package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Correction is a remembered (misunderstood, corrected) command pair.
type Correction struct {
	ID               int64
	OriginalCommand  string
	OriginalResponse string
	CorrectedCommand string
	CreatedAt        time.Time
}

// CorrectionMatch is a correction relevant to a command.
type CorrectionMatch struct {
	Correction Correction
	Distance   float32
}

// StoreCorrection persists a correction and indexes the misunderstood
// command for retrieval.
func (s *Store) StoreCorrection(ctx context.Context, c Correction) (*Correction, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO corrections (original_command, original_response, corrected_command) VALUES (?, ?, ?)`,
		c.OriginalCommand, c.OriginalResponse, c.CorrectedCommand)
	if err != nil {
		return nil, fmt.Errorf("failed to insert correction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read correction id: %w", err)
	}
	c.ID = id
	c.CreatedAt = time.Now()

	if err := s.indexCorrection(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to index correction: %w", err)
	}
	return &c, nil
}

// RelevantCorrections returns corrections whose misunderstood command is
// within maxDistance of the query, closest first, capped at topK.
func (s *Store) RelevantCorrections(ctx context.Context, query string, maxDistance float32, topK int) ([]CorrectionMatch, error) {
	results, err := s.searchPartition(ctx, PartitionCorrections, query, maxDistance, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search corrections: %w", err)
	}

	var out []CorrectionMatch
	for _, r := range results {
		c, err := s.correctionFromDoc(ctx, r.Document.Metadata)
		if err != nil {
			continue
		}
		out = append(out, CorrectionMatch{Correction: *c, Distance: r.Distance})
	}
	return out, nil
}

// CountSimilarCorrections counts stored corrections structurally similar
// to the misunderstood command.
func (s *Store) CountSimilarCorrections(ctx context.Context, original string, maxDistance float32) (int, error) {
	results, err := s.searchPartition(ctx, PartitionCorrections, original, maxDistance, 100)
	if err != nil {
		return 0, fmt.Errorf("failed to count corrections: %w", err)
	}
	return len(results), nil
}

func (s *Store) allCorrections(ctx context.Context) ([]Correction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, original_command, original_response, corrected_command, created_at FROM corrections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load corrections: %w", err)
	}
	defer rows.Close()

	var out []Correction
	for rows.Next() {
		var c Correction
		if err := rows.Scan(&c.ID, &c.OriginalCommand, &c.OriginalResponse, &c.CorrectedCommand, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) correctionFromDoc(ctx context.Context, metadata map[string]interface{}) (*Correction, error) {
	idStr, ok := metadata["correction_id"].(string)
	if !ok {
		return nil, ErrNotFound
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, original_command, original_response, corrected_command, created_at FROM corrections WHERE id = ?`, id)
	var c Correction
	if err := row.Scan(&c.ID, &c.OriginalCommand, &c.OriginalResponse, &c.CorrectedCommand, &c.CreatedAt); err != nil {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *Store) indexCorrection(ctx context.Context, c Correction) error {
	return s.upsertVector(ctx, PartitionCorrections, "correction-"+strconv.FormatInt(c.ID, 10),
		c.OriginalCommand, map[string]interface{}{
			"correction_id": strconv.FormatInt(c.ID, 10),
		}, c.CreatedAt)
}
