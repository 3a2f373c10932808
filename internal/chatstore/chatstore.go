// Package chatstore persists the chat transcript across restarts. Two
// backends exist: JSONL files for single-machine use and Redis for
// shared deployments.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrStoreClosed is returned from operations after Close.
var ErrStoreClosed = errors.New("chatstore: store is closed")

// ErrInvalidSessionID rejects session ids that could escape the
// storage namespace.
var ErrInvalidSessionID = errors.New("chatstore: invalid session id")

// Turn is one persisted conversation turn.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn with a fresh id and timestamp.
func NewTurn(role, text string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// Store persists conversation turns per session.
type Store interface {
	// Append adds one turn to a session's transcript.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Recent returns the last limit turns in chronological order.
	// limit <= 0 returns everything.
	Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error)

	// Sessions lists known session ids.
	Sessions(ctx context.Context) ([]string, error)

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "file" or "redis".
	Backend string

	// Dir is the file backend's base directory.
	Dir string

	// Redis connection settings.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New creates the configured backend.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "redis":
		return NewRedisStore(cfg)
	default:
		return nil, fmt.Errorf("chatstore: unknown backend %q", cfg.Backend)
	}
}

// validateSessionID rejects ids with path separators or traversal
// sequences; session ids become file names and redis keys.
func validateSessionID(id string) error {
	if id == "" {
		return ErrInvalidSessionID
	}
	if strings.ContainsAny(id, `/\:`) || strings.Contains(id, "..") {
		return ErrInvalidSessionID
	}
	return nil
}

// tail returns the last limit turns of a transcript.
func tail(turns []Turn, limit int) []Turn {
	if limit > 0 && len(turns) > limit {
		return turns[len(turns)-limit:]
	}
	return turns
}
