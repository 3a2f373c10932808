// Package knowledge is the assistant's long-term memory: a SQLite log of
// commands, actions, rules, corrections, and reflections, plus vector
// partitions for semantic retrieval.
package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/talonhq/talon/internal/observability"
	"github.com/talonhq/talon/pkg/embeddings"
	"github.com/talonhq/talon/pkg/vectorstore"
	_ "github.com/talonhq/talon/pkg/vectorstore/memory"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("knowledge: not found")

// Partition names for semantic retrieval.
const (
	PartitionPreferences = "preferences"
	PartitionPatterns    = "patterns"
	PartitionRules       = "rules"
	PartitionCorrections = "corrections"
	PartitionDocuments   = "documents"
)

// MinQueryLength is the shortest query that triggers semantic lookup.
// Shorter queries return nothing rather than noise.
const MinQueryLength = 4

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	command    TEXT NOT NULL,
	response   TEXT NOT NULL DEFAULT '',
	talent     TEXT NOT NULL DEFAULT '',
	success    INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_commands_session ON commands(session_id, id);

CREATE TABLE IF NOT EXISTS actions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	talent      TEXT NOT NULL,
	action_json TEXT NOT NULL,
	result      TEXT NOT NULL DEFAULT '',
	success     INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id, id);

CREATE TABLE IF NOT EXISTS rules (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	trigger    TEXT NOT NULL,
	action     TEXT NOT NULL,
	enabled    INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS corrections (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	original_command  TEXT NOT NULL,
	original_response TEXT NOT NULL DEFAULT '',
	corrected_command TEXT NOT NULL,
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reflections (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL,
	summary_json TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	partition  TEXT NOT NULL,
	content    TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memories_partition ON memories(partition);
`

// Store is the knowledge store.
type Store struct {
	db       *sql.DB
	embedder embeddings.EmbeddingService

	partitions map[string]vectorstore.VectorStore
}

// Config for opening a Store.
type Config struct {
	// DBPath is the SQLite database file. ":memory:" works for tests.
	DBPath string

	// Embedder produces vectors for semantic partitions.
	Embedder embeddings.EmbeddingService
}

// Open opens the database, applies the schema, and rebuilds the vector
// partitions from persisted rows.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("knowledge: embedder is required")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("knowledge: db path is required")
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:         db,
		embedder:   cfg.Embedder,
		partitions: make(map[string]vectorstore.VectorStore, 5),
	}

	for _, name := range []string{
		PartitionPreferences, PartitionPatterns, PartitionRules,
		PartitionCorrections, PartitionDocuments,
	} {
		vs, err := vectorstore.New(vectorstore.Config{
			Provider:            "memory",
			EmbeddingDimensions: cfg.Embedder.Dimensions(),
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create %s partition: %w", name, err)
		}
		s.partitions[name] = vs
	}

	if err := s.rebuildVectors(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// rebuildVectors re-embeds persisted rows into the in-memory partitions.
func (s *Store) rebuildVectors(ctx context.Context) error {
	// Preferences, patterns, and documents live in the memories table.
	rows, err := s.db.QueryContext(ctx, `SELECT id, partition, content, source, created_at FROM memories`)
	if err != nil {
		return fmt.Errorf("failed to load memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, partition, content, source string
		var createdAt time.Time
		if err := rows.Scan(&id, &partition, &content, &source, &createdAt); err != nil {
			return fmt.Errorf("failed to scan memory row: %w", err)
		}
		if err := s.upsertVector(ctx, partition, id, content, map[string]interface{}{
			"source": source,
		}, createdAt); err != nil {
			log.Printf("[Memory] skipping unembeddable memory %s: %v", id, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate memories: %w", err)
	}

	rules, err := s.ListRules(ctx)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if err := s.indexRuleTrigger(ctx, rule); err != nil {
			log.Printf("[Memory] skipping unembeddable rule %d: %v", rule.ID, err)
		}
	}

	corrections, err := s.allCorrections(ctx)
	if err != nil {
		return err
	}
	for _, c := range corrections {
		if err := s.indexCorrection(ctx, c); err != nil {
			log.Printf("[Memory] skipping unembeddable correction %d: %v", c.ID, err)
		}
	}

	return nil
}

// upsertVector embeds content and stores it in the named partition.
func (s *Store) upsertVector(ctx context.Context, partition, id, content string, metadata map[string]interface{}, createdAt time.Time) error {
	vs, ok := s.partitions[partition]
	if !ok {
		return fmt.Errorf("unknown partition: %s", partition)
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed content: %w", err)
	}

	return vs.Upsert(ctx, []vectorstore.Document{{
		ID:        id,
		Content:   content,
		Embedding: vec,
		Metadata:  metadata,
		CreatedAt: createdAt,
		UpdatedAt: time.Now(),
	}})
}

// searchPartition embeds the query and searches one partition. Queries
// below MinQueryLength return nothing.
func (s *Store) searchPartition(ctx context.Context, partition, query string, maxDistance float32, topK int) ([]vectorstore.SearchResult, error) {
	if len(query) < MinQueryLength {
		return nil, nil
	}
	vs, ok := s.partitions[partition]
	if !ok {
		return nil, fmt.Errorf("unknown partition: %s", partition)
	}
	observability.RecordRetrievalQuery(partition)

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return vs.Search(ctx, vectorstore.SearchQuery{
		Embedding:   vec,
		TopK:        topK,
		MaxDistance: maxDistance,
	})
}

// Close closes the database and the vector partitions.
func (s *Store) Close() error {
	for _, vs := range s.partitions {
		_ = vs.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
