package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Retrieval cutoffs in cosine distance. Preferences tolerate looser
// matches than patterns because a stored preference is cheap to show
// and expensive to miss.
const (
	preferenceMaxDistance float32 = 1.0
	patternMaxDistance    float32 = 0.9
	memoryTopK                    = 2
)

// Memory is one retrieved preference or usage pattern.
type Memory struct {
	Content  string
	Kind     string // PartitionPreferences or PartitionPatterns
	Distance float32
}

// DocumentChunk is one retrieved slice of an ingested document.
type DocumentChunk struct {
	Content  string
	Source   string
	Distance float32
}

// StorePreference saves a durable user preference.
func (s *Store) StorePreference(ctx context.Context, text, source string) error {
	return s.storeMemory(ctx, PartitionPreferences, text, source)
}

// StoreSuccessfulPattern remembers that a command was served well by a
// handler, so similar commands can be nudged the same way.
func (s *Store) StoreSuccessfulPattern(ctx context.Context, command, talent string) error {
	text := fmt.Sprintf("Command %q was handled successfully by %s", command, talent)
	return s.storeMemory(ctx, PartitionPatterns, text, talent)
}

// RelevantMemories returns preferences and patterns near the query:
// up to two of each, closest first within each kind.
func (s *Store) RelevantMemories(ctx context.Context, query string) ([]Memory, error) {
	var out []Memory

	prefs, err := s.searchPartition(ctx, PartitionPreferences, query, preferenceMaxDistance, memoryTopK)
	if err != nil {
		return nil, fmt.Errorf("failed to search preferences: %w", err)
	}
	for _, r := range prefs {
		out = append(out, Memory{Content: r.Document.Content, Kind: PartitionPreferences, Distance: r.Distance})
	}

	patterns, err := s.searchPartition(ctx, PartitionPatterns, query, patternMaxDistance, memoryTopK)
	if err != nil {
		return nil, fmt.Errorf("failed to search patterns: %w", err)
	}
	for _, r := range patterns {
		out = append(out, Memory{Content: r.Document.Content, Kind: PartitionPatterns, Distance: r.Distance})
	}

	return out, nil
}

// AddDocument chunks and indexes a document for retrieval.
func (s *Store) AddDocument(ctx context.Context, source, content string) (int, error) {
	chunks := chunkDocument(content)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document is empty")
	}
	for _, chunk := range chunks {
		if err := s.storeMemory(ctx, PartitionDocuments, chunk, source); err != nil {
			return 0, fmt.Errorf("failed to store document chunk: %w", err)
		}
	}
	return len(chunks), nil
}

// DocumentChunks returns document slices within maxDistance of the
// query, closest first.
func (s *Store) DocumentChunks(ctx context.Context, query string, maxDistance float32, topK int) ([]DocumentChunk, error) {
	results, err := s.searchPartition(ctx, PartitionDocuments, query, maxDistance, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	var out []DocumentChunk
	for _, r := range results {
		source, _ := r.Document.Metadata["source"].(string)
		out = append(out, DocumentChunk{
			Content:  r.Document.Content,
			Source:   source,
			Distance: r.Distance,
		})
	}
	return out, nil
}

func (s *Store) storeMemory(ctx context.Context, partition, content, source string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("memory content is empty")
	}

	id := uuid.NewString()
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, partition, content, source) VALUES (?, ?, ?, ?)`,
		id, partition, content, source); err != nil {
		return fmt.Errorf("failed to persist memory: %w", err)
	}

	if err := s.upsertVector(ctx, partition, id, content, map[string]interface{}{
		"source": source,
	}, now); err != nil {
		return fmt.Errorf("failed to index memory: %w", err)
	}
	return nil
}

// chunkDocument splits content into retrieval-sized pieces on paragraph
// boundaries, merging small paragraphs up to roughly a kilobyte.
func chunkDocument(content string) []string {
	const targetSize = 1000

	paragraphs := strings.Split(content, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text != "" {
			chunks = append(chunks, text)
		}
		current.Reset()
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p) > targetSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)

		// Oversized single paragraphs become their own chunk.
		if current.Len() >= targetSize {
			flush()
		}
	}
	flush()

	return chunks
}
