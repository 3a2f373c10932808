package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/talonhq/talon/pkg/vectorstore"
)

// MemoryVectorStore implements an in-memory vector store with brute-force
// cosine search. Partition sizes in this system stay small (preferences,
// corrections, rule triggers), so linear scans are fine.
type MemoryVectorStore struct {
	documents     map[string]vectorstore.Document
	maxDocuments  int
	defaultTopK   int
	embeddingDims int
	mu            sync.RWMutex
}

func init() {
	// Register the memory provider with the vector store registry
	vectorstore.Register("memory", New)
}

// New creates a new MemoryVectorStore from the provided configuration.
func New(config vectorstore.Config) (vectorstore.VectorStore, error) {
	if config.EmbeddingDimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be greater than 0, got %d", config.EmbeddingDimensions)
	}

	maxDocs := 10000
	if config.MaxDocuments > 0 {
		maxDocs = config.MaxDocuments
	}
	topK := config.DefaultTopK
	if topK == 0 {
		topK = 10
	}

	return &MemoryVectorStore{
		documents:     make(map[string]vectorstore.Document),
		maxDocuments:  maxDocs,
		defaultTopK:   topK,
		embeddingDims: config.EmbeddingDimensions,
	}, nil
}

// Upsert inserts or updates documents with embeddings.
func (m *MemoryVectorStore) Upsert(ctx context.Context, documents []vectorstore.Document) error {
	if len(documents) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate all documents before upserting
	for i := range documents {
		if err := vectorstore.ValidateDocument(&documents[i]); err != nil {
			return fmt.Errorf("invalid document at index %d: %w", i, err)
		}
		// Verify embedding dimensions match configuration
		if len(documents[i].Embedding) != m.embeddingDims {
			return fmt.Errorf("document %s embedding dimension mismatch: expected %d, got %d",
				documents[i].ID, m.embeddingDims, len(documents[i].Embedding))
		}
	}

	// Check if we would exceed max documents
	newDocsCount := 0
	for _, doc := range documents {
		if _, exists := m.documents[doc.ID]; !exists {
			newDocsCount++
		}
	}

	if len(m.documents)+newDocsCount > m.maxDocuments {
		return fmt.Errorf("would exceed max documents limit: %d (current: %d, adding: %d)",
			m.maxDocuments, len(m.documents), newDocsCount)
	}

	for _, doc := range documents {
		// Deep copy to prevent external mutations
		m.documents[doc.ID] = deepCopyDocument(doc)
	}

	return nil
}

// Search performs brute-force cosine-distance search.
func (m *MemoryVectorStore) Search(ctx context.Context, query vectorstore.SearchQuery) ([]vectorstore.SearchResult, error) {
	if query.TopK == 0 {
		query.TopK = m.defaultTopK
	}

	if err := vectorstore.ValidateSearchQuery(&query); err != nil {
		return nil, fmt.Errorf("invalid search query: %w", err)
	}

	if len(query.Embedding) != m.embeddingDims {
		return nil, fmt.Errorf("query embedding dimension mismatch: expected %d, got %d",
			m.embeddingDims, len(query.Embedding))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []vectorstore.SearchResult

	for _, doc := range m.documents {
		if query.Filter != nil && !matchesFilter(doc, query.Filter) {
			continue
		}

		distance := cosineDistance(query.Embedding, doc.Embedding)

		if query.MaxDistance > 0 && distance > query.MaxDistance {
			continue
		}

		candidates = append(candidates, vectorstore.SearchResult{
			Document: deepCopyDocument(doc),
			Distance: distance,
		})
	}

	// Sort by distance, closest first
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})

	if len(candidates) > query.TopK {
		candidates = candidates[:query.TopK]
	}

	return candidates, nil
}

// Delete removes documents by their IDs.
func (m *MemoryVectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.documents, id)
	}

	return nil
}

// Get retrieves documents by their IDs.
func (m *MemoryVectorStore) Get(ctx context.Context, ids []string) ([]vectorstore.Document, error) {
	if len(ids) == 0 {
		return []vectorstore.Document{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var documents []vectorstore.Document

	for _, id := range ids {
		if doc, exists := m.documents[id]; exists {
			// Deep copy to prevent external mutations
			documents = append(documents, deepCopyDocument(doc))
		}
	}

	return documents, nil
}

// Close is a no-op for memory store but implements the interface.
func (m *MemoryVectorStore) Close() error {
	return nil
}

// Count returns the number of documents stored (useful for testing).
func (m *MemoryVectorStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.documents)
}

// Clear removes all documents (useful for testing).
func (m *MemoryVectorStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = make(map[string]vectorstore.Document)
}

// Helper functions

func matchesFilter(doc vectorstore.Document, filter *vectorstore.MetadataFilter) bool {
	// Check Must conditions (all must be true)
	if filter.Must != nil {
		for key, expectedValue := range filter.Must {
			actualValue, exists := doc.Metadata[key]
			if !exists || actualValue != expectedValue {
				return false
			}
		}
	}

	// Check Should conditions (at least one must be true)
	if len(filter.Should) > 0 {
		matchedAny := false
		for key, expectedValue := range filter.Should {
			actualValue, exists := doc.Metadata[key]
			if exists && actualValue == expectedValue {
				matchedAny = true
				break
			}
		}
		if !matchedAny {
			return false
		}
	}

	// Check MustNot conditions (none must be true)
	if filter.MustNot != nil {
		for key, rejectedValue := range filter.MustNot {
			actualValue, exists := doc.Metadata[key]
			if exists && actualValue == rejectedValue {
				return false
			}
		}
	}

	return true
}

// cosineDistance returns 1 - cosine similarity: 0 identical, 2 opposite.
// Vectors with zero norm are treated as maximally distant.
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}

	var dotProd, normA, normB float32
	for i := range a {
		dotProd += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 2
	}

	return 1 - dotProd/(sqrt(normA)*sqrt(normB))
}

func sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// deepCopyDocument creates a deep copy of a document to prevent external mutations.
func deepCopyDocument(doc vectorstore.Document) vectorstore.Document {
	embeddingCopy := make([]float32, len(doc.Embedding))
	copy(embeddingCopy, doc.Embedding)

	var metadataCopy map[string]interface{}
	if doc.Metadata != nil {
		metadataCopy = make(map[string]interface{}, len(doc.Metadata))
		for k, v := range doc.Metadata {
			// Metadata values are typically primitives, shallow copy is enough
			metadataCopy[k] = v
		}
	}

	return vectorstore.Document{
		ID:        doc.ID,
		Content:   doc.Content,
		Embedding: embeddingCopy,
		Metadata:  metadataCopy,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}
