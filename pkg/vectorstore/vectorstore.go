package vectorstore

import (
	"context"
	"fmt"
	"time"
)

// VectorStore is the main interface for vector database operations.
// It provides methods for storing, searching, and managing documents with embeddings.
//
// Search results carry cosine distance (0 identical, 2 opposite): lower
// is closer. Retrieval cutoffs throughout the system are stated in this
// unit.
type VectorStore interface {
	// Upsert inserts or updates documents with embeddings
	Upsert(ctx context.Context, documents []Document) error

	// Search performs similarity search and returns the closest documents
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)

	// Delete removes documents by their IDs
	Delete(ctx context.Context, ids []string) error

	// Get retrieves documents by their IDs
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Close closes the connection to the vector database
	Close() error
}

// Document represents a document with embeddings and metadata.
type Document struct {
	// ID is the unique identifier for the document
	ID string `json:"id"`

	// Content is the text content of the document
	Content string `json:"content"`

	// Embedding is the vector representation of the content
	Embedding []float32 `json:"embedding"`

	// Metadata contains additional information about the document
	// Common fields: source, author, date, document_type, tags, etc.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the document was first created
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the document was last updated
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchQuery defines the parameters for a similarity search.
type SearchQuery struct {
	// Embedding is the query vector to search for
	Embedding []float32

	// TopK is the number of results to return (default: 10)
	TopK int

	// Filter is optional metadata filtering for hybrid search
	Filter *MetadataFilter

	// MaxDistance excludes results farther than this cosine distance
	// when > 0. Cosine distance ranges 0 (identical) to 2 (opposite).
	MaxDistance float32
}

// SearchResult represents a single search result.
type SearchResult struct {
	// Document is the matched document
	Document Document

	// Distance is the cosine distance to the query (lower is closer)
	Distance float32
}

// MetadataFilter defines conditions for filtering documents by metadata.
type MetadataFilter struct {
	// Must contains conditions that all must be true (AND)
	// Example: {"source": "documentation", "status": "published"}
	Must map[string]interface{}

	// Should contains conditions where at least one must be true (OR)
	Should map[string]interface{}

	// MustNot contains conditions that must not be true (NOT)
	// Example: {"status": "draft"}
	MustNot map[string]interface{}
}

// Config holds configuration for vector store providers.
type Config struct {
	// Provider specifies which vector store to use.
	// Supported values: "memory"
	Provider string `yaml:"provider" json:"provider"`

	// EmbeddingDimensions is the expected embedding width
	EmbeddingDimensions int `yaml:"embedding_dimensions" json:"embedding_dimensions"`

	// DefaultTopK is used when a query omits TopK (default: 10)
	DefaultTopK int `yaml:"default_top_k,omitempty" json:"default_top_k,omitempty"`

	// MaxDocuments bounds stores that hold everything in memory
	// (default: 10000)
	MaxDocuments int `yaml:"max_documents,omitempty" json:"max_documents,omitempty"`
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider must be specified")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be greater than 0, got %d", c.EmbeddingDimensions)
	}
	if c.DefaultTopK == 0 {
		c.DefaultTopK = 10
	}
	return nil
}

// ValidateDocument checks if a document is valid before storage.
func ValidateDocument(doc *Document) error {
	// Validate document ID
	if err := ValidateDocumentID(doc.ID); err != nil {
		return fmt.Errorf("invalid document ID: %w", err)
	}
	if doc.Content == "" {
		return fmt.Errorf("document content cannot be empty")
	}
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("document embedding cannot be empty")
	}
	// Check for NaN or Inf values in embedding
	for i, val := range doc.Embedding {
		if isNaN(val) || isInf(val) {
			return fmt.Errorf("embedding contains invalid value at index %d: %f", i, val)
		}
	}
	// Validate metadata keys to prevent injection attacks
	for key := range doc.Metadata {
		if err := ValidateMetadataKey(key); err != nil {
			return fmt.Errorf("invalid metadata key %q: %w", key, err)
		}
	}
	return nil
}

// ValidateSearchQuery checks if a search query is valid.
func ValidateSearchQuery(query *SearchQuery) error {
	if len(query.Embedding) == 0 {
		return fmt.Errorf("query embedding cannot be empty")
	}

	// Check for NaN or Inf values in query embedding
	for i, val := range query.Embedding {
		if isNaN(val) || isInf(val) {
			return fmt.Errorf("query embedding contains invalid value at index %d: %f", i, val)
		}
	}

	if query.TopK < 1 {
		return fmt.Errorf("TopK must be at least 1, got %d", query.TopK)
	}
	if query.TopK > 1000 {
		return fmt.Errorf("TopK cannot exceed 1000, got %d", query.TopK)
	}

	if query.MaxDistance != 0 {
		if isNaN(query.MaxDistance) || isInf(query.MaxDistance) {
			return fmt.Errorf("MaxDistance contains invalid value: %f", query.MaxDistance)
		}
		if query.MaxDistance < 0 || query.MaxDistance > 2 {
			return fmt.Errorf("MaxDistance must be between 0 and 2, got %f", query.MaxDistance)
		}
	}

	return nil
}

// ValidateMetadataKey checks if a metadata key is safe to use.
// This prevents NoSQL injection attacks via metadata keys.
func ValidateMetadataKey(key string) error {
	if key == "" {
		return fmt.Errorf("metadata key cannot be empty")
	}
	if len(key) > 256 {
		return fmt.Errorf("metadata key too long: maximum 256 characters, got %d", len(key))
	}
	// Disallow control characters, null bytes, and special characters that could be used in injection attacks
	for i, r := range key {
		if r < 0x20 || r == 0x7F { // Control characters
			return fmt.Errorf("metadata key contains control character at position %d", i)
		}
		if r == '$' || r == '.' {
			return fmt.Errorf("metadata key contains forbidden character '%c' at position %d (reserved for internal use)", r, i)
		}
	}
	return nil
}

// ValidateDocumentID checks if a document ID is safe to use.
// This prevents path traversal and injection attacks.
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("document ID cannot be empty")
	}
	if len(id) > 512 {
		return fmt.Errorf("document ID too long: maximum 512 characters, got %d", len(id))
	}
	// Disallow path traversal sequences
	if id == "." || id == ".." {
		return fmt.Errorf("document ID cannot be '.' or '..'")
	}
	// Disallow path separators and control characters
	for i, r := range id {
		if r < 0x20 || r == 0x7F { // Control characters
			return fmt.Errorf("document ID contains control character at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("document ID contains path separator at position %d", i)
		}
		if r == 0 { // Null byte
			return fmt.Errorf("document ID contains null byte at position %d", i)
		}
	}
	return nil
}

// Helper functions for float validation
func isNaN(f float32) bool {
	return f != f
}

func isInf(f float32) bool {
	return f > maxFloat32 || f < -maxFloat32
}

const maxFloat32 = 3.40282346638528859811704183484516925440e+38
