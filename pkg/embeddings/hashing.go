package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

func init() {
	Register("hashing", NewHashing)
}

// HashingEmbeddings is a deterministic, offline embedder built on the
// hashing trick: each token and adjacent token pair is hashed into one
// of Dimensions buckets with a hash-derived sign, then the vector is
// L2-normalized. Nearby texts that share vocabulary land near each
// other, which is enough for tests and air-gapped use.
type HashingEmbeddings struct {
	dimensions int
}

// NewHashing creates a HashingEmbeddings instance.
func NewHashing(config Config) (EmbeddingService, error) {
	if config.Dimensions <= 0 {
		return nil, fmt.Errorf("hashing provider requires dimensions > 0")
	}
	return &HashingEmbeddings{dimensions: config.Dimensions}, nil
}

// Embed generates an embedding for a single text.
func (h *HashingEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	vec := make([]float32, h.dimensions)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.add(vec, tok)
		if i+1 < len(tokens) {
			h.add(vec, tokens[i]+" "+tokens[i+1])
		}
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (h *HashingEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding width.
func (h *HashingEmbeddings) Dimensions() int { return h.dimensions }

// ModelName identifies the embedder.
func (h *HashingEmbeddings) ModelName() string { return "hashing" }

// Close is a no-op.
func (h *HashingEmbeddings) Close() error { return nil }

func (h *HashingEmbeddings) add(vec []float32, feature string) {
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(feature))
	sum := hash.Sum64()

	idx := int(sum % uint64(h.dimensions))
	sign := float32(1)
	if sum&(1<<63) != 0 {
		sign = -1
	}
	vec[idx] += sign
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
