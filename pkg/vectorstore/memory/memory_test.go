package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talonhq/talon/pkg/vectorstore"
)

func newStore(t *testing.T) *MemoryVectorStore {
	t.Helper()
	store, err := New(vectorstore.Config{Provider: "memory", EmbeddingDimensions: 3})
	require.NoError(t, err)
	return store.(*MemoryVectorStore)
}

func doc(id string, embedding []float32) vectorstore.Document {
	return vectorstore.Document{
		ID:        id,
		Content:   "content " + id,
		Embedding: embedding,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestUpsertAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{
		doc("a", []float32{1, 0, 0}),
		doc("b", []float32{0, 1, 0}),
	}))
	assert.Equal(t, 2, store.Count())

	got, err := store.Get(ctx, []string{"a", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestUpsertDimensionMismatch(t *testing.T) {
	store := newStore(t)
	err := store.Upsert(context.Background(), []vectorstore.Document{
		doc("a", []float32{1, 0}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestSearchOrdersByDistance(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{
		doc("identical", []float32{1, 0, 0}),
		doc("orthogonal", []float32{0, 1, 0}),
		doc("opposite", []float32{-1, 0, 0}),
	}))

	results, err := store.Search(ctx, vectorstore.SearchQuery{
		Embedding: []float32{1, 0, 0},
		TopK:      3,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "identical", results[0].Document.ID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
	assert.Equal(t, "orthogonal", results[1].Document.ID)
	assert.InDelta(t, 1.0, results[1].Distance, 1e-6)
	assert.Equal(t, "opposite", results[2].Document.ID)
	assert.InDelta(t, 2.0, results[2].Distance, 1e-6)
}

func TestSearchMaxDistance(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{
		doc("close", []float32{1, 0.1, 0}),
		doc("far", []float32{0, 1, 0}),
	}))

	results, err := store.Search(ctx, vectorstore.SearchQuery{
		Embedding:   []float32{1, 0, 0},
		TopK:        10,
		MaxDistance: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].Document.ID)
}

func TestSearchMetadataFilter(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := doc("a", []float32{1, 0, 0})
	a.Metadata = map[string]interface{}{"partition": "preferences"}
	b := doc("b", []float32{1, 0, 0})
	b.Metadata = map[string]interface{}{"partition": "corrections"}
	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{a, b}))

	results, err := store.Search(ctx, vectorstore.SearchQuery{
		Embedding: []float32{1, 0, 0},
		TopK:      10,
		Filter: &vectorstore.MetadataFilter{
			Must: map[string]interface{}{"partition": "preferences"},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Document.ID)
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{doc("a", []float32{1, 0, 0})}))
	require.NoError(t, store.Delete(ctx, []string{"a"}))
	assert.Equal(t, 0, store.Count())
}

func TestUpsertResultIsolation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	original := doc("a", []float32{1, 0, 0})
	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{original}))

	// Mutating the caller's copy must not reach the store.
	original.Embedding[0] = 99

	got, err := store.Get(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, float32(1), got[0].Embedding[0])
}

func TestRegistryCreatesMemoryStore(t *testing.T) {
	store, err := vectorstore.New(vectorstore.Config{Provider: "memory", EmbeddingDimensions: 8})
	require.NoError(t, err)
	defer store.Close()
	assert.NotNil(t, store)
}
