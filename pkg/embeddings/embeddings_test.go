package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"missing provider", Config{}, true},
		{"hashing needs dims", Config{Provider: "hashing"}, true},
		{"hashing ok", Config{Provider: "hashing", Dimensions: 64}, false},
		{"openai ok", Config{Provider: "openai"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "word2vec", Dimensions: 64})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embedding provider")
}

func TestHashingDeterministic(t *testing.T) {
	svc, err := New(Config{Provider: "hashing", Dimensions: 64})
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()
	a, err := svc.Embed(ctx, "open the garage door")
	require.NoError(t, err)
	b, err := svc.Embed(ctx, "open the garage door")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// Unit norm.
	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestHashingSimilarityOrdering(t *testing.T) {
	svc, err := NewHashing(Config{Dimensions: 256})
	require.NoError(t, err)

	ctx := context.Background()
	query, _ := svc.Embed(ctx, "play some jazz music")
	near, _ := svc.Embed(ctx, "play jazz music please")
	far, _ := svc.Embed(ctx, "schedule a dentist appointment tomorrow")

	assert.Greater(t, dot(query, near), dot(query, far))
}

func TestHashingRejectsEmpty(t *testing.T) {
	svc, _ := NewHashing(Config{Dimensions: 16})
	_, err := svc.Embed(context.Background(), "   ")
	assert.Error(t, err)

	_, err = svc.EmbedBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestOpenAICompatibleServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := openAIResponse{}
		resp.Data = append(resp.Data, struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{Object: "embedding", Embedding: []float32{0.1, 0.2, 0.3}, Index: 0})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	svc, err := New(Config{
		Provider: "openai",
		Endpoint: server.URL + "/v1",
		Model:    "nomic-embed-text",
	})
	require.NoError(t, err)
	defer svc.Close()

	vec, err := svc.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOpenAIServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"model not loaded"}}`))
	}))
	defer server.Close()

	svc, err := NewOpenAI(Config{Endpoint: server.URL, Model: "nomic-embed-text"})
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return math.Round(sum*1e9) / 1e9
}
