package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIEmbeddings implements EmbeddingService against any
// OpenAI-compatible /embeddings endpoint.
type OpenAIEmbeddings struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	client     *http.Client
}

// openAIRequest represents the request format for the embeddings API.
type openAIRequest struct {
	Input      any    `json:"input"`
	Model      string `json:"model"`
	Dimensions *int   `json:"dimensions,omitempty"`
}

// openAIResponse represents the response format from the embeddings API.
type openAIResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func init() {
	Register("openai", NewOpenAI)
}

// NewOpenAI creates a new OpenAIEmbeddings instance. The API key is
// optional so local servers work out of the box.
func NewOpenAI(config Config) (EmbeddingService, error) {
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Endpoint == "" {
		config.Endpoint = "https://api.openai.com/v1"
	}

	dims := getOpenAIModelDimensions(config.Model)
	if config.Dimensions > 0 {
		dims = config.Dimensions
	}

	return &OpenAIEmbeddings{
		apiKey:     config.APIKey,
		model:      config.Model,
		baseURL:    strings.TrimRight(config.Endpoint, "/"),
		dimensions: dims,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Embed generates embeddings for a single text.
func (o *OpenAIEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	reqBody := openAIRequest{
		Input: text,
		Model: o.model,
	}

	// Only text-embedding-3 models honor the dimensions parameter.
	if isTextEmbedding3Model(o.model) && o.dimensions > 0 {
		reqBody.Dimensions = &o.dimensions
	}

	embeddings, err := o.makeRequest(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (o *OpenAIEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}

	reqBody := openAIRequest{
		Input: texts,
		Model: o.model,
	}

	if isTextEmbedding3Model(o.model) && o.dimensions > 0 {
		reqBody.Dimensions = &o.dimensions
	}

	return o.makeRequest(ctx, reqBody)
}

// Dimensions returns the dimension size of the embeddings.
func (o *OpenAIEmbeddings) Dimensions() int {
	return o.dimensions
}

// ModelName returns the name of the embedding model.
func (o *OpenAIEmbeddings) ModelName() string {
	return o.model
}

// Close closes any resources held by the service.
func (o *OpenAIEmbeddings) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// makeRequest makes an HTTP request to the embeddings API.
func (o *OpenAIEmbeddings) makeRequest(ctx context.Context, reqBody openAIRequest) ([][]float32, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/embeddings", o.baseURL)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			return nil, fmt.Errorf("embeddings API error: %s", errorResp.Error.Message)
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Extract embeddings in order with proper validation
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned from API")
	}

	embeddings := make([][]float32, len(apiResp.Data))
	seen := make(map[int]bool, len(apiResp.Data))

	for i, item := range apiResp.Data {
		if item.Embedding == nil {
			return nil, fmt.Errorf("embedding at response index %d is nil", i)
		}
		if item.Index < 0 {
			return nil, fmt.Errorf("invalid negative embedding index: %d", item.Index)
		}
		if item.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index out of bounds: %d (expected 0-%d)", item.Index, len(embeddings)-1)
		}
		if seen[item.Index] {
			return nil, fmt.Errorf("duplicate embedding index: %d", item.Index)
		}
		seen[item.Index] = true

		embeddings[item.Index] = item.Embedding
	}

	// Verify all indices were filled (no gaps)
	for i := range embeddings {
		if !seen[i] {
			return nil, fmt.Errorf("missing embedding at index %d", i)
		}
	}

	return embeddings, nil
}

// getOpenAIModelDimensions returns the default dimensions for known models.
func getOpenAIModelDimensions(model string) int {
	switch model {
	case "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-small":
		return 1536
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// isTextEmbedding3Model checks if the model is a text-embedding-3 model.
// Only these models support custom dimensions.
func isTextEmbedding3Model(model string) bool {
	return model == "text-embedding-3-small" || model == "text-embedding-3-large"
}
