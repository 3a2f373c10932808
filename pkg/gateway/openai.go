package gateway

import (
	"context"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

func init() {
	Register("openai", func(config Config) (Gateway, error) {
		return NewOpenAI(config)
	})
}

// OpenAI talks to any OpenAI-compatible chat completion endpoint:
// api.openai.com, a llama.cpp server, vLLM, LM Studio.
type OpenAI struct {
	client OpenAIClient
	config Config
}

// OpenAIClient is the subset of the SDK client used here, extracted so
// tests can substitute a fake.
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAI builds the backend from config. Local servers usually accept
// any non-empty API key.
func NewOpenAI(config Config) (*OpenAI, error) {
	key := config.APIKey
	if key == "" {
		key = "none"
	}
	cc := openai.DefaultConfig(key)
	if config.Endpoint != "" {
		cc.BaseURL = strings.TrimRight(config.Endpoint, "/")
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cc),
		config: config,
	}, nil
}

// NewOpenAIWithClient builds the backend around an existing client.
// Used by tests to inject a fake.
func NewOpenAIWithClient(client OpenAIClient, config Config) *OpenAI {
	return &OpenAI{client: client, config: config}
}

// Name implements Gateway.
func (g *OpenAI) Name() string { return "openai" }

// Generate implements Gateway.
func (g *OpenAI) Generate(ctx context.Context, prompt string, opts ...Option) string {
	o := ApplyOptions(opts...)

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if o.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	temperature := g.config.Temperature
	if o.Temperature != nil {
		temperature = *o.Temperature
	}
	maxTokens := g.config.MaxTokens
	if o.MaxTokens > 0 {
		maxTokens = o.MaxTokens
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.config.Model,
		Messages:    messages,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	})
	if err != nil {
		log.Printf("[Gateway] openai call failed: %v", err)
		return Errorf("language model unavailable: %v", err)
	}
	if len(resp.Choices) == 0 {
		return Errorf("language model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}
