package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"
)

func init() {
	Register("gemini", func(config Config) (Gateway, error) {
		return NewGemini(config)
	})
}

// Gemini talks to the Gemini API.
type Gemini struct {
	client *genai.Client
	config Config
}

// NewGemini builds the backend from config.
func NewGemini(config Config) (*Gemini, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini gateway requires an API key")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, config: config}, nil
}

// Name implements Gateway.
func (g *Gemini) Name() string { return "gemini" }

// Generate implements Gateway.
func (g *Gemini) Generate(ctx context.Context, prompt string, opts ...Option) string {
	o := ApplyOptions(opts...)

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	temperature := g.config.Temperature
	if o.Temperature != nil {
		temperature = *o.Temperature
	}
	maxTokens := g.config.MaxTokens
	if o.MaxTokens > 0 {
		maxTokens = o.MaxTokens
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if o.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(o.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.config.Model, genai.Text(prompt), cfg)
	if err != nil {
		log.Printf("[Gateway] gemini call failed: %v", err)
		return Errorf("language model unavailable: %v", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Errorf("language model returned an empty response")
	}
	return text
}
