package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "talon.yaml")

	data := `
gateway:
  provider: openai
  endpoint: http://localhost:9999/v1
  model: qwen2.5
  temperature: 0.4
embeddings:
  provider: hashing
  dimensions: 128
conversation:
  buffer_turns: 8
chat_history:
  backend: file
  dir: /tmp/talon-chat
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Gateway.Provider)
	assert.Equal(t, "http://localhost:9999/v1", cfg.Gateway.Endpoint)
	assert.Equal(t, "qwen2.5", cfg.Gateway.Model)
	assert.Equal(t, 0.4, cfg.Gateway.Temperature)
	assert.Equal(t, 128, cfg.Embeddings.Dimensions)
	assert.Equal(t, 8, cfg.Conversation.BufferTurns)
	assert.Equal(t, "/tmp/talon-chat", cfg.ChatHistory.Dir)

	// Defaults fill the gaps.
	assert.Equal(t, 512, cfg.Gateway.MaxTokens)
	assert.Equal(t, "data/talon.db", cfg.Memory.DBPath)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/talon.yaml")
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "openai", cfg.Gateway.Provider)
	assert.Equal(t, 16, cfg.Conversation.BufferTurns)
	assert.Equal(t, "hashing", cfg.Embeddings.Provider)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"unknown gateway", func(c *Config) { c.Gateway.Provider = "bedrock" }, true},
		{"gemini without key", func(c *Config) {
			c.Gateway.Provider = "gemini"
			c.Gateway.APIKey = ""
		}, true},
		{"tiny buffer", func(c *Config) { c.Conversation.BufferTurns = 1 }, true},
		{"unknown embedder", func(c *Config) { c.Embeddings.Provider = "word2vec" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
