package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Gateway configures the language-model gateway
	Gateway GatewayConfig `yaml:"gateway"`

	// Embeddings configures the embedding service
	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	// Memory configures the knowledge store
	Memory MemoryConfig `yaml:"memory"`

	// Conversation configures the in-process conversation buffer
	Conversation ConversationConfig `yaml:"conversation"`

	// Reflection configures automatic session reflection
	Reflection ReflectionConfig `yaml:"reflection"`

	// ChatHistory configures durable chat history persistence
	ChatHistory ChatHistoryConfig `yaml:"chat_history"`

	// MetricsAddr is the listen address for the metrics/health server.
	// Empty disables the server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// GatewayConfig holds language-model gateway settings
type GatewayConfig struct {
	// Provider selects the backend: openai, gemini, mock
	Provider string `yaml:"provider"`

	// Endpoint is the base URL for OpenAI-compatible servers
	// (llama.cpp server, vLLM, or api.openai.com)
	Endpoint string `yaml:"endpoint"`

	// APIKey for the backend. Falls back to OPENAI_API_KEY or
	// GOOGLE_API_KEY depending on the provider.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier sent with each request
	Model string `yaml:"model"`

	// Temperature is the default sampling temperature
	Temperature float64 `yaml:"temperature"`

	// MaxTokens is the default generation cap
	MaxTokens int `yaml:"max_tokens"`

	// Timeout bounds a single generation call
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond rate-limits gateway calls. 0 disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the rate-limiter burst size
	Burst int `yaml:"burst"`
}

// EmbeddingsConfig holds embedding service settings
type EmbeddingsConfig struct {
	// Provider selects the embedder: openai, hashing
	Provider string `yaml:"provider"`

	// Endpoint is the base URL for an OpenAI-compatible embeddings API
	Endpoint string `yaml:"endpoint"`

	// APIKey for the endpoint (optional for local servers)
	APIKey string `yaml:"api_key"`

	// Model is the embedding model name
	Model string `yaml:"model"`

	// Dimensions is the embedding width. Required for the hashing provider.
	Dimensions int `yaml:"dimensions"`
}

// MemoryConfig holds knowledge-store settings
type MemoryConfig struct {
	// DBPath is the SQLite database file for the relational log
	DBPath string `yaml:"db_path"`
}

// ConversationConfig holds conversation-buffer settings
type ConversationConfig struct {
	// BufferTurns is the buffer capacity in turns (two per exchange)
	BufferTurns int `yaml:"buffer_turns"`
}

// ReflectionConfig holds session-reflection settings
type ReflectionConfig struct {
	// Schedule is an optional cron expression for automatic reflection,
	// e.g. "0 22 * * *". Empty disables the schedule.
	Schedule string `yaml:"schedule"`
}

// ChatHistoryConfig holds chat-history persistence settings
type ChatHistoryConfig struct {
	// Backend selects the storage backend: file, redis, or empty (off)
	Backend string `yaml:"backend"`

	// Dir is the base directory for the file backend
	Dir string `yaml:"dir"`

	// RedisAddr is the host:port for the redis backend
	RedisAddr string `yaml:"redis_addr"`

	// RedisPassword authenticates the redis backend
	RedisPassword string `yaml:"redis_password"`

	// RedisDB is the redis database number
	RedisDB int `yaml:"redis_db"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// DefaultConfig returns a configuration with all defaults applied, suitable
// for running against a local OpenAI-compatible server without a config file.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Gateway.Provider {
	case "openai", "mock":
	case "gemini":
		if c.Gateway.APIKey == "" {
			return fmt.Errorf("gemini gateway requires an API key")
		}
	default:
		return fmt.Errorf("unknown gateway provider: %s", c.Gateway.Provider)
	}

	switch c.Embeddings.Provider {
	case "openai", "hashing":
	default:
		return fmt.Errorf("unknown embeddings provider: %s", c.Embeddings.Provider)
	}

	if c.Conversation.BufferTurns < 2 {
		return fmt.Errorf("buffer_turns must be at least 2")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Gateway.Provider == "" {
		c.Gateway.Provider = "openai"
	}
	if c.Gateway.Endpoint == "" {
		c.Gateway.Endpoint = "http://localhost:8080/v1"
	}
	if c.Gateway.Model == "" {
		c.Gateway.Model = "local"
	}
	if c.Gateway.Temperature == 0 {
		c.Gateway.Temperature = 0.7
	}
	if c.Gateway.MaxTokens == 0 {
		c.Gateway.MaxTokens = 512
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 120 * time.Second
	}
	if c.Gateway.Burst == 0 {
		c.Gateway.Burst = 1
	}

	// Load API keys from environment if not in config
	if c.Gateway.APIKey == "" {
		switch c.Gateway.Provider {
		case "gemini":
			c.Gateway.APIKey = os.Getenv("GOOGLE_API_KEY")
		default:
			c.Gateway.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "hashing"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "text-embedding-3-small"
	}
	if c.Embeddings.Dimensions == 0 {
		c.Embeddings.Dimensions = 384
	}
	if c.Embeddings.APIKey == "" {
		c.Embeddings.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if c.Memory.DBPath == "" {
		c.Memory.DBPath = "data/talon.db"
	}
	if c.Conversation.BufferTurns == 0 {
		c.Conversation.BufferTurns = 16
	}
	if c.ChatHistory.Dir == "" {
		c.ChatHistory.Dir = "data/chat"
	}
	if c.ChatHistory.RedisAddr == "" {
		c.ChatHistory.RedisAddr = "localhost:6379"
	}
}
