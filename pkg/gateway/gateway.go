// Package gateway provides a uniform front to language-model backends.
//
// A Gateway never returns a Go error from Generate: failures come back as
// reply strings prefixed "Error:" so callers can degrade instead of abort.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrorPrefix marks a gateway reply that represents a failure.
const ErrorPrefix = "Error:"

// Gateway is the language-model surface the rest of the system talks to.
type Gateway interface {
	// Generate produces a completion for the prompt. Failures are
	// reported as replies prefixed with ErrorPrefix, never as panics.
	Generate(ctx context.Context, prompt string, opts ...Option) string

	// Name identifies the backend (openai, gemini, mock).
	Name() string
}

// Options carries per-call generation settings.
type Options struct {
	// System is the system prompt. Empty means backend default.
	System string

	// Temperature overrides the configured sampling temperature when
	// non-nil.
	Temperature *float64

	// MaxTokens overrides the configured generation cap when > 0.
	MaxTokens int
}

// Option mutates Options.
type Option func(*Options)

// WithSystem sets the system prompt for this call.
func WithSystem(system string) Option {
	return func(o *Options) { o.System = system }
}

// WithTemperature overrides the sampling temperature for this call.
func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = &t }
}

// WithMaxTokens overrides the generation cap for this call.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// ApplyOptions folds opts into a fresh Options value.
func ApplyOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// IsError reports whether a gateway reply is a failure string.
func IsError(reply string) bool {
	return strings.HasPrefix(reply, ErrorPrefix)
}

// Errorf builds a failure reply in the gateway contract format.
func Errorf(format string, args ...interface{}) string {
	return ErrorPrefix + " " + fmt.Sprintf(format, args...)
}

// Config holds settings shared by all backends.
type Config struct {
	// Provider selects the registered backend.
	Provider string

	// Endpoint is the base URL for HTTP backends.
	Endpoint string

	// APIKey authenticates against the backend.
	APIKey string

	// Model is the model identifier sent with each request.
	Model string

	// Temperature is the default sampling temperature.
	Temperature float64

	// MaxTokens is the default generation cap.
	MaxTokens int

	// Timeout bounds a single call.
	Timeout time.Duration
}

// ProviderFactory is a function that creates a Gateway from a Config.
type ProviderFactory func(config Config) (Gateway, error)

var (
	registry = make(map[string]ProviderFactory)
	mu       sync.RWMutex
)

// Register adds a new gateway backend to the registry.
// This allows you to add custom backend implementations.
func Register(name string, factory ProviderFactory) {
	mu.Lock()
	defer mu.Unlock()

	if factory == nil {
		panic("gateway: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("gateway: Register called twice for provider " + name)
	}
	registry[name] = factory
}

// New creates a Gateway for the provider named in the config.
func New(config Config) (Gateway, error) {
	mu.RLock()
	factory, ok := registry[config.Provider]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown gateway provider: %s (available: %v)", config.Provider, ListProviders())
	}

	return factory(config)
}

// ListProviders returns all registered backend names.
func ListProviders() []string {
	mu.RLock()
	defer mu.RUnlock()

	providers := make([]string, 0, len(registry))
	for name := range registry {
		providers = append(providers, name)
	}
	return providers
}
