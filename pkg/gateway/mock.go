package gateway

import (
	"context"
	"sync"
)

func init() {
	Register("mock", func(config Config) (Gateway, error) {
		return NewMock(), nil
	})
}

// Mock is a scripted backend for tests and offline runs. Replies are
// consumed in order; when the script runs out it falls back to Default.
type Mock struct {
	mu      sync.Mutex
	script  []string
	Default string

	// Calls records every prompt seen, most recent last.
	Calls []Call
}

// Call captures one Generate invocation.
type Call struct {
	Prompt  string
	Options Options
}

// NewMock builds an empty mock gateway.
func NewMock() *Mock {
	return &Mock{Default: "ok"}
}

// Enqueue appends replies to the script.
func (g *Mock) Enqueue(replies ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = append(g.script, replies...)
}

// Name implements Gateway.
func (g *Mock) Name() string { return "mock" }

// Generate implements Gateway.
func (g *Mock) Generate(ctx context.Context, prompt string, opts ...Option) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Calls = append(g.Calls, Call{Prompt: prompt, Options: ApplyOptions(opts...)})

	if len(g.script) > 0 {
		reply := g.script[0]
		g.script = g.script[1:]
		return reply
	}
	return g.Default
}

// CallCount returns the number of Generate invocations so far.
func (g *Mock) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// LastPrompt returns the most recent prompt, or "" when none.
func (g *Mock) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Calls) == 0 {
		return ""
	}
	return g.Calls[len(g.Calls)-1].Prompt
}
