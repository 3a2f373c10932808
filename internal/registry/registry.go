// Package registry holds the handler roster the router chooses from.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Descriptor advertises a handler to the router.
type Descriptor struct {
	// Name is the stable identifier used in routing replies.
	Name string

	// Description is a one-line summary shown to the routing model.
	Description string

	// Examples are sample commands the handler serves (up to 5 reach
	// the routing prompt).
	Examples []string

	// Keywords gate the degraded keyword fallback and the routing
	// cross-check.
	Keywords []string

	// Priority orders handlers; higher wins cross-check overrides.
	Priority int

	// Enabled handlers participate in routing and fallback.
	Enabled bool

	// RoutingAvailable controls whether the handler appears in the
	// routing prompt. Management-only handlers can opt out.
	RoutingAvailable bool
}

// Result is what a handler returns from Execute.
type Result struct {
	// Success reports whether the handler accomplished the command.
	Success bool

	// Response is the user-facing reply text.
	Response string

	// ActionsTaken records the concrete actions performed.
	ActionsTaken []Action
}

// Action records one concrete thing a handler did.
type Action struct {
	// Action describes the operation with enough parameters to repeat it.
	Action map[string]interface{}

	// Result is the outcome text.
	Result string

	// Success reports whether this action succeeded.
	Success bool
}

// Declined reports whether a handler result is a decline: unsuccessful
// with nothing to say and nothing done. The orchestrator falls through
// to conversation in that case.
func (r *Result) Declined() bool {
	return r != nil && !r.Success && r.Response == "" && len(r.ActionsTaken) == 0
}

// ExecContext carries per-command state into handler execution.
type ExecContext struct {
	// Reentrant marks replayed commands (rule actions, corrections).
	Reentrant bool

	// Speak indicates the response will be spoken aloud.
	Speak bool

	// Notify surfaces progress to the UI when non-nil.
	Notify func(message string)
}

// Handler executes commands routed to it.
type Handler interface {
	// Descriptor returns the handler's routing metadata.
	Descriptor() Descriptor

	// CanRoute reports whether the command matches the handler's
	// keywords. Used by the degraded routing fallback.
	CanRoute(command string) bool

	// Execute runs the command.
	Execute(ctx context.Context, command string, ec *ExecContext) (*Result, error)
}

// Registry is a priority-ordered collection of handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	onChange func()
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// OnChange sets a callback invoked whenever the roster changes.
// The router uses it to invalidate its cached prompt.
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register adds a handler. Registering the same name twice is a
// programming error.
func (r *Registry) Register(h Handler) error {
	desc := h.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("handler descriptor has no name")
	}

	r.mu.Lock()
	if _, dup := r.handlers[desc.Name]; dup {
		r.mu.Unlock()
		return fmt.Errorf("handler already registered: %s", desc.Name)
	}
	r.handlers[desc.Name] = h
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	return nil
}

// Get returns the handler with the given name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// All returns every handler sorted by descending priority, name as
// tiebreak.
func (r *Registry) All() []Handler {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	sort.Slice(handlers, func(i, j int) bool {
		di, dj := handlers[i].Descriptor(), handlers[j].Descriptor()
		if di.Priority != dj.Priority {
			return di.Priority > dj.Priority
		}
		return di.Name < dj.Name
	})
	return handlers
}

// Enabled returns enabled handlers in priority order.
func (r *Registry) Enabled() []Handler {
	all := r.All()
	out := all[:0:0]
	for _, h := range all {
		if h.Descriptor().Enabled {
			out = append(out, h)
		}
	}
	return out
}

// KeywordMatcher builds a CanRoute predicate from keywords using
// word-boundary matching.
func KeywordMatcher(keywords []string) func(string) bool {
	patterns := make([]*regexp.Regexp, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw == "" {
			continue
		}
		patterns = append(patterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(kw)+`\b`))
	}
	return func(command string) bool {
		lower := strings.ToLower(command)
		for _, p := range patterns {
			if p.MatchString(lower) {
				return true
			}
		}
		return false
	}
}

// Base provides Descriptor/CanRoute plumbing for handler
// implementations; embed it and supply Execute.
type Base struct {
	Desc    Descriptor
	matcher func(string) bool
	once    sync.Once
}

// Descriptor implements Handler.
func (b *Base) Descriptor() Descriptor { return b.Desc }

// CanRoute implements Handler using word-boundary keyword matching.
func (b *Base) CanRoute(command string) bool {
	b.once.Do(func() {
		b.matcher = KeywordMatcher(b.Desc.Keywords)
	})
	return b.matcher(command)
}
