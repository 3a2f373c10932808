// Package router decides which handler, if any, should serve a command.
//
// Routing is two-tier: a language-model call picks from the roster, and
// a keyword/example cross-check guards against confident nonsense. When
// the model is unreachable the router degrades to pure keyword matching.
package router

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/talonhq/talon/internal/registry"
	"github.com/talonhq/talon/pkg/gateway"
)

// DecisionKind classifies a routing outcome.
type DecisionKind int

const (
	// KindNone means nothing matched; the orchestrator converses
	// without retrieval.
	KindNone DecisionKind = iota
	// KindHandler routes to a named handler.
	KindHandler
	// KindConversation answers conversationally.
	KindConversation
	// KindConversationRAG answers conversationally with document
	// retrieval.
	KindConversationRAG
)

// String names the kind for logs.
func (k DecisionKind) String() string {
	switch k {
	case KindHandler:
		return "handler"
	case KindConversation:
		return "conversation"
	case KindConversationRAG:
		return "conversation_rag"
	default:
		return "none"
	}
}

// Literal routing tokens the model may reply with in place of a handler
// name.
const (
	tokenConversation   = "conversation"
	tokenDocumentSearch = "document_search"
)

// Routing model call settings: near-deterministic and tiny.
const (
	routingTemperature = 0.1
	routingMaxTokens   = 20
)

// Decision is the routing outcome for one command.
type Decision struct {
	Kind    DecisionKind
	Handler string

	// Degraded marks decisions made without the model.
	Degraded bool
}

// Router picks handlers for commands.
type Router struct {
	reg *registry.Registry
	gw  gateway.Gateway

	mu           sync.Mutex
	cachedPrompt string
}

// New creates a Router and hooks roster changes to cache invalidation.
func New(reg *registry.Registry, gw gateway.Gateway) *Router {
	r := &Router{reg: reg, gw: gw}
	reg.OnChange(r.InvalidateCache)
	return r
}

// InvalidateCache drops the cached roster prompt. Safe to call at any
// time, including when the cache is already empty.
func (r *Router) InvalidateCache() {
	r.mu.Lock()
	r.cachedPrompt = ""
	r.mu.Unlock()
}

// Route decides how to serve a command.
func (r *Router) Route(ctx context.Context, command string) Decision {
	prompt := r.rosterPrompt()

	reply := r.gw.Generate(ctx, command,
		gateway.WithSystem(prompt),
		gateway.WithTemperature(routingTemperature),
		gateway.WithMaxTokens(routingMaxTokens),
	)

	token := normalizeToken(reply)
	if token == "" || gateway.IsError(reply) {
		log.Printf("[Router] model unavailable, degrading to keyword routing")
		return r.degraded(command)
	}

	switch token {
	case tokenConversation:
		return Decision{Kind: KindConversation}
	case tokenDocumentSearch:
		return Decision{Kind: KindConversationRAG}
	}

	named, ok := r.reg.Get(token)
	if !ok || !named.Descriptor().Enabled {
		log.Printf("[Router] model proposed unknown handler %q, degrading", token)
		return r.degraded(command)
	}

	if crossCheck(named, command) {
		return Decision{Kind: KindHandler, Handler: token}
	}

	// The named handler failed the cross-check. A higher-priority
	// handler that does pass takes the command instead.
	namedPriority := named.Descriptor().Priority
	for _, h := range r.reg.Enabled() {
		desc := h.Descriptor()
		if desc.Priority <= namedPriority {
			break
		}
		if !desc.RoutingAvailable {
			continue
		}
		if crossCheck(h, command) {
			log.Printf("[Router] cross-check override: %s -> %s", token, desc.Name)
			return Decision{Kind: KindHandler, Handler: desc.Name}
		}
	}

	// Nothing passed; trust the model.
	return Decision{Kind: KindHandler, Handler: token}
}

// degraded is keyword-only routing for when the model is unreachable or
// incoherent.
func (r *Router) degraded(command string) Decision {
	for _, h := range r.reg.Enabled() {
		if !h.Descriptor().RoutingAvailable {
			continue
		}
		if h.CanRoute(command) {
			return Decision{Kind: KindHandler, Handler: h.Descriptor().Name, Degraded: true}
		}
	}
	return Decision{Kind: KindNone, Degraded: true}
}

// rosterPrompt builds (and caches) the routing system prompt.
func (r *Router) rosterPrompt() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cachedPrompt != "" {
		return r.cachedPrompt
	}

	var b strings.Builder
	b.WriteString("You route commands for a personal desktop assistant. ")
	b.WriteString("Reply with exactly one token: the name of the best handler, ")
	b.WriteString("\"document_search\" if the user is asking about their saved documents or notes, ")
	b.WriteString("or \"conversation\" for general chat.\n\nHandlers:\n")

	for _, h := range r.reg.Enabled() {
		desc := h.Descriptor()
		if !desc.RoutingAvailable {
			continue
		}
		b.WriteString("- ")
		b.WriteString(desc.Name)
		b.WriteString(": ")
		b.WriteString(desc.Description)
		b.WriteString("\n")

		if len(desc.Examples) > 0 {
			n := len(desc.Examples)
			if n > 5 {
				n = 5
			}
			b.WriteString("  examples: ")
			b.WriteString(strings.Join(desc.Examples[:n], "; "))
			b.WriteString("\n")
		} else if len(desc.Keywords) > 0 {
			b.WriteString("  keywords: ")
			b.WriteString(strings.Join(desc.Keywords, ", "))
			b.WriteString("\n")
		}
	}

	r.cachedPrompt = b.String()
	return r.cachedPrompt
}

// normalizeToken reduces a model reply to a lowercase handler token.
func normalizeToken(reply string) string {
	if gateway.IsError(reply) {
		return ""
	}
	reply = strings.TrimSpace(reply)
	if idx := strings.IndexAny(reply, "\r\n"); idx >= 0 {
		reply = reply[:idx]
	}
	reply = strings.Trim(reply, "\"'`.,:;!? ")
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// crossCheck verifies that a command plausibly belongs to a handler: a
// word-boundary keyword hit, or at least two shared content terms with
// one of the handler's examples.
func crossCheck(h registry.Handler, command string) bool {
	if h.CanRoute(command) {
		return true
	}

	cmdTerms := contentTerms(command)
	if len(cmdTerms) == 0 {
		return false
	}
	for _, example := range h.Descriptor().Examples {
		shared := 0
		for term := range contentTerms(example) {
			if cmdTerms[term] {
				shared++
				if shared >= 2 {
					return true
				}
			}
		}
	}
	return false
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "could": true,
	"do": true, "does": true, "for": true, "from": true, "go": true,
	"had": true, "has": true, "have": true, "he": true, "her": true,
	"his": true, "how": true, "i": true, "if": true, "in": true, "is": true,
	"it": true, "its": true, "just": true, "me": true, "my": true,
	"no": true, "not": true, "of": true, "on": true, "or": true,
	"our": true, "out": true, "please": true, "she": true, "so": true,
	"some": true, "that": true, "the": true, "their": true, "them": true,
	"then": true, "there": true, "they": true, "this": true, "to": true,
	"up": true, "us": true, "was": true, "we": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"will": true, "with": true, "would": true, "you": true, "your": true,
}

func contentTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if f == "" || stopwords[f] {
			continue
		}
		terms[f] = true
	}
	return terms
}
