// Package corrections turns "no, I meant ..." into a replayed command
// and a remembered (misunderstood, corrected) pair.
package corrections

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/talonhq/talon/internal/conversation"
	"github.com/talonhq/talon/internal/knowledge"
	"github.com/talonhq/talon/pkg/gateway"
)

// correctionPhrases open a correction. Longest first so prefix
// stripping never matches a substring phrase early.
var correctionPhrases = []string{
	"that's not what i meant",
	"no, i said",
	"no i meant",
	"that's wrong",
	"i meant",
	"not that",
}

// countMaxDistance is the cosine-distance cutoff for counting
// structurally similar past corrections.
const countMaxDistance = 0.60

// suggestionCadence appends a rule suggestion on every Nth similar
// correction.
const suggestionCadence = 3

// Outcome is what handling a correction produced.
type Outcome struct {
	// Response is the user-facing reply (replayed response, possibly
	// with a rule suggestion, or a clarification request).
	Response string

	// Corrected is the command that was replayed, empty when
	// clarification was requested.
	Corrected string

	// Success mirrors the replayed command's outcome.
	Success bool
}

// ReplayFunc re-enters the orchestrator with a corrected command.
// Speech is suppressed and the call is marked re-entrant by the caller.
type ReplayFunc func(ctx context.Context, command string) (response string, success bool, err error)

// Store is the slice of the knowledge store corrections need.
type Store interface {
	StoreCorrection(ctx context.Context, c knowledge.Correction) (*knowledge.Correction, error)
	CountSimilarCorrections(ctx context.Context, original string, maxDistance float32) (int, error)
}

// Manager detects and handles corrections.
type Manager struct {
	gw    gateway.Gateway
	store Store
}

// New creates a correction manager.
func New(gw gateway.Gateway, store Store) *Manager {
	return &Manager{gw: gw, store: store}
}

// IsCorrection reports whether a command contains a correction phrase.
func (m *Manager) IsCorrection(command string) bool {
	lower := strings.ToLower(strings.TrimSpace(command))
	for _, phrase := range correctionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Handle resolves the corrected command, replays it, and persists the
// correction. turns is the current conversation buffer, oldest first.
func (m *Manager) Handle(ctx context.Context, command string, turns []conversation.Turn, replay ReplayFunc) (*Outcome, error) {
	prevUser, prevAgent := lastExchange(turns)

	corrected := m.stripPrefix(command)
	if corrected == "" {
		corrected = m.infer(ctx, command, prevUser, prevAgent)
	}
	if corrected == "" {
		return &Outcome{
			Response: "Sorry about that. What did you mean for me to do?",
		}, nil
	}

	response, success, err := replay(ctx, corrected)
	if err != nil {
		return nil, fmt.Errorf("failed to replay corrected command: %w", err)
	}

	if prevUser != "" {
		if _, err := m.store.StoreCorrection(ctx, knowledge.Correction{
			OriginalCommand:  prevUser,
			OriginalResponse: prevAgent,
			CorrectedCommand: corrected,
		}); err != nil {
			log.Printf("[Corrections] failed to store correction: %v", err)
		} else if suggestion := m.ruleSuggestion(ctx, prevUser, corrected); suggestion != "" {
			response += "\n\n" + suggestion
		}
	}

	return &Outcome{Response: response, Corrected: corrected, Success: success}, nil
}

// stripPrefix removes the correction phrase and returns the remainder
// when it still reads like a command (at least two words).
func (m *Manager) stripPrefix(command string) string {
	trimmed := strings.TrimSpace(command)
	lower := strings.ToLower(trimmed)

	for _, phrase := range correctionPhrases {
		if !strings.HasPrefix(lower, phrase) {
			continue
		}
		rest := strings.TrimSpace(trimmed[len(phrase):])
		rest = strings.TrimLeft(rest, ",.:;- ")
		if len(strings.Fields(rest)) >= 2 {
			return rest
		}
		return ""
	}
	return ""
}

// infer asks the model what the user actually wanted, given the
// misunderstood exchange.
func (m *Manager) infer(ctx context.Context, command, prevUser, prevAgent string) string {
	if prevUser == "" {
		return ""
	}

	prompt := fmt.Sprintf(
		"The user corrected the assistant.\n\nUser said: %s\nAssistant replied: %s\nUser then said: %s\n\n"+
			"Reply with only the command the user actually wanted, as they would phrase it. "+
			"If you cannot tell, reply with exactly: unknown",
		prevUser, prevAgent, command)

	reply := m.gw.Generate(ctx, prompt,
		gateway.WithTemperature(0.2),
		gateway.WithMaxTokens(60),
	)
	if gateway.IsError(reply) {
		log.Printf("[Corrections] inference failed: %s", reply)
		return ""
	}

	reply = strings.TrimSpace(strings.Trim(reply, "\"'"))
	if reply == "" || strings.EqualFold(reply, "unknown") {
		return ""
	}
	return reply
}

// ruleSuggestion offers a rule after every third similar correction.
func (m *Manager) ruleSuggestion(ctx context.Context, original, corrected string) string {
	count, err := m.store.CountSimilarCorrections(ctx, original, countMaxDistance)
	if err != nil {
		log.Printf("[Corrections] failed to count similar corrections: %v", err)
		return ""
	}
	if count == 0 || count%suggestionCadence != 0 {
		return ""
	}
	return fmt.Sprintf(
		"I've misunderstood commands like %q a few times now. You can say %q to make that automatic.",
		original, fmt.Sprintf("whenever I say %s, %s", original, corrected))
}

// lastExchange returns the most recent (user, agent) pair in the buffer.
func lastExchange(turns []conversation.Turn) (user, agent string) {
	for i := len(turns) - 1; i >= 1; i-- {
		if turns[i].Role == conversation.RoleAgent && turns[i-1].Role == conversation.RoleUser {
			return turns[i-1].Text, turns[i].Text
		}
	}
	return "", ""
}
