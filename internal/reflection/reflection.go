// Package reflection summarizes a session into durable preferences and
// a stored summary, and fades the last summary into the next session's
// opening prompts.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/talonhq/talon/internal/knowledge"
	"github.com/talonhq/talon/pkg/gateway"
)

const (
	// minSessionCommands gates reflection: fewer and there is nothing
	// worth summarizing.
	minSessionCommands = 3

	// transcriptLimit caps how many commands enter the transcript.
	transcriptLimit = 40

	// responseTruncate caps each response line in the transcript.
	responseTruncate = 80
)

// triggerPhrases request reflection conversationally.
var triggerPhrases = []string{
	"reflect on this session",
	"summarize this session",
	"session summary",
}

// Summary is the structured shape the model replies with.
type Summary struct {
	Summary     string   `json:"summary"`
	Preferences []string `json:"preferences"`
	Failures    []string `json:"failures"`
	Shortcuts   []string `json:"shortcuts"`
}

// Store is the slice of the knowledge store reflection needs.
type Store interface {
	SessionCommandCount(ctx context.Context, sessionID string) (int, error)
	SessionCommands(ctx context.Context, sessionID string, limit int) ([]knowledge.CommandRecord, error)
	StorePreference(ctx context.Context, text, source string) error
	StoreSessionReflection(ctx context.Context, sessionID, summaryJSON string) error
	LastSessionReflection(ctx context.Context) (*knowledge.Reflection, error)
}

// Reflector produces session reflections.
type Reflector struct {
	gw    gateway.Gateway
	store Store
}

// New creates a reflector.
func New(gw gateway.Gateway, store Store) *Reflector {
	return &Reflector{gw: gw, store: store}
}

// IsReflectionRequest reports whether a command asks for reflection.
func IsReflectionRequest(command string) bool {
	lower := strings.ToLower(command)
	for _, phrase := range triggerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Reflect summarizes the session. Sessions with fewer than three
// commands get a short notice and touch nothing else.
func (r *Reflector) Reflect(ctx context.Context, sessionID string) (string, error) {
	count, err := r.store.SessionCommandCount(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to count session commands: %w", err)
	}
	if count < minSessionCommands {
		return "Not much has happened this session yet, nothing to reflect on.", nil
	}

	commands, err := r.store.SessionCommands(ctx, sessionID, transcriptLimit)
	if err != nil {
		return "", fmt.Errorf("failed to load session transcript: %w", err)
	}

	transcript := buildTranscript(commands)
	prompt := "Here is a transcript of an assistant session:\n\n" + transcript + "\n\n" +
		"Reply with only JSON: {\"summary\": \"one paragraph\", " +
		"\"preferences\": [\"durable user preferences observed\"], " +
		"\"failures\": [\"things that went wrong\"], " +
		"\"shortcuts\": [\"automations worth suggesting\"]}"

	reply := r.gw.Generate(ctx, prompt,
		gateway.WithTemperature(0.3),
		gateway.WithMaxTokens(500),
	)
	if gateway.IsError(reply) {
		return "", fmt.Errorf("reflection call failed: %s", reply)
	}

	summary := parseSummary(reply)

	for _, pref := range summary.Preferences {
		pref = strings.TrimSpace(pref)
		if pref == "" {
			continue
		}
		if err := r.store.StorePreference(ctx, pref, "reflection"); err != nil {
			log.Printf("[Reflect] failed to store preference: %v", err)
		}
	}

	encoded, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to encode reflection: %w", err)
	}
	if err := r.store.StoreSessionReflection(ctx, sessionID, string(encoded)); err != nil {
		return "", fmt.Errorf("failed to store reflection: %w", err)
	}

	return summary.Summary, nil
}

// LastSummary returns the latest stored reflection summary, or "" when
// none exists.
func (r *Reflector) LastSummary(ctx context.Context) string {
	ref, err := r.store.LastSessionReflection(ctx)
	if err != nil {
		return ""
	}
	var summary Summary
	if err := json.Unmarshal([]byte(ref.SummaryJSON), &summary); err != nil {
		return ""
	}
	return summary.Summary
}

// buildTranscript renders commands as status-glyph lines.
func buildTranscript(commands []knowledge.CommandRecord) string {
	var b strings.Builder
	for _, c := range commands {
		glyph := "✗"
		if c.Success {
			glyph = "✓"
		}
		response := c.Response
		if runes := []rune(response); len(runes) > responseTruncate {
			response = string(runes[:responseTruncate]) + "…"
		}
		fmt.Fprintf(&b, "%s %s -> %s\n", glyph, c.Command, response)
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseSummary decodes the model reply defensively: fenced or prose-
// wrapped JSON is tolerated, and unparseable replies become a bare
// summary with no preferences.
func parseSummary(reply string) Summary {
	var summary Summary
	text := extractJSON(reply)
	if err := json.Unmarshal([]byte(text), &summary); err != nil || strings.TrimSpace(summary.Summary) == "" {
		return Summary{Summary: strings.TrimSpace(reply)}
	}
	return summary
}

func extractJSON(reply string) string {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return reply
	}
	return reply[start : end+1]
}
