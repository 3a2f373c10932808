// Package rules learns "whenever I say X, do Y" automations and matches
// commands against stored triggers.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/talonhq/talon/internal/knowledge"
	"github.com/talonhq/talon/pkg/gateway"
	"github.com/talonhq/talon/pkg/security"
)

// ErrInjectionRejected is returned when a proposed rule action matches
// the prompt-injection pattern table. Nothing is stored.
var ErrInjectionRejected = errors.New("rules: action rejected by injection screening")

// Adaptive match cutoffs in cosine distance. Longer commands carry more
// signal and can afford a tighter cutoff.
const (
	shortCommandWords       = 5
	shortCommandMaxDistance = 0.8
	longCommandMaxDistance  = 0.6
)

// indicatorPhrases gate rule detection before any model call.
var indicatorPhrases = []string{
	"whenever i say",
	"if i say",
	"every time i say",
	"when i say",
}

// Store is the slice of the knowledge store the engine needs.
type Store interface {
	AddRule(ctx context.Context, trigger, action string) (*knowledge.Rule, error)
	MatchRule(ctx context.Context, command string, maxDistance float32) (*knowledge.RuleMatch, error)
	ListRules(ctx context.Context) ([]knowledge.Rule, error)
	ToggleRule(ctx context.Context, id int64, enabled bool) error
	DeleteRule(ctx context.Context, id int64) error
}

// Engine detects, stores, and matches rules.
type Engine struct {
	gw       gateway.Gateway
	store    Store
	detector *security.PromptInjectionDetector
}

// New creates a rule engine.
func New(gw gateway.Gateway, store Store) *Engine {
	return &Engine{
		gw:       gw,
		store:    store,
		detector: security.NewPromptInjectionDetector(security.SensitivityMedium),
	}
}

// HasRuleIntent reports whether a command contains a rule indicator
// phrase. Only then is the model consulted.
func (e *Engine) HasRuleIntent(command string) bool {
	lower := strings.ToLower(command)
	for _, phrase := range indicatorPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ruleJudgment is the constrained shape the model replies with.
type ruleJudgment struct {
	IsRule  bool   `json:"is_rule"`
	Trigger string `json:"trigger"`
	Action  string `json:"action"`
}

// Learn asks the model to extract a rule from a command and stores it.
// Returns (nil, nil) when the command turns out not to define a rule;
// malformed model output is discarded the same way. Actions that match
// the injection pattern table return ErrInjectionRejected.
func (e *Engine) Learn(ctx context.Context, command string) (*knowledge.Rule, error) {
	prompt := "The user may be defining an automation rule of the form " +
		"\"when I say <trigger>, do <action>\".\n\nUser: " + command + "\n\n" +
		`Reply with only JSON: {"is_rule": bool, "trigger": "...", "action": "..."}`

	reply := e.gw.Generate(ctx, prompt,
		gateway.WithTemperature(0.1),
		gateway.WithMaxTokens(200),
	)
	if gateway.IsError(reply) {
		log.Printf("[Rules] judgment call failed: %s", reply)
		return nil, nil
	}

	var judgment ruleJudgment
	if err := json.Unmarshal([]byte(extractJSON(reply)), &judgment); err != nil {
		log.Printf("[Rules] discarding malformed judgment: %v", err)
		return nil, nil
	}

	judgment.Trigger = strings.TrimSpace(judgment.Trigger)
	judgment.Action = strings.TrimSpace(judgment.Action)
	if !judgment.IsRule || judgment.Trigger == "" || judgment.Action == "" {
		return nil, nil
	}

	if result := e.detector.Detect(judgment.Action); result.Detected {
		log.Printf("[Rules] rejecting rule action (%s): %v", result.Category, result.MatchedPatterns)
		return nil, ErrInjectionRejected
	}

	rule, err := e.store.AddRule(ctx, judgment.Trigger, judgment.Action)
	if err != nil {
		return nil, err
	}
	log.Printf("[Rules] learned rule %d: %q -> %q", rule.ID, rule.Trigger, rule.Action)
	return rule, nil
}

// Match finds the stored rule nearest to the command under the adaptive
// cutoff, or knowledge.ErrNotFound.
func (e *Engine) Match(ctx context.Context, command string) (*knowledge.RuleMatch, error) {
	cutoff := float32(longCommandMaxDistance)
	if len(strings.Fields(command)) < shortCommandWords {
		cutoff = shortCommandMaxDistance
	}
	return e.store.MatchRule(ctx, command, cutoff)
}

// List returns all stored rules.
func (e *Engine) List(ctx context.Context) ([]knowledge.Rule, error) {
	return e.store.ListRules(ctx)
}

// Toggle enables or disables a rule.
func (e *Engine) Toggle(ctx context.Context, id int64, enabled bool) error {
	return e.store.ToggleRule(ctx, id, enabled)
}

// Delete removes a rule.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	return e.store.DeleteRule(ctx, id)
}

// extractJSON pulls the first top-level JSON object out of a model
// reply, tolerating code fences and prose around it.
func extractJSON(reply string) string {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return reply
	}
	return reply[start : end+1]
}
