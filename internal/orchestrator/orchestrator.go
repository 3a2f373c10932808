// Package orchestrator serializes command processing: corrections,
// rules, reflection, routing, and conversational fallback run through
// one locked pipeline so replayed commands observe consistent state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talonhq/talon/internal/assembly"
	"github.com/talonhq/talon/internal/conversation"
	"github.com/talonhq/talon/internal/corrections"
	"github.com/talonhq/talon/internal/knowledge"
	"github.com/talonhq/talon/internal/observability"
	"github.com/talonhq/talon/internal/registry"
	"github.com/talonhq/talon/internal/reflection"
	"github.com/talonhq/talon/internal/router"
	"github.com/talonhq/talon/internal/rules"
	"github.com/talonhq/talon/pkg/gateway"
)

// repeatPhrases re-execute the session's last successful action.
var repeatPhrases = []string{
	"do that again",
	"do it again",
	"repeat that",
	"same again",
}

// Result is the outcome of one processed command.
type Result struct {
	Response     string
	Talent       string
	Success      bool
	ActionsTaken []registry.Action
}

// Store is the slice of the knowledge store the orchestrator writes to.
type Store interface {
	LogCommand(ctx context.Context, rec knowledge.CommandRecord) (int64, error)
	LogAction(ctx context.Context, rec knowledge.ActionRecord) error
	LastSuccessfulAction(ctx context.Context, sessionID string) (*knowledge.ActionRecord, error)
	StoreSuccessfulPattern(ctx context.Context, command, talent string) error
	StorePreference(ctx context.Context, text, source string) error
}

// preferencePhrases mark a conversational turn as a stated preference
// worth remembering verbatim.
var preferencePhrases = []string{
	"i prefer",
	"i'd prefer",
	"i always",
	"i never",
	"i like",
	"i don't like",
	"i hate",
	"call me",
	"my favorite",
}

// CommandRouter decides how commands are served.
type CommandRouter interface {
	Route(ctx context.Context, command string) router.Decision
	InvalidateCache()
}

// RuleEngine matches and learns automation rules.
type RuleEngine interface {
	HasRuleIntent(command string) bool
	Learn(ctx context.Context, command string) (*knowledge.Rule, error)
	Match(ctx context.Context, command string) (*knowledge.RuleMatch, error)
}

// CorrectionManager detects and resolves user corrections.
type CorrectionManager interface {
	IsCorrection(command string) bool
	Handle(ctx context.Context, command string, turns []conversation.Turn, replay corrections.ReplayFunc) (*corrections.Outcome, error)
}

// Reflector summarizes sessions on request.
type Reflector interface {
	Reflect(ctx context.Context, sessionID string) (string, error)
}

// PromptBuilder assembles conversational prompts.
type PromptBuilder interface {
	Build(ctx context.Context, in assembly.Input) (*assembly.Prompt, error)
}

// Config collects the orchestrator's collaborators.
type Config struct {
	Gateway     gateway.Gateway
	Registry    *registry.Registry
	Router      CommandRouter
	Rules       RuleEngine
	Corrections CorrectionManager
	Reflector   Reflector
	Assembler   PromptBuilder
	Buffer      *conversation.Buffer
	Fade        *reflection.Fade
	Store       Store

	// SessionID overrides the generated id, mainly for tests.
	SessionID string
}

// Orchestrator runs the command pipeline.
type Orchestrator struct {
	mu sync.Mutex

	sessionID   string
	gw          gateway.Gateway
	reg         *registry.Registry
	router      CommandRouter
	rules       RuleEngine
	corrections CorrectionManager
	reflector   Reflector
	assembler   PromptBuilder
	buffer      *conversation.Buffer
	fade        *reflection.Fade
	store       Store

	notify func(string)
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Orchestrator{
		sessionID:   sessionID,
		gw:          cfg.Gateway,
		reg:         cfg.Registry,
		router:      cfg.Router,
		rules:       cfg.Rules,
		corrections: cfg.Corrections,
		reflector:   cfg.Reflector,
		assembler:   cfg.Assembler,
		buffer:      cfg.Buffer,
		fade:        cfg.Fade,
		store:       cfg.Store,
	}
}

// SessionID returns this process's session identifier.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// SetNotify installs a callback handlers can use for asynchronous
// notifications, e.g. a timer firing.
func (o *Orchestrator) SetNotify(fn func(string)) {
	o.mu.Lock()
	o.notify = fn
	o.mu.Unlock()
}

// InvalidateRoutingCache drops the router's cached roster prompt.
func (o *Orchestrator) InvalidateRoutingCache() {
	o.router.InvalidateCache()
}

// ProcessCommand runs one command through the pipeline. Empty input
// returns (nil, nil). The pipeline is serialized; concurrent callers
// queue.
func (o *Orchestrator) ProcessCommand(ctx context.Context, command string, speak bool) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	res, err := o.process(ctx, command, speak, false)
	if err == nil && res != nil {
		observability.RecordCommand(res.Talent, res.Success, time.Since(start))
		observability.SetBufferTurns(o.buffer.Len())
	}
	return res, err
}

// process is the pipeline body. Callers hold the lock; replayed
// commands (rule actions, corrections, repeats) re-enter here directly
// with reentrant set so nested stages skip learning and buffer writes.
func (o *Orchestrator) process(ctx context.Context, command string, speak, reentrant bool) (*Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, nil
	}

	if !reentrant && reflection.IsReflectionRequest(command) {
		return o.reflect(ctx, command)
	}

	if !reentrant && o.corrections.IsCorrection(command) {
		return o.correct(ctx, command, speak)
	}

	if isRepeatRequest(command) {
		return o.repeatLast(ctx, command, speak, reentrant)
	}

	// Rules fire only on fresh input so a rule action can never chain
	// into another rule.
	if !reentrant {
		if match, err := o.rules.Match(ctx, command); err == nil && match != nil {
			log.Printf("[Orchestrate] rule %d fired for %q", match.Rule.ID, command)
			observability.RecordRuleFired()
			res, err := o.process(ctx, match.Rule.Action, speak, true)
			if err != nil || res == nil {
				return res, err
			}
			o.remember(ctx, command, res)
			return res, nil
		}

		if o.rules.HasRuleIntent(command) {
			if res := o.learnRule(ctx, command); res != nil {
				return res, nil
			}
		}
	}

	decision := o.router.Route(ctx, command)
	if decision.Kind == router.KindHandler {
		res := o.executeHandler(ctx, decision.Handler, command, speak, reentrant)
		if res != nil {
			if !reentrant {
				o.remember(ctx, command, res)
			}
			return res, nil
		}
		// Handler declined; fall through to conversation.
		decision.Kind = router.KindConversation
	}

	res, err := o.converse(ctx, command, decision.Kind == router.KindConversationRAG, reentrant)
	if err != nil {
		return nil, err
	}
	if !reentrant {
		o.detectPreference(ctx, command)
		o.remember(ctx, command, res)
	}
	return res, nil
}

// detectPreference stores conversational turns that state a durable
// preference. Failures are logged only.
func (o *Orchestrator) detectPreference(ctx context.Context, command string) {
	lower := strings.ToLower(command)
	for _, phrase := range preferencePhrases {
		if strings.Contains(lower, phrase) {
			if err := o.store.StorePreference(ctx, command, "stated"); err != nil {
				log.Printf("[Orchestrate] failed to store preference: %v", err)
			}
			return
		}
	}
}

// reflect serves a session-reflection request.
func (o *Orchestrator) reflect(ctx context.Context, command string) (*Result, error) {
	summary, err := o.reflector.Reflect(ctx, o.sessionID)
	if err != nil {
		log.Printf("[Orchestrate] reflection failed: %v", err)
		return &Result{
			Response: "I couldn't put a session summary together just now.",
			Talent:   "reflection",
		}, nil
	}
	res := &Result{Response: summary, Talent: "reflection", Success: true}
	o.logCommand(ctx, command, res)
	return res, nil
}

// correct resolves a correction, replaying the corrected command.
func (o *Orchestrator) correct(ctx context.Context, command string, speak bool) (*Result, error) {
	// Replayed corrections never speak; the correction reply does.
	replay := func(ctx context.Context, corrected string) (string, bool, error) {
		res, err := o.process(ctx, corrected, false, true)
		if err != nil {
			return "", false, err
		}
		if res == nil {
			return "", false, nil
		}
		return res.Response, res.Success, nil
	}

	outcome, err := o.corrections.Handle(ctx, command, o.buffer.Turns(), replay)
	if err != nil {
		observability.RecordCorrection("failed")
		return nil, fmt.Errorf("correction handling failed: %w", err)
	}
	if outcome.Corrected == "" {
		observability.RecordCorrection("clarification")
	} else {
		observability.RecordCorrection("replayed")
	}

	res := &Result{Response: outcome.Response, Talent: "correction", Success: outcome.Success}
	o.remember(ctx, command, res)
	return res, nil
}

// learnRule tries to store a rule from the command. A nil result means
// the judgment declined and normal processing continues.
func (o *Orchestrator) learnRule(ctx context.Context, command string) *Result {
	rule, err := o.rules.Learn(ctx, command)
	if errors.Is(err, rules.ErrInjectionRejected) {
		return &Result{
			Response: "That rule's action looks unsafe, so I didn't save it.",
			Talent:   "rules",
		}
	}
	if err != nil {
		log.Printf("[Orchestrate] rule learning failed: %v", err)
		return nil
	}
	if rule == nil {
		return nil
	}

	res := &Result{
		Response: fmt.Sprintf("Got it. Whenever you say %q, I'll %s.", rule.Trigger, rule.Action),
		Talent:   "rules",
		Success:  true,
	}
	o.remember(ctx, command, res)
	return res
}

// repeatLast re-executes the session's last successful action.
func (o *Orchestrator) repeatLast(ctx context.Context, command string, speak, reentrant bool) (*Result, error) {
	nothing := func() *Result {
		res := &Result{Response: "I don't have a recent action to repeat.", Talent: "repeat"}
		if !reentrant {
			o.remember(ctx, command, res)
		}
		return res
	}

	last, err := o.store.LastSuccessfulAction(ctx, o.sessionID)
	if errors.Is(err, knowledge.ErrNotFound) {
		return nothing(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last action: %w", err)
	}

	original, _ := last.Action["command"].(string)
	if original == "" {
		return nothing(), nil
	}

	res, err := o.process(ctx, original, speak, true)
	if err != nil || res == nil {
		return res, err
	}
	if !reentrant {
		o.remember(ctx, command, res)
	}
	return res, nil
}

// executeHandler runs a routed handler. A nil return means the handler
// declined. Panics become an apologetic failure result.
func (o *Orchestrator) executeHandler(ctx context.Context, name, command string, speak, reentrant bool) (res *Result) {
	h, ok := o.reg.Get(name)
	if !ok {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Orchestrate] handler %s panicked: %v", name, r)
			res = &Result{
				Response: "Something went wrong while handling that.",
				Talent:   name,
			}
		}
	}()

	execCtx := &registry.ExecContext{Reentrant: reentrant, Speak: speak, Notify: o.notify}
	hres, err := h.Execute(ctx, command, execCtx)
	if err != nil {
		log.Printf("[Orchestrate] handler %s failed: %v", name, err)
		return &Result{
			Response: "Something went wrong while handling that.",
			Talent:   name,
		}
	}
	if hres == nil || hres.Declined() {
		return nil
	}

	res = &Result{
		Response:     hres.Response,
		Talent:       name,
		Success:      hres.Success,
		ActionsTaken: hres.ActionsTaken,
	}

	for _, action := range hres.ActionsTaken {
		rec := knowledge.ActionRecord{
			SessionID: o.sessionID,
			Talent:    name,
			Action:    withCommand(action.Action, command),
			Result:    action.Result,
			Success:   action.Success,
		}
		if err := o.store.LogAction(ctx, rec); err != nil {
			log.Printf("[Orchestrate] failed to log action: %v", err)
		}
	}

	if res.Success && !reentrant {
		if err := o.store.StoreSuccessfulPattern(ctx, command, name); err != nil {
			log.Printf("[Orchestrate] failed to store pattern: %v", err)
		}
	}
	return res
}

// converse answers through the language model with assembled context.
func (o *Orchestrator) converse(ctx context.Context, command string, explicitDocs, reentrant bool) (*Result, error) {
	in := assembly.Input{
		Command:      command,
		Turns:        o.buffer.Turns(),
		ExplicitDocs: explicitDocs,
		Capabilities: o.capabilities(),
	}
	if !reentrant && o.fade != nil {
		in.FadeSummary = o.fade.Take()
	}

	prompt, err := o.assembler.Build(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("prompt assembly failed: %w", err)
	}
	if prompt.ShortCircuit != "" {
		return &Result{Response: prompt.ShortCircuit, Talent: "conversation", Success: true}, nil
	}

	reply := o.gw.Generate(ctx, prompt.User, gateway.WithSystem(prompt.System))
	if gateway.IsError(reply) {
		log.Printf("[Orchestrate] conversation failed: %s", reply)
		return &Result{
			Response: "I'm having trouble thinking right now. Give me a moment and try again.",
			Talent:   "conversation",
		}, nil
	}

	return &Result{Response: reply, Talent: "conversation", Success: true}, nil
}

// remember records the exchange in the buffer and the command log.
// Exchanges with an empty response are logged but not buffered.
// Store failures are logged and never interrupt the reply.
func (o *Orchestrator) remember(ctx context.Context, command string, res *Result) {
	if res == nil {
		return
	}
	if res.Response != "" {
		o.buffer.AppendExchange(command, res.Response)
	}
	o.logCommand(ctx, command, res)
}

func (o *Orchestrator) logCommand(ctx context.Context, command string, res *Result) {
	rec := knowledge.CommandRecord{
		SessionID: o.sessionID,
		Command:   command,
		Response:  res.Response,
		Talent:    res.Talent,
		Success:   res.Success,
	}
	if _, err := o.store.LogCommand(ctx, rec); err != nil {
		log.Printf("[Orchestrate] failed to log command: %v", err)
	}
}

// capabilities renders the enabled handler roster for the capability
// summary block.
func (o *Orchestrator) capabilities() string {
	var b strings.Builder
	for _, h := range o.reg.Enabled() {
		desc := h.Descriptor()
		fmt.Fprintf(&b, "- %s: %s\n", desc.Name, desc.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func isRepeatRequest(command string) bool {
	lower := strings.ToLower(strings.TrimSpace(command))
	lower = strings.TrimRight(lower, ".!?")
	for _, phrase := range repeatPhrases {
		if lower == phrase {
			return true
		}
	}
	return false
}

// withCommand tags an action map with the command that produced it so
// repeat requests can replay it later.
func withCommand(action map[string]interface{}, command string) map[string]interface{} {
	out := make(map[string]interface{}, len(action)+1)
	for k, v := range action {
		out[k] = v
	}
	if _, ok := out["command"]; !ok {
		out["command"] = command
	}
	return out
}
