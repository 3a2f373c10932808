package rules

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/talonhq/talon/internal/knowledge"
	"github.com/talonhq/talon/internal/registry"
)

// Handler exposes rule management (list, delete, enable, disable) as a
// registered handler so "list my rules" works like any other command.
type Handler struct {
	registry.Base
	engine *Engine
}

var ruleNumberPattern = regexp.MustCompile(`\b(\d+)\b`)

// NewHandler creates the rules management handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{
		Base: registry.Base{Desc: registry.Descriptor{
			Name:             "rules",
			Description:      "List, enable, disable, and delete automation rules",
			Examples:         []string{"list my rules", "delete rule 2", "disable rule 1"},
			Keywords:         []string{"rule", "rules"},
			Priority:         10,
			Enabled:          true,
			RoutingAvailable: true,
		}},
		engine: engine,
	}
}

// Execute implements registry.Handler.
func (h *Handler) Execute(ctx context.Context, command string, ec *registry.ExecContext) (*registry.Result, error) {
	lower := strings.ToLower(command)

	switch {
	case strings.Contains(lower, "delete"):
		return h.mutate(ctx, command, "delete")
	case strings.Contains(lower, "disable") || strings.Contains(lower, "turn off"):
		return h.mutate(ctx, command, "disable")
	case strings.Contains(lower, "enable") || strings.Contains(lower, "turn on"):
		return h.mutate(ctx, command, "enable")
	case strings.Contains(lower, "list") || strings.Contains(lower, "show") || strings.Contains(lower, "what"):
		return h.list(ctx)
	default:
		// Not a management phrasing we recognize; decline so the
		// command falls through to conversation.
		return &registry.Result{}, nil
	}
}

func (h *Handler) list(ctx context.Context) (*registry.Result, error) {
	rules, err := h.engine.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	if len(rules) == 0 {
		return &registry.Result{Success: true, Response: "You don't have any rules yet."}, nil
	}

	var b strings.Builder
	b.WriteString("Your rules:\n")
	for _, r := range rules {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%d. When you say %q, I %s (%s)\n", r.ID, r.Trigger, r.Action, state)
	}
	return &registry.Result{Success: true, Response: strings.TrimRight(b.String(), "\n")}, nil
}

func (h *Handler) mutate(ctx context.Context, command, verb string) (*registry.Result, error) {
	m := ruleNumberPattern.FindString(command)
	if m == "" {
		return &registry.Result{
			Success:  false,
			Response: fmt.Sprintf("Which rule should I %s? Say the rule number, e.g. %q.", verb, verb+" rule 2"),
		}, nil
	}
	id, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule number: %w", err)
	}

	switch verb {
	case "delete":
		err = h.engine.Delete(ctx, id)
	case "disable":
		err = h.engine.Toggle(ctx, id, false)
	case "enable":
		err = h.engine.Toggle(ctx, id, true)
	}

	if errors.Is(err, knowledge.ErrNotFound) {
		return &registry.Result{
			Success:  false,
			Response: fmt.Sprintf("I couldn't find rule %d.", id),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s rule %d: %w", verb, id, err)
	}

	action := map[string]interface{}{"op": verb, "rule_id": id}
	return &registry.Result{
		Success:  true,
		Response: fmt.Sprintf("Rule %d %sd.", id, verb),
		ActionsTaken: []registry.Action{{
			Action:  action,
			Result:  fmt.Sprintf("rule %d %sd", id, verb),
			Success: true,
		}},
	}, nil
}
