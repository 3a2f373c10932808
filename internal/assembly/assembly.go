// Package assembly builds the conversational prompt: fenced retrieval
// blocks, reflection fade-out, recent history, and correction context
// in a fixed order.
package assembly

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/talonhq/talon/internal/conversation"
	"github.com/talonhq/talon/internal/knowledge"
	"github.com/talonhq/talon/pkg/gateway"
	"github.com/talonhq/talon/pkg/security"
)

// Retrieval settings. Distances are cosine; explicit document requests
// cast a much wider net than ambient enrichment.
const (
	ambientDocMaxDistance  float32 = 0.55
	ambientDocCap                  = 8
	explicitDocMaxDistance float32 = 1.8
	explicitSearchTopK             = 8
	explicitDocCap                 = 12

	correctionMaxDistance float32 = 0.55
	correctionCap                 = 2

	maxPreferences = 2
	maxPatterns    = 1

	// historyCharBudget bounds the recent-history block.
	historyCharBudget = 2000

	// maxAlternateQueries caps query expansion for explicit requests.
	maxAlternateQueries = 4
)

const systemPersona = "You are Talon, a capable personal desktop assistant. " +
	"Answer briefly and concretely; the reply may be spoken aloud."

// capabilityPhrases make the capability summary appear.
var capabilityPhrases = []string{
	"what can you do",
	"what can you help",
	"what are you able to do",
}

// Store is the slice of the knowledge store assembly reads from.
type Store interface {
	DocumentChunks(ctx context.Context, query string, maxDistance float32, topK int) ([]knowledge.DocumentChunk, error)
	RelevantMemories(ctx context.Context, query string) ([]knowledge.Memory, error)
	RelevantCorrections(ctx context.Context, query string, maxDistance float32, topK int) ([]knowledge.CorrectionMatch, error)
}

// Input is everything the assembler needs for one command.
type Input struct {
	Command string

	// Turns is the conversation buffer, oldest first.
	Turns []conversation.Turn

	// FadeSummary is the previous session's fading reflection, empty
	// once exhausted.
	FadeSummary string

	// ExplicitDocs marks routed document-search intent.
	ExplicitDocs bool

	// Capabilities is the handler roster summary, shown only when the
	// user asks what the assistant can do.
	Capabilities string

	// Now supplies the clock; zero means time.Now(). Tests pin it.
	Now time.Time
}

// Prompt is an assembled conversational prompt.
type Prompt struct {
	System string
	User   string

	// ShortCircuit, when non-empty, is the reply to give without any
	// model call (explicit document request that found nothing).
	ShortCircuit string
}

// Assembler builds prompts.
type Assembler struct {
	gw    gateway.Gateway
	store Store
}

// New creates an assembler.
func New(gw gateway.Gateway, store Store) *Assembler {
	return &Assembler{gw: gw, store: store}
}

// Build assembles the prompt for one conversational command.
func (a *Assembler) Build(ctx context.Context, in Input) (*Prompt, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	docs, shortCircuit := a.retrieveDocuments(ctx, in)
	if shortCircuit != "" {
		return &Prompt{ShortCircuit: shortCircuit}, nil
	}

	var blocks []string

	if in.Capabilities != "" && isCapabilityQuery(in.Command) {
		blocks = append(blocks, "Here is what you can do for the user:\n"+in.Capabilities)
	}

	if memBlock := a.memoriesBlock(ctx, in.Command); memBlock != "" {
		blocks = append(blocks, memBlock)
	}

	if len(docs) > 0 {
		var fenced []string
		for _, d := range docs {
			label := "document"
			if d.Source != "" {
				label = "document:" + d.Source
			}
			fenced = append(fenced, security.Fence(label, d.Content))
		}
		blocks = append(blocks, "Relevant excerpts from the user's documents:\n"+strings.Join(fenced, "\n"))
	}

	if in.FadeSummary != "" {
		blocks = append(blocks, security.Fence("previous-session-summary", in.FadeSummary))
	}

	if history := historyBlock(in.Turns); history != "" {
		blocks = append(blocks, "Recent conversation:\n"+history)
	}

	blocks = append(blocks, "Current date and time: "+now.Format("Monday, January 2, 2006 at 3:04 PM"))

	if corrections := a.correctionsBlock(ctx, in.Command); corrections != "" {
		blocks = append(blocks, corrections)
	}

	system := systemPersona + "\n\n" + security.DefensiveClause
	if len(blocks) > 0 {
		system += "\n\n" + strings.Join(blocks, "\n\n")
	}

	return &Prompt{System: system, User: in.Command}, nil
}

// retrieveDocuments runs ambient or explicit retrieval. The second
// return value is a short-circuit reply for empty explicit searches.
func (a *Assembler) retrieveDocuments(ctx context.Context, in Input) ([]knowledge.DocumentChunk, string) {
	if !in.ExplicitDocs {
		docs, err := a.store.DocumentChunks(ctx, in.Command, ambientDocMaxDistance, ambientDocCap)
		if err != nil {
			log.Printf("[Assembly] ambient document search failed: %v", err)
			return nil, ""
		}
		return docs, ""
	}

	queries := append([]string{in.Command}, a.expandQueries(ctx, in.Command)...)

	seen := make(map[string]bool)
	var docs []knowledge.DocumentChunk
	for _, q := range queries {
		if len(docs) >= explicitDocCap {
			break
		}
		found, err := a.store.DocumentChunks(ctx, q, explicitDocMaxDistance, explicitSearchTopK)
		if err != nil {
			log.Printf("[Assembly] document search failed for %q: %v", q, err)
			continue
		}
		for _, d := range found {
			if seen[d.Content] {
				continue
			}
			seen[d.Content] = true
			docs = append(docs, d)
			if len(docs) >= explicitDocCap {
				break
			}
		}
	}

	if len(docs) == 0 {
		return nil, "I couldn't find anything about that in your documents. Want me to search the web instead?"
	}
	return docs, ""
}

// expandQueries asks the model for short alternate phrasings.
func (a *Assembler) expandQueries(ctx context.Context, command string) []string {
	prompt := "Rephrase this document-search request as up to four short alternate search queries, " +
		"one per line, no numbering:\n\n" + command

	reply := a.gw.Generate(ctx, prompt,
		gateway.WithTemperature(0.3),
		gateway.WithMaxTokens(100),
	)
	if gateway.IsError(reply) {
		log.Printf("[Assembly] query expansion failed: %s", reply)
		return nil
	}

	var queries []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" || strings.EqualFold(line, command) {
			continue
		}
		queries = append(queries, line)
		if len(queries) >= maxAlternateQueries {
			break
		}
	}
	return queries
}

// memoriesBlock renders retrieved preferences and patterns.
func (a *Assembler) memoriesBlock(ctx context.Context, command string) string {
	memories, err := a.store.RelevantMemories(ctx, command)
	if err != nil {
		log.Printf("[Assembly] memory search failed: %v", err)
		return ""
	}

	var lines []string
	prefs, patterns := 0, 0
	for _, m := range memories {
		switch m.Kind {
		case knowledge.PartitionPreferences:
			if prefs >= maxPreferences {
				continue
			}
			prefs++
		case knowledge.PartitionPatterns:
			if patterns >= maxPatterns {
				continue
			}
			patterns++
		default:
			continue
		}
		lines = append(lines, security.Fence("memory", m.Content))
	}

	if len(lines) == 0 {
		return ""
	}
	return "Things you remember about the user:\n" + strings.Join(lines, "\n")
}

// correctionsBlock renders corrections relevant to the command.
func (a *Assembler) correctionsBlock(ctx context.Context, command string) string {
	matches, err := a.store.RelevantCorrections(ctx, command, correctionMaxDistance, correctionCap)
	if err != nil {
		log.Printf("[Assembly] correction search failed: %v", err)
		return ""
	}
	if len(matches) == 0 {
		return ""
	}

	var lines []string
	for _, m := range matches {
		lines = append(lines, security.Fence("correction",
			fmt.Sprintf("When the user said %q they actually meant %q.",
				m.Correction.OriginalCommand, m.Correction.CorrectedCommand)))
	}
	return "Past corrections to keep in mind:\n" + strings.Join(lines, "\n")
}

// historyBlock renders recent turns within the character budget, most
// recent last.
func historyBlock(turns []conversation.Turn) string {
	if len(turns) == 0 {
		return ""
	}

	var lines []string
	used := 0
	for i := len(turns) - 1; i >= 0; i-- {
		role := "User"
		if turns[i].Role == conversation.RoleAgent {
			role = "Assistant"
		}
		line := role + ": " + turns[i].Text
		if used+len(line) > historyCharBudget {
			break
		}
		used += len(line)
		lines = append(lines, line)
	}

	// Collected newest-first; flip to chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

func isCapabilityQuery(command string) bool {
	lower := strings.ToLower(command)
	for _, phrase := range capabilityPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
