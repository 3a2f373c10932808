// Package talon wires the assistant together: gateway, knowledge
// store, routing, learning, and the orchestrated command pipeline.
package talon

import (
	"context"
	"fmt"
	"log"

	"github.com/talonhq/talon/internal/assembly"
	"github.com/talonhq/talon/internal/chatstore"
	"github.com/talonhq/talon/internal/conversation"
	"github.com/talonhq/talon/internal/corrections"
	"github.com/talonhq/talon/internal/knowledge"
	"github.com/talonhq/talon/internal/observability"
	"github.com/talonhq/talon/internal/orchestrator"
	"github.com/talonhq/talon/internal/registry"
	"github.com/talonhq/talon/internal/reflection"
	"github.com/talonhq/talon/internal/router"
	"github.com/talonhq/talon/internal/rules"
	"github.com/talonhq/talon/pkg/config"
	"github.com/talonhq/talon/pkg/embeddings"
	"github.com/talonhq/talon/pkg/gateway"
)

// consolidationWorkers bounds concurrent background consolidation.
const consolidationWorkers = 2

// transcriptSession is the durable chat transcript stream. A single
// stream keeps startup seeding simple across process restarts.
const transcriptSession = "chat"

// Assistant is a fully wired Talon instance.
type Assistant struct {
	cfg *config.Config

	gw           gateway.Gateway
	store        *knowledge.Store
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	reflector    *reflection.Reflector
	rules        *rules.Engine
	consolidator *conversation.Consolidator
	buffer       *conversation.Buffer
	chat         chatstore.Store
	scheduler    *reflection.Scheduler
	metrics      *observability.Server
}

// New builds an assistant from configuration.
func New(ctx context.Context, cfg *config.Config) (*Assistant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	embedder, err := embeddings.New(embeddings.Config{
		Provider:   cfg.Embeddings.Provider,
		Endpoint:   cfg.Embeddings.Endpoint,
		APIKey:     cfg.Embeddings.APIKey,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	store, err := knowledge.Open(ctx, knowledge.Config{
		DBPath:   cfg.Memory.DBPath,
		Embedder: embedder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge store: %w", err)
	}

	gw, err := gateway.New(gateway.Config{
		Provider:    cfg.Gateway.Provider,
		Endpoint:    cfg.Gateway.Endpoint,
		APIKey:      cfg.Gateway.APIKey,
		Model:       cfg.Gateway.Model,
		Temperature: cfg.Gateway.Temperature,
		MaxTokens:   cfg.Gateway.MaxTokens,
		Timeout:     cfg.Gateway.Timeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	gw = gateway.NewRateLimited(gw, cfg.Gateway.RequestsPerSecond, cfg.Gateway.Burst)
	gw = observability.InstrumentGateway(gw)

	a := &Assistant{cfg: cfg, gw: gw, store: store, registry: registry.New()}

	a.consolidator = conversation.NewConsolidator(gw, store, consolidationWorkers)
	a.buffer = conversation.NewBuffer(cfg.Conversation.BufferTurns, a.consolidator.Dispatch)

	a.rules = rules.New(gw, store)
	if err := a.registry.Register(rules.NewHandler(a.rules)); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to register rules handler: %w", err)
	}

	a.reflector = reflection.New(gw, store)
	fade := reflection.NewFade(a.reflector.LastSummary(ctx))

	a.orchestrator = orchestrator.New(orchestrator.Config{
		Gateway:     gw,
		Registry:    a.registry,
		Router:      router.New(a.registry, gw),
		Rules:       a.rules,
		Corrections: corrections.New(gw, store),
		Reflector:   a.reflector,
		Assembler:   assembly.New(gw, store),
		Buffer:      a.buffer,
		Fade:        fade,
		Store:       store,
	})

	if cfg.ChatHistory.Backend != "" {
		chat, err := chatstore.New(chatstore.Config{
			Backend:       cfg.ChatHistory.Backend,
			Dir:           cfg.ChatHistory.Dir,
			RedisAddr:     cfg.ChatHistory.RedisAddr,
			RedisPassword: cfg.ChatHistory.RedisPassword,
			RedisDB:       cfg.ChatHistory.RedisDB,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to open chat history: %w", err)
		}
		a.chat = chat
		a.seedBuffer(ctx)
	}

	if cfg.Reflection.Schedule != "" {
		scheduler, err := reflection.NewScheduler(cfg.Reflection.Schedule, a.scheduledReflection)
		if err != nil {
			_ = a.closeStores()
			return nil, err
		}
		a.scheduler = scheduler
		a.scheduler.Start()
	}

	if cfg.MetricsAddr != "" {
		observability.InitMetrics()
		a.metrics = observability.NewServer(cfg.MetricsAddr)
		a.metrics.Start()
	}

	return a, nil
}

// ProcessCommand runs one command through the pipeline and persists the
// exchange to durable chat history.
func (a *Assistant) ProcessCommand(ctx context.Context, command string, speak bool) (*orchestrator.Result, error) {
	res, err := a.orchestrator.ProcessCommand(ctx, command, speak)
	if err != nil || res == nil {
		return res, err
	}

	if a.chat != nil {
		if err := a.chat.Append(ctx, transcriptSession, chatstore.NewTurn(conversation.RoleUser, command)); err != nil {
			log.Printf("[Talon] failed to persist user turn: %v", err)
		}
		if err := a.chat.Append(ctx, transcriptSession, chatstore.NewTurn(conversation.RoleAgent, res.Response)); err != nil {
			log.Printf("[Talon] failed to persist agent turn: %v", err)
		}
	}
	return res, nil
}

// RegisterHandler adds a talent handler and refreshes the routing
// roster.
func (a *Assistant) RegisterHandler(h registry.Handler) error {
	return a.registry.Register(h)
}

// SetNotify installs the asynchronous notification callback.
func (a *Assistant) SetNotify(fn func(string)) {
	a.orchestrator.SetNotify(fn)
}

// SessionID returns the current session identifier.
func (a *Assistant) SessionID() string {
	return a.orchestrator.SessionID()
}

// Reflect summarizes the current session on demand.
func (a *Assistant) Reflect(ctx context.Context) (string, error) {
	return a.reflector.Reflect(ctx, a.orchestrator.SessionID())
}

// Rules exposes the rule engine for management commands.
func (a *Assistant) Rules() *rules.Engine {
	return a.rules
}

// Close flushes background work and releases resources.
func (a *Assistant) Close(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.consolidator.Wait()
	if a.metrics != nil {
		if err := a.metrics.Stop(ctx); err != nil {
			log.Printf("[Talon] metrics shutdown: %v", err)
		}
	}
	return a.closeStores()
}

func (a *Assistant) closeStores() error {
	if a.chat != nil {
		if err := a.chat.Close(); err != nil {
			log.Printf("[Talon] failed to close chat history: %v", err)
		}
	}
	return a.store.Close()
}

// seedBuffer preloads the conversation buffer from the durable
// transcript so a restart keeps recent context.
func (a *Assistant) seedBuffer(ctx context.Context) {
	turns, err := a.chat.Recent(ctx, transcriptSession, a.cfg.Conversation.BufferTurns)
	if err != nil {
		log.Printf("[Talon] failed to load chat history: %v", err)
		return
	}

	// Replay complete (user, agent) pairs only.
	for i := 0; i+1 < len(turns); i++ {
		if turns[i].Role == conversation.RoleUser && turns[i+1].Role == conversation.RoleAgent {
			a.buffer.AppendExchange(turns[i].Text, turns[i+1].Text)
			i++
		}
	}
	if n := a.buffer.Len(); n > 0 {
		log.Printf("[Talon] restored %d turns of chat history", n)
	}
}

// scheduledReflection runs reflection from the cron schedule.
func (a *Assistant) scheduledReflection() {
	summary, err := a.reflector.Reflect(context.Background(), a.orchestrator.SessionID())
	if err != nil {
		log.Printf("[Reflect] scheduled reflection failed: %v", err)
		return
	}
	log.Printf("[Reflect] scheduled reflection stored: %s", summary)
}
