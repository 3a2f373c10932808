package conversation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/talonhq/talon/internal/observability"
	"github.com/talonhq/talon/pkg/gateway"
)

// consolidationTimeout bounds one background consolidation task.
const consolidationTimeout = 30 * time.Second

// PreferenceWriter is the slice of the knowledge store consolidation
// writes to.
type PreferenceWriter interface {
	StorePreference(ctx context.Context, text, source string) error
}

// Consolidator turns evicted exchanges into durable one-sentence
// insights in the background. Tasks are fire-and-forget and bounded by
// a semaphore; when the bound is hit the exchange is simply dropped.
type Consolidator struct {
	gw    gateway.Gateway
	store PreferenceWriter
	sem   *semaphore.Weighted
	wg    sync.WaitGroup
}

// NewConsolidator creates a consolidator running at most maxConcurrent
// tasks at once.
func NewConsolidator(gw gateway.Gateway, store PreferenceWriter, maxConcurrent int64) *Consolidator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Consolidator{
		gw:    gw,
		store: store,
		sem:   semaphore.NewWeighted(maxConcurrent),
	}
}

// Dispatch schedules consolidation of one evicted exchange. It never
// blocks the caller: eviction must stay synchronous.
func (c *Consolidator) Dispatch(user, agent Turn) {
	if !c.sem.TryAcquire(1) {
		log.Printf("[Consolidate] worker pool saturated, dropping exchange")
		observability.RecordConsolidation("dropped")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.sem.Release(1)
		c.consolidate(user, agent)
	}()
}

// Wait blocks until all in-flight tasks finish. Used in tests and on
// shutdown.
func (c *Consolidator) Wait() {
	c.wg.Wait()
}

func (c *Consolidator) consolidate(user, agent Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), consolidationTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"An exchange is about to leave the assistant's short-term memory.\n\nUser: %s\nAssistant: %s\n\n"+
			"If it reveals a durable fact or preference about the user, state it in one sentence. "+
			"Otherwise reply with exactly: nothing",
		user.Text, agent.Text)

	reply := c.gw.Generate(ctx, prompt,
		gateway.WithTemperature(0.2),
		gateway.WithMaxTokens(60),
	)

	if gateway.IsError(reply) {
		log.Printf("[Consolidate] skipping exchange: %s", reply)
		observability.RecordConsolidation("skipped")
		return
	}

	insight := strings.TrimSpace(reply)
	if insight == "" || strings.EqualFold(insight, "nothing") ||
		strings.EqualFold(strings.TrimRight(insight, "."), "nothing") {
		observability.RecordConsolidation("skipped")
		return
	}

	if err := c.store.StorePreference(ctx, insight, "consolidation"); err != nil {
		log.Printf("[Consolidate] failed to store insight: %v", err)
		return
	}
	observability.RecordConsolidation("stored")
}
