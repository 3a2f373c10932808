package reflection

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler runs reflection on a cron schedule, e.g. "0 22 * * *" for
// ten o'clock every evening.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler schedules job on the given cron expression.
func NewScheduler(spec string, job func()) (*Scheduler, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("invalid reflection schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

// Start begins running the schedule in its own goroutine.
func (s *Scheduler) Start() {
	log.Printf("[Reflect] schedule started")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
