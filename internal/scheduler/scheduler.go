// Package scheduler wraps robfig/cron/v3 with the recurring-tick surface
// this module needs: the alert-rule evaluation tick, the system-metrics
// sampler, the API-key expiry scanner, and the rate-limit monitor drain.
// No progress-cleanup sweep is registered.
// All of this module's one-shot/delayed work lives in internal/queue
// instead — this package only ever owns `@every`-style recurring jobs.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/campaignforge/engine/pkg/logger"
)

// Task is a named recurring job. Errors are logged, not propagated —
// a single bad tick must never take down the scheduler.
type Task struct {
	Name string
	Spec string // cron spec, typically "@every 60s"
	Run  func(ctx context.Context) error
}

type Scheduler struct {
	cron *cron.Cron
	log  logger.Logger
	ctx  context.Context
}

func New(ctx context.Context, log logger.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log,
		ctx:  ctx,
	}
}

// Register adds a task to the cron schedule. Call before Start.
func (s *Scheduler) Register(t Task) error {
	_, err := s.cron.AddFunc(t.Spec, func() {
		if err := t.Run(s.ctx); err != nil && s.log != nil {
			s.log.WithFields(map[string]interface{}{"task": t.Name, "error": err.Error()}).
				Error("scheduled task failed")
		}
	})
	return err
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop blocks until any in-flight task invocations finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
