// Package queue implements the durable, sorted-set-backed job engine that
// every background workload (contact import, campaign email fan-out) runs
// on. The dispatch/backoff/stall-reclamation shape is adapted from
// _examples/defmans7-notifuse/internal/service/queue — that package only
// ever drove a single polling email worker against a Postgres-backed
// repository; here the same worker-loop idiom drives a generic, named,
// multi-queue engine over the shared store.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State is a job's lifecycle stage. Transitions: waiting -> active ->
// completed|failed; on a retryable failure with attempts remaining,
// active -> delayed -> waiting; a lapsed heartbeat moves active -> stalled,
// from which another worker reclaims it back to waiting.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStalled   State = "stalled"
)

// Backoff configures the retry delay applied after a failed attempt.
// Exponential is the only kind this module implements, matching the
// "exponential with baseMs, default 2000" rule; delay = baseMs * 2^attempt.
type Backoff struct {
	Kind   string `json:"kind"`
	BaseMs int64  `json:"baseMs"`
}

func DefaultBackoff() Backoff {
	return Backoff{Kind: "exponential", BaseMs: 2000}
}

// JobOptions configures a single Add call. Zero values fall back to the
// queue's defaultJobOptions.
type JobOptions struct {
	Priority    int
	Delay       time.Duration
	Attempts    int
	Backoff     Backoff
	JobName     string
}

// Job is a single unit of queued work. Payload is kept as raw JSON so the
// engine never needs to know about import/email-send specific shapes.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	DelayUntil  time.Time       `json:"delayUntil,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	Backoff     Backoff         `json:"backoff"`
	State       State           `json:"state"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   time.Time       `json:"startedAt,omitempty"`
	FinishedAt  time.Time       `json:"finishedAt,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
}

func newJob(queueName string, payload json.RawMessage, opts JobOptions) *Job {
	now := time.Now()
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := opts.Backoff
	if backoff.Kind == "" {
		backoff = DefaultBackoff()
	}
	j := &Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Name:        opts.JobName,
		Payload:     payload,
		Priority:    opts.Priority,
		Attempts:    0,
		MaxAttempts: attempts,
		Backoff:     backoff,
		State:       StateWaiting,
		CreatedAt:   now,
	}
	if opts.Delay > 0 {
		j.DelayUntil = now.Add(opts.Delay)
		j.State = StateDelayed
	}
	return j
}

// nextRetryDelay computes the exponential backoff for the given completed
// attempt count, matching CalculateNextRetryTime's role in the teacher's
// domain package but generalized off of Job.Backoff instead of a constant.
func nextRetryDelay(b Backoff, attempt int) time.Duration {
	baseMs := b.BaseMs
	if baseMs <= 0 {
		baseMs = 2000
	}
	delayMs := baseMs
	for i := 0; i < attempt; i++ {
		delayMs *= 2
	}
	return time.Duration(delayMs) * time.Millisecond
}
