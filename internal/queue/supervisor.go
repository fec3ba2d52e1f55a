package queue

import (
	"context"
	"sync"
	"time"

	"github.com/campaignforge/engine/internal/errs"
	"github.com/campaignforge/engine/internal/store"
	"github.com/campaignforge/engine/pkg/logger"
)

// Supervisor is the process-level coordinator described in §4.3.3: it owns
// every named queue's lifetime, installs a single shutdown grace period
// across all of them, and exposes the operator-facing status/stats/pause/
// resume/clean surface consumed by the CLI.
type Supervisor struct {
	mu            sync.RWMutex
	store         store.Store
	log           logger.Logger
	queues        map[string]*Queue
	shutdownGrace time.Duration
}

func NewSupervisor(s store.Store, log logger.Logger, shutdownGrace time.Duration) *Supervisor {
	if shutdownGrace <= 0 {
		shutdownGrace = 30 * time.Second
	}
	return &Supervisor{
		store:         s,
		log:           log,
		queues:        make(map[string]*Queue),
		shutdownGrace: shutdownGrace,
	}
}

// Register creates (or returns the existing) named queue with the given
// options. Call this once per queue during boot, before Start.
func (s *Supervisor) Register(name string, opts Options) *Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[name]; ok {
		return q
	}
	q := newQueue(name, s.store, s.log, opts)
	s.queues[name] = q
	return q
}

func (s *Supervisor) Queue(name string) (*Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.queues[name]
	if !ok {
		return nil, errs.NewNotFound("queue", name)
	}
	return q, nil
}

// Start begins processing on every registered queue with the given
// handler map, keyed by queue name.
func (s *Supervisor) Start(ctx context.Context, handlers map[string]Handler) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, q := range s.queues {
		h, ok := handlers[name]
		if !ok {
			continue
		}
		q.Process(ctx, h)
	}
	if s.log != nil {
		s.log.WithField("queues", len(s.queues)).Info("worker supervisor started")
	}
}

// Stop drains every queue up to shutdownGrace, then force-returns. Safe to
// call from a signal handler; it does not itself install one — the
// caller's main wires os/signal.Notify and calls Stop on receipt.
func (s *Supervisor) Stop() {
	s.mu.RLock()
	queues := make([]*Queue, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, q)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *Queue) {
			defer wg.Done()
			q.Stop(s.shutdownGrace)
		}(q)
	}
	wg.Wait()
	if s.log != nil {
		s.log.Info("worker supervisor stopped")
	}
}

// Status reports which queues are registered and their pause state. Paused
// is read from the persisted flag, not the in-memory field, so it is
// accurate even when called from a CLI process distinct from the one
// running the workers.
type Status struct {
	Queue  string
	Paused bool
}

func (s *Supervisor) Status(ctx context.Context) []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.queues))
	for name, q := range s.queues {
		_, paused, _ := s.store.Get(ctx, q.pausedKey())
		out = append(out, Status{Queue: name, Paused: paused})
	}
	return out
}

func (s *Supervisor) Stats(ctx context.Context) (map[string]Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Stats, len(s.queues))
	for name, q := range s.queues {
		st, err := q.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out[name] = st
	}
	return out, nil
}

func (s *Supervisor) Pause(name string) error {
	q, err := s.Queue(name)
	if err != nil {
		return err
	}
	q.Pause()
	return nil
}

func (s *Supervisor) Resume(name string) error {
	q, err := s.Queue(name)
	if err != nil {
		return err
	}
	q.Resume()
	return nil
}

func (s *Supervisor) Clean(ctx context.Context, name string, grace time.Duration, state State) error {
	q, err := s.Queue(name)
	if err != nil {
		return err
	}
	return q.Clean(ctx, grace, state)
}
