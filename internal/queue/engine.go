package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/campaignforge/engine/internal/errs"
	"github.com/campaignforge/engine/internal/store"
	"github.com/campaignforge/engine/pkg/logger"
)

// ProgressFunc lets a handler report progress; the worker loop renews the
// job's heartbeat whenever it is called so a long-running handler is never
// mistaken for stalled.
type ProgressFunc func(pct int, msg string, data map[string]interface{})

// Handler processes a single job's payload. Returning an error of kind
// errs.TransientDependency, or any error that is not itself an *errs.Error,
// schedules a backoff retry while attempts remain; an *errs.Error of any
// other kind fails the job without a retry.
type Handler func(ctx context.Context, job *Job, progress ProgressFunc) error

// Options configures a named queue; zero values fall back to the defaults
// noted per field.
type Options struct {
	Concurrency      int           // default 5
	MaxQueueSize     int64         // no default; 0 disables the cap
	RemoveOnComplete int64         // default 1000
	RemoveOnFail     int64         // default 5000
	StallTimeout     time.Duration // default 30s
	PollInterval     time.Duration // default 250ms
	DefaultOptions   JobOptions
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.RemoveOnComplete <= 0 {
		o.RemoveOnComplete = 1000
	}
	if o.RemoveOnFail <= 0 {
		o.RemoveOnFail = 5000
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
}

// Stats mirrors the spec's stats() return shape.
type Stats struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int64
}

// Queue is a single named queue: a priority/FIFO-ordered ready set, a
// delayed set promoted on each poll, an active set used for heartbeat and
// stall detection, and capped completed/failed lists.
type Queue struct {
	name  string
	store store.Store
	log   logger.Logger
	opts  Options

	mu      sync.RWMutex
	paused  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func newQueue(name string, s store.Store, log logger.Logger, opts Options) *Queue {
	opts.applyDefaults()
	return &Queue{name: name, store: s, log: log, opts: opts}
}

func (q *Queue) key(suffix string) string { return fmt.Sprintf("queue:%s:%s", q.name, suffix) }

func computeScore(priority int, createdAt time.Time) float64 {
	return float64(priority) + float64(createdAt.UnixMilli())/1e16
}

// Add enqueues a single job.
func (q *Queue) Add(ctx context.Context, jobName string, payload json.RawMessage, opts JobOptions) (*Job, error) {
	if opts.Priority == 0 && q.opts.DefaultOptions.Priority != 0 {
		opts.Priority = q.opts.DefaultOptions.Priority
	}
	if opts.Attempts == 0 {
		opts.Attempts = q.opts.DefaultOptions.Attempts
	}
	if opts.Backoff.Kind == "" {
		opts.Backoff = q.opts.DefaultOptions.Backoff
	}
	if opts.JobName == "" {
		opts.JobName = jobName
	}

	if q.opts.MaxQueueSize > 0 {
		waiting, err := q.store.ZCard(ctx, q.key("ready"))
		if err == nil {
			delayed, _ := q.store.ZCard(ctx, q.key("delayed"))
			if waiting+delayed >= q.opts.MaxQueueSize {
				return nil, errs.New(errs.Validation, "QUEUE_FULL", fmt.Sprintf("queue %q is at capacity (%d)", q.name, q.opts.MaxQueueSize))
			}
		}
	}

	job := newJob(q.name, payload, opts)
	if err := q.persist(ctx, job); err != nil {
		return nil, err
	}
	if err := q.schedule(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// BulkItem is one job in an AddBulk call.
type BulkItem struct {
	JobName string
	Payload json.RawMessage
	Opts    JobOptions
}

// AddBulk enqueues many jobs, preserving insertion order among equal
// priorities per the ordering guarantee in §5 of the control-plane design.
func (q *Queue) AddBulk(ctx context.Context, items []BulkItem) ([]*Job, error) {
	jobs := make([]*Job, 0, len(items))
	for _, it := range items {
		j, err := q.Add(ctx, it.JobName, it.Payload, it.Opts)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (q *Queue) persist(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errs.Wrap(errs.Internal, "JOB_MARSHAL", "failed to marshal job", err)
	}
	return q.store.Set(ctx, q.key("job:"+job.ID), string(data))
}

func (q *Queue) schedule(ctx context.Context, job *Job) error {
	if job.State == StateDelayed {
		return q.store.ZAdd(ctx, q.key("delayed"), store.Z{Score: float64(job.DelayUntil.UnixMilli()), Member: job.ID})
	}
	return q.store.ZAdd(ctx, q.key("ready"), store.Z{Score: computeScore(job.Priority, job.CreatedAt), Member: job.ID})
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	v, ok, err := q.store.Get(ctx, q.key("job:"+id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.NotFound, "JOB_NOT_FOUND", "job "+id+" not found")
	}
	var job Job
	if err := json.Unmarshal([]byte(v), &job); err != nil {
		return nil, errs.Wrap(errs.Internal, "JOB_UNMARSHAL", "failed to unmarshal job", err)
	}
	return &job, nil
}

// promoteDelayed moves any delayed job whose delayUntil has elapsed into
// the ready set, called once per poll iteration.
func (q *Queue) promoteDelayed(ctx context.Context) {
	nowMs := float64(time.Now().UnixMilli())
	ids, err := q.store.ZRangeByScore(ctx, q.key("delayed"), 0, nowMs, 0)
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			_ = q.store.ZRem(ctx, q.key("delayed"), id)
			continue
		}
		job.State = StateWaiting
		_ = q.persist(ctx, job)
		_ = q.store.ZAdd(ctx, q.key("ready"), store.Z{Score: computeScore(job.Priority, job.CreatedAt), Member: id})
		_ = q.store.ZRem(ctx, q.key("delayed"), id)
	}
}

// reclaimStalled requeues jobs whose heartbeat lapsed past StallTimeout.
func (q *Queue) reclaimStalled(ctx context.Context) {
	cutoff := float64(time.Now().Add(-q.opts.StallTimeout).UnixMilli())
	ids, err := q.store.ZRangeByScore(ctx, q.key("active"), 0, cutoff, 0)
	if err != nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			_ = q.store.ZRem(ctx, q.key("active"), id)
			continue
		}
		if q.log != nil {
			q.log.WithFields(map[string]interface{}{"queue": q.name, "job_id": id}).Warn("reclaiming stalled job")
		}
		job.State = StateStalled
		_ = q.persist(ctx, job)
		_ = q.store.ZRem(ctx, q.key("active"), id)
		job.State = StateWaiting
		_ = q.persist(ctx, job)
		_ = q.store.ZAdd(ctx, q.key("ready"), store.Z{Score: computeScore(job.Priority, job.CreatedAt), Member: id})
	}
}

func (q *Queue) heartbeat(ctx context.Context, id string) {
	_ = q.store.ZAdd(ctx, q.key("active"), store.Z{Score: float64(time.Now().UnixMilli()), Member: id})
}

func (q *Queue) dequeue(ctx context.Context) (*Job, bool) {
	q.mu.RLock()
	paused := q.paused
	q.mu.RUnlock()
	if paused {
		return nil, false
	}
	if _, ok, _ := q.store.Get(ctx, q.pausedKey()); ok {
		return nil, false
	}

	q.promoteDelayed(ctx)
	q.reclaimStalled(ctx)

	id, _, ok, err := q.store.ZPopMin(ctx, q.key("ready"))
	if err != nil || !ok {
		return nil, false
	}
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return nil, false
	}
	job.State = StateActive
	job.StartedAt = time.Now()
	_ = q.persist(ctx, job)
	q.heartbeat(ctx, id)
	return job, true
}

func (q *Queue) finalizeSuccess(ctx context.Context, job *Job) {
	job.State = StateCompleted
	job.FinishedAt = time.Now()
	_ = q.persist(ctx, job)
	_ = q.store.ZRem(ctx, q.key("active"), job.ID)
	_ = q.store.LPush(ctx, q.key("completed"), job.ID)
	_ = q.store.LTrim(ctx, q.key("completed"), 0, q.opts.RemoveOnComplete-1)
}

func (q *Queue) finalizeFailure(ctx context.Context, job *Job, cause error, retryable bool) {
	job.Attempts++
	job.LastError = cause.Error()
	_ = q.store.ZRem(ctx, q.key("active"), job.ID)

	if retryable && job.Attempts < job.MaxAttempts {
		delay := nextRetryDelay(job.Backoff, job.Attempts)
		job.State = StateDelayed
		job.DelayUntil = time.Now().Add(delay)
		_ = q.persist(ctx, job)
		_ = q.store.ZAdd(ctx, q.key("delayed"), store.Z{Score: float64(job.DelayUntil.UnixMilli()), Member: job.ID})
		return
	}

	job.State = StateFailed
	job.FinishedAt = time.Now()
	_ = q.persist(ctx, job)
	_ = q.store.LPush(ctx, q.key("failed"), job.ID)
	_ = q.store.LTrim(ctx, q.key("failed"), 0, q.opts.RemoveOnFail-1)
}

// Process starts the configured number of worker goroutines running
// handler against this queue until the context is cancelled or Stop is
// called. It returns immediately; use Stop for a graceful drain.
func (q *Queue) Process(ctx context.Context, handler Handler) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	q.mu.Unlock()

	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(workerCtx, handler)
	}
}

func (q *Queue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, ok := q.dequeue(ctx)
		if !ok {
			continue
		}

		progress := func(pct int, msg string, data map[string]interface{}) {
			q.heartbeat(ctx, job.ID)
			if q.log != nil {
				q.log.WithFields(map[string]interface{}{
					"queue": q.name, "job_id": job.ID, "pct": pct, "msg": msg,
				}).Debug("job progress")
			}
		}

		err := handler(ctx, job, progress)
		if err == nil {
			q.finalizeSuccess(ctx, job)
			continue
		}
		kind := errs.KindOf(err)
	retryable := kind == errs.TransientDependency || kind == ""
	q.finalizeFailure(ctx, job, err, retryable)
	}
}

// Stop signals all workers to exit and waits for in-flight handlers to
// return, up to the given grace period.
func (q *Queue) Stop(grace time.Duration) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		if q.log != nil {
			q.log.WithField("queue", q.name).Warn("forced queue shutdown after grace period")
		}
	}
}

// pausedKey persists the pause flag so an operator CLI invocation in a
// separate process (spec.md §6 `queue pause|resume <queue>`) can control a
// queue it does not share memory with; the in-memory flag remains the fast
// path for the owning process's own poll loop.
func (q *Queue) pausedKey() string { return q.key("control:paused") }

func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	_ = q.store.Set(context.Background(), q.pausedKey(), "1")
}

func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	_ = q.store.Del(context.Background(), q.pausedKey())
}

func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.loadJob(ctx, id)
}

// Retry resets a failed job back to waiting without resetting its attempt
// counter, so maxAttempts is still respected on the next failure.
func (q *Queue) Retry(ctx context.Context, id string) error {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return err
	}
	job.State = StateWaiting
	job.LastError = ""
	if err := q.persist(ctx, job); err != nil {
		return err
	}
	return q.store.ZAdd(ctx, q.key("ready"), store.Z{Score: computeScore(job.Priority, job.CreatedAt), Member: id})
}

func (q *Queue) Remove(ctx context.Context, id string) error {
	_ = q.store.ZRem(ctx, q.key("ready"), id)
	_ = q.store.ZRem(ctx, q.key("delayed"), id)
	_ = q.store.ZRem(ctx, q.key("active"), id)
	return q.store.Del(ctx, q.key("job:"+id))
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var err error
	if s.Waiting, err = q.store.ZCard(ctx, q.key("ready")); err != nil {
		return s, err
	}
	if s.Delayed, err = q.store.ZCard(ctx, q.key("delayed")); err != nil {
		return s, err
	}
	if s.Active, err = q.store.ZCard(ctx, q.key("active")); err != nil {
		return s, err
	}
	if s.Completed, err = q.store.LLen(ctx, q.key("completed")); err != nil {
		return s, err
	}
	if s.Failed, err = q.store.LLen(ctx, q.key("failed")); err != nil {
		return s, err
	}
	return s, nil
}

// Clean removes completed or failed job ids (and their bodies) whose
// FinishedAt is older than grace.
func (q *Queue) Clean(ctx context.Context, grace time.Duration, state State) error {
	var listKey string
	switch state {
	case StateCompleted:
		listKey = q.key("completed")
	case StateFailed:
		listKey = q.key("failed")
	default:
		return errs.NewValidation("CLEAN_INVALID_STATE", "clean only supports completed or failed")
	}

	ids, err := q.store.LRange(ctx, listKey, 0, -1)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-grace)
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			continue
		}
		if job.FinishedAt.Before(cutoff) {
			_ = q.store.Del(ctx, q.key("job:"+id))
			continue
		}
		kept = append(kept, id)
	}

	if err := q.store.Del(ctx, listKey); err != nil {
		return err
	}
	for i := len(kept) - 1; i >= 0; i-- {
		if err := q.store.LPush(ctx, listKey, kept[i]); err != nil {
			return err
		}
	}
	return nil
}

// CancelByOwner removes all waiting|delayed|active jobs whose payload
// carries the given correlation id (importId or sendId), per the
// cancellation rule shared by both workers. matches receives the job's raw
// JSON payload and reports whether the job belongs to the run being cancelled.
func (q *Queue) CancelByOwner(ctx context.Context, matches func(payload json.RawMessage) bool) (int, error) {
	removed := 0
	for _, setKey := range []string{q.key("ready"), q.key("delayed")} {
		ids, err := q.store.ZRangeByScore(ctx, setKey, -1e18, 1e18, 0)
		if err != nil {
			continue
		}
		for _, id := range ids {
			job, err := q.loadJob(ctx, id)
			if err != nil || !matches(job.Payload) {
				continue
			}
			_ = q.store.ZRem(ctx, setKey, id)
			_ = q.store.Del(ctx, q.key("job:"+id))
			removed++
		}
	}
	activeIDs, err := q.store.ZRangeByScore(ctx, q.key("active"), -1e18, 1e18, 0)
	if err == nil {
		for _, id := range activeIDs {
			job, err := q.loadJob(ctx, id)
			if err != nil || !matches(job.Payload) {
				continue
			}
			_ = q.store.ZRem(ctx, q.key("active"), id)
			_ = q.store.Del(ctx, q.key("job:"+id))
			removed++
		}
	}
	return removed, nil
}
