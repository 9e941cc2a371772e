package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/homeagent/pkg/config"
	"github.com/dotsetgreg/homeagent/pkg/logger"
	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/dotsetgreg/homeagent/pkg/store"
	"github.com/sethvargo/go-retry"
	"github.com/sourcegraph/conc/pool"
)

// Job is the post-turn work handed off by the orchestrator. It carries only
// detached data; the session itself is never shared with workers.
type Job struct {
	ID        string
	SessionID string
	UserID    string
	// TurnID identifies the user turn; interaction accounting is keyed on it.
	TurnID      string
	Turns       []session.Turn
	FirstSeq    int
	Trust       int
	Outcome     string
	ScheduledAt time.Time
}

// Persister is the durable side of post-turn work.
type Persister interface {
	AppendMessage(ctx context.Context, sessionID, userID string, turn session.Turn, seq int) error
	RecordInteraction(ctx context.Context, userID, turnID string, seed int, next func(current, interactions int) int) (store.Interaction, error)
}

// TrustSink receives recomputed scores for live sessions.
type TrustSink interface {
	OfferTrust(sessionID string, score int)
}

type Options struct {
	Workers    int
	QueueSize  int
	JobRetries int
	JobTimeout time.Duration
	// RetryBackoff is the first retry delay; later ones double.
	RetryBackoff time.Duration
}

func OptionsFrom(cfg config.TasksConfig) Options {
	return Options{
		Workers:    cfg.Workers,
		QueueSize:  cfg.QueueSize,
		JobRetries: cfg.JobRetries,
		JobTimeout: cfg.JobTimeout.Std(),
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 128
	}
	if o.JobRetries < 0 {
		o.JobRetries = 0
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 10 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	return o
}

type counters struct {
	scheduled atomic.Uint64
	dropped   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// Coordinator runs post-turn jobs on a bounded worker pool. Scheduling never
// blocks the caller: when the queue is full the job is dropped and counted.
type Coordinator struct {
	opts      Options
	persister Persister
	sessions  TrustSink
	observer  Observer

	queue  chan Job
	done   chan struct{}
	stop   context.CancelFunc
	ctx    context.Context
	closed bool
	mu     sync.RWMutex

	userLocks sync.Map
	stats     counters
}

// NewCoordinator starts the worker pool. sessions and observer may be nil.
func NewCoordinator(opts Options, persister Persister, sessions TrustSink, observer Observer) *Coordinator {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		opts:      opts,
		persister: persister,
		sessions:  sessions,
		observer:  observer,
		queue:     make(chan Job, opts.QueueSize),
		done:      make(chan struct{}),
		stop:      cancel,
		ctx:       ctx,
	}
	go c.run()
	return c
}

func (c *Coordinator) run() {
	defer close(c.done)
	workers := pool.New().WithMaxGoroutines(c.opts.Workers)
	for job := range c.queue {
		workers.Go(func() { c.process(job) })
	}
	workers.Wait()
}

// Schedule enqueues a job without blocking and reports whether it was
// accepted.
func (c *Coordinator) Schedule(job Job) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.drop(job, "closed")
		return false
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now()
	}
	select {
	case c.queue <- job:
		c.stats.scheduled.Add(1)
		return true
	default:
		c.drop(job, "queue_full")
		return false
	}
}

func (c *Coordinator) drop(job Job, reason string) {
	c.stats.dropped.Add(1)
	logger.WarnCF("tasks", "Background job dropped",
		map[string]interface{}{
			"job_id":     job.ID,
			"session_id": job.SessionID,
			"reason":     reason,
			"dropped":    c.stats.dropped.Load(),
		})
}

// Close stops accepting jobs and waits for queued ones to finish. When ctx
// ends first, in-flight jobs are cancelled and Close returns ctx's error.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		c.stop()
		return nil
	case <-ctx.Done():
		c.stop()
		<-c.done
		return ctx.Err()
	}
}

func (c *Coordinator) Scheduled() uint64 { return c.stats.scheduled.Load() }
func (c *Coordinator) Dropped() uint64   { return c.stats.dropped.Load() }
func (c *Coordinator) Completed() uint64 { return c.stats.completed.Load() }
func (c *Coordinator) Failed() uint64    { return c.stats.failed.Load() }

func (c *Coordinator) process(job Job) {
	backoff := retry.WithMaxRetries(uint64(c.opts.JobRetries), retry.NewExponential(c.opts.RetryBackoff))

	var summary Summary
	attempts := 0
	err := retry.Do(c.ctx, backoff, func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.JobTimeout)
		defer cancel()

		var err error
		summary, err = c.execute(attemptCtx, job)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, session.ErrSessionOwner) {
				return err
			}
			logger.DebugCF("tasks", "Background job attempt failed",
				map[string]interface{}{"job_id": job.ID, "attempt": attempts, "error": err.Error()})
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		c.stats.failed.Add(1)
		logger.ErrorCF("tasks", "Background job failed",
			map[string]interface{}{
				"job_id":     job.ID,
				"session_id": job.SessionID,
				"user_id":    job.UserID,
				"attempts":   attempts,
				"error":      err.Error(),
			})
		return
	}
	c.stats.completed.Add(1)

	if c.observer != nil {
		if err := c.observer.Emit(c.ctx, summary); err != nil {
			logger.WarnCF("tasks", "Observer emit failed",
				map[string]interface{}{"job_id": job.ID, "error": err.Error()})
		}
	}
}

// execute is idempotent: messages are keyed by turn id and interactions by
// the user turn id, so a retry after partial success is safe.
func (c *Coordinator) execute(ctx context.Context, job Job) (Summary, error) {
	for i, turn := range job.Turns {
		if err := c.persister.AppendMessage(ctx, job.SessionID, job.UserID, turn, job.FirstSeq+i); err != nil {
			return Summary{}, fmt.Errorf("persist turn %s: %w", turn.ID, err)
		}
	}

	unlock := c.lockUser(job.UserID)
	interaction, err := c.persister.RecordInteraction(ctx, job.UserID, job.TurnID, job.Trust, NextTrust)
	unlock()
	if err != nil {
		return Summary{}, fmt.Errorf("record interaction: %w", err)
	}
	if c.sessions != nil {
		c.sessions.OfferTrust(job.SessionID, interaction.Trust)
	}

	return Summary{
		JobID:        job.ID,
		SessionID:    job.SessionID,
		UserID:       job.UserID,
		TurnID:       job.TurnID,
		Outcome:      job.Outcome,
		Trust:        interaction.Trust,
		Interactions: interaction.Count,
		Persisted:    len(job.Turns),
		Latency:      time.Since(job.ScheduledAt),
	}, nil
}

// lockUser serializes trust updates per user.
func (c *Coordinator) lockUser(userID string) func() {
	v, _ := c.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
