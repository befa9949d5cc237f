// Package worker contains the scheduling engine: a polling loop that claims
// due jobs from the store, a bounded execution pool, stale-lock recovery and
// a TTL janitor. Multiple workers against one store coordinate purely
// through the store's conditional updates; workers never talk to each other.
package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chronoshq/chronos/internal/lock"
	"github.com/chronoshq/chronos/internal/storage"
)

// State is the worker lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateDraining State = "draining"
)

// janitorLockID guards the TTL sweep so only one worker runs it at a time.
const janitorLockID = "chronos:janitor"

// Config configures one worker process.
type Config struct {
	// WorkerID uniquely identifies this worker across the fleet.
	WorkerID string
	// Concurrency bounds the number of jobs executing at once.
	Concurrency int
	// PollInterval is how often the worker looks for due jobs.
	PollInterval time.Duration
	// StaleThreshold overrides the per-job lock timeout for stale
	// recovery; zero means each job's own timeout applies.
	StaleThreshold time.Duration
	// StaleCheckInterval is how often stale locks are swept.
	StaleCheckInterval time.Duration
	// JanitorInterval is how often expired records are purged.
	JanitorInterval time.Duration
	// DrainTimeout bounds how long Stop waits for in-flight jobs.
	DrainTimeout time.Duration
	// EventBuffer sizes the event channel.
	EventBuffer int
}

// DefaultConfig returns the standard worker configuration.
func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:           workerID,
		Concurrency:        5,
		PollInterval:       5 * time.Second,
		StaleCheckInterval: time.Minute,
		JanitorInterval:    10 * time.Minute,
		DrainTimeout:       30 * time.Second,
		EventBuffer:        64,
	}
}

// GenerateWorkerID builds a fleet-unique worker identity from the host,
// the pid and a random suffix.
func GenerateWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%s_%d", host, os.Getpid())
	}
	return fmt.Sprintf("%s_%d_%s", host, os.Getpid(), hex.EncodeToString(b[:]))
}

// Worker polls for due jobs and executes them on a bounded pool.
type Worker struct {
	cfg      Config
	store    storage.Store
	registry *Registry
	picker   *Picker
	executor *Executor
	locks    *lock.Manager
	logger   *slog.Logger
	events   *events
	stats    *stats

	mu        sync.Mutex
	state     State
	active    map[string]struct{}
	cancel    context.CancelFunc
	jobCtx    context.Context
	jobCancel context.CancelFunc

	loopWG sync.WaitGroup
	jobWG  sync.WaitGroup
}

// New creates a worker. Handlers must be registered on the registry before
// Start; jobs whose task type has no handler fail without retry.
func New(store storage.Store, registry *Registry, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = GenerateWorkerID()
	}
	defaults := DefaultConfig(cfg.WorkerID)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.StaleCheckInterval <= 0 {
		cfg.StaleCheckInterval = defaults.StaleCheckInterval
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = defaults.JanitorInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaults.DrainTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}

	hostname, _ := os.Hostname()
	logger = logger.With("worker_id", cfg.WorkerID)

	ev := newEvents(cfg.EventBuffer)
	st := &stats{}
	return &Worker{
		cfg:      cfg,
		store:    store,
		registry: registry,
		picker:   NewPicker(store, cfg.WorkerID, logger),
		executor: newExecutor(store, registry, cfg.WorkerID, hostname, logger, ev, st),
		locks:    lock.NewManager(store, cfg.WorkerID, logger),
		logger:   logger,
		events:   ev,
		stats:    st,
		state:    StateStopped,
		active:   make(map[string]struct{}),
	}
}

// WorkerID returns this worker's identity.
func (w *Worker) WorkerID() string { return w.cfg.WorkerID }

// Registry returns the handler registry.
func (w *Worker) Registry() *Registry { return w.registry }

// Locks returns the named lock manager bound to this worker's identity.
func (w *Worker) Locks() *lock.Manager { return w.locks }

// Events returns the worker's event channel. Events are dropped when the
// consumer falls behind; this is a monitoring feed, not a durable stream.
func (w *Worker) Events() <-chan Event { return w.events.ch }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Snapshot {
	snap := w.stats.snapshot()
	w.mu.Lock()
	snap.WorkerID = w.cfg.WorkerID
	snap.State = w.state
	snap.ActiveJobs = len(w.active)
	w.mu.Unlock()
	return snap
}

// Start launches the poll, stale-recovery and janitor loops. It returns
// immediately; use Stop to drain and shut down.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		return fmt.Errorf("worker already started (state %s)", w.state)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	// Jobs outlive the poll loop during drain, so they run on their own
	// context, cancelled only when the drain timeout expires.
	w.jobCtx, w.jobCancel = context.WithCancel(context.WithoutCancel(ctx))
	w.state = StateRunning
	w.mu.Unlock()

	w.stats.markStarted(time.Now().UTC())

	w.loopWG.Add(3)
	go func() {
		defer w.loopWG.Done()
		w.pollLoop(loopCtx)
	}()
	go func() {
		defer w.loopWG.Done()
		w.staleLoop(loopCtx)
	}()
	go func() {
		defer w.loopWG.Done()
		w.janitorLoop(loopCtx)
	}()

	w.events.emit(Event{Type: EventStarted})
	w.logger.InfoContext(ctx, "worker started",
		"concurrency", w.cfg.Concurrency,
		"poll_interval", w.cfg.PollInterval,
		"task_types", w.registry.TaskTypes())
	return nil
}

// Pause stops claiming new jobs; in-flight jobs run to completion.
func (w *Worker) Pause() {
	w.mu.Lock()
	if w.state == StateRunning {
		w.state = StatePaused
		w.events.emit(Event{Type: EventPaused})
	}
	w.mu.Unlock()
}

// Resume restarts claiming after a pause.
func (w *Worker) Resume() {
	w.mu.Lock()
	if w.state == StatePaused {
		w.state = StateRunning
		w.events.emit(Event{Type: EventResumed})
	}
	w.mu.Unlock()
}

// Stop drains the worker: no new claims, wait for in-flight jobs up to the
// drain timeout, then release whatever is still held so other workers can
// pick it up immediately.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return nil
	}
	w.state = StateDraining
	cancel := w.cancel
	jobCancel := w.jobCancel
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "worker draining")
	if cancel != nil {
		cancel()
	}
	w.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		w.jobWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.cfg.DrainTimeout):
		w.logger.WarnContext(ctx, "drain timeout, cancelling in-flight jobs",
			"timeout", w.cfg.DrainTimeout)
	case <-ctx.Done():
	}
	if jobCancel != nil {
		jobCancel()
	}
	<-done

	released, err := w.picker.ReleaseAll(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to release jobs on shutdown", "error", err)
	} else if released > 0 {
		w.logger.InfoContext(ctx, "released held jobs", "count", released)
	}
	w.locks.ReleaseAll(ctx)

	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()
	w.events.emit(Event{Type: EventStopped})
	w.logger.InfoContext(ctx, "worker stopped")
	return nil
}

// pollLoop claims due jobs whenever slots are free.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	w.stats.markPoll(time.Now().UTC())

	w.mu.Lock()
	paused := w.state != StateRunning
	free := w.cfg.Concurrency - len(w.active)
	jobCtx := w.jobCtx
	w.mu.Unlock()
	if paused || free <= 0 {
		return
	}

	jobs, err := w.picker.PickMany(ctx, free)
	if err != nil {
		w.events.emit(Event{Type: EventError, Err: err.Error()})
		w.logger.ErrorContext(ctx, "poll failed", "error", err)
		return
	}

	for _, job := range jobs {
		w.stats.incClaimed()
		w.mu.Lock()
		w.active[job.ID] = struct{}{}
		w.mu.Unlock()

		w.jobWG.Add(1)
		go func() {
			defer w.jobWG.Done()
			defer func() {
				w.mu.Lock()
				delete(w.active, job.ID)
				w.mu.Unlock()
			}()
			if err := w.executor.Execute(jobCtx, job); err != nil {
				w.events.emit(Event{Type: EventJobError, JobID: job.ID, TaskType: job.TaskType, Err: err.Error()})
				w.logger.ErrorContext(jobCtx, "job execution error",
					"job_id", job.ID, "error", err)
			}
		}()
	}
}

// staleLoop sweeps locks abandoned by crashed workers.
func (w *Worker) staleLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.StaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := w.picker.RecoverStale(ctx, w.cfg.StaleThreshold)
			if err != nil {
				w.logger.ErrorContext(ctx, "stale recovery failed", "error", err)
				continue
			}
			w.stats.addRecovered(recovered)
		}
	}
}

// janitorLoop purges expired jobs, logs and locks. The named lock keeps the
// sweep to one worker per interval.
func (w *Worker) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := w.locks.WithLock(ctx, janitorLockID, 2*time.Minute, func(ctx context.Context) error {
				result, err := w.store.PurgeExpired(ctx, time.Now().UTC())
				if err != nil {
					return err
				}
				if result.Jobs+result.Logs+result.Locks > 0 {
					w.logger.InfoContext(ctx, "purged expired records",
						"jobs", result.Jobs, "logs", result.Logs, "locks", result.Locks)
				}
				return nil
			})
			if err != nil {
				w.logger.ErrorContext(ctx, "janitor sweep failed", "error", err)
			}
		}
	}
}
