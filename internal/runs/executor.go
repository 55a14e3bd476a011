package runs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"queryhub/internal/agent"
)

const (
	DefaultWorkers           = 8
	DefaultQueueSize         = 256
	DefaultHeartbeatInterval = time.Minute

	finalizeTimeout = 10 * time.Second

	msgQueueFull    = "Run could not be scheduled: executor queue is full."
	msgShuttingDown = "Run could not be scheduled: server is shutting down."
	msgInternal     = "Run aborted: internal error while processing the agent response."
)

// Dispatcher is the single-attempt call to the external agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, query string) (agent.Response, error)
}

// Notifier is told about every status a run reaches. It must not block.
type Notifier interface {
	RunStatusChanged(runID uuid.UUID, status Status)
}

type ExecutorConfig struct {
	Workers           int
	QueueSize         int
	// HeartbeatInterval is how often queued and running runs are marked
	// alive. It must stay well below the stale-run window.
	HeartbeatInterval time.Duration
	Notifier          Notifier
	Now               func() time.Time
}

// Handle observes one submitted run.
type Handle struct {
	runID  uuid.UUID
	done   chan struct{}
	status Status
}

func (h *Handle) RunID() uuid.UUID { return h.runID }

func (h *Handle) Done() <-chan struct{} { return h.done }

// Status is the terminal status written for the run, or "" if the run was
// deleted before it finished. Valid only after Done is closed.
func (h *Handle) Status() Status {
	<-h.done
	return h.status
}

func (h *Handle) finish(s Status) {
	h.status = s
	close(h.done)
}

type job struct {
	runID  uuid.UUID
	query  string
	handle *Handle
}

// Executor runs the pending → running → completed|failed state machine for
// each submitted run on a fixed pool of workers. Every job ends in a terminal
// status write unless the run was deleted underneath it.
type Executor struct {
	store      Store
	dispatcher Dispatcher
	notifier   Notifier
	now        func() time.Time

	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	mu     sync.RWMutex
	closed bool

	liveMu sync.Mutex
	live   map[uuid.UUID]struct{}
}

func NewExecutor(store Store, dispatcher Dispatcher, cfg ExecutorConfig) *Executor {
	workers := cfg.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		store:      store,
		dispatcher: dispatcher,
		notifier:   cfg.Notifier,
		now:        now,
		queue:      make(chan job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		g:          &errgroup.Group{},
		live:       make(map[uuid.UUID]struct{}),
	}
	for i := 0; i < workers; i++ {
		e.g.Go(func() error {
			for j := range e.queue {
				e.execute(e.ctx, j)
			}
			return nil
		})
	}
	go e.heartbeatLoop(interval)
	return e
}

// Submit schedules a pending run without blocking. If the run cannot be
// queued it is failed immediately and the returned handle is already done.
func (e *Executor) Submit(runID uuid.UUID, query string) *Handle {
	h := &Handle{runID: runID, done: make(chan struct{})}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		e.failUnscheduled(h, msgShuttingDown)
		return h
	}
	e.track(runID)
	select {
	case e.queue <- job{runID: runID, query: query, handle: h}:
		e.mu.RUnlock()
		return h
	default:
		e.mu.RUnlock()
		e.untrack(runID)
		e.failUnscheduled(h, msgQueueFull)
		return h
	}
}

func (e *Executor) track(runID uuid.UUID) {
	e.liveMu.Lock()
	e.live[runID] = struct{}{}
	e.liveMu.Unlock()
}

func (e *Executor) untrack(runID uuid.UUID) {
	e.liveMu.Lock()
	delete(e.live, runID)
	e.liveMu.Unlock()
}

// heartbeat refreshes every run this executor still owns so the stale-run
// reaper leaves queued and long-running work alone.
func (e *Executor) heartbeat(ctx context.Context) error {
	e.liveMu.Lock()
	ids := make([]uuid.UUID, 0, len(e.live))
	for id := range e.live {
		ids = append(ids, id)
	}
	e.liveMu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	return e.store.TouchRuns(ctx, ids, e.now())
}

func (e *Executor) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(e.ctx, finalizeTimeout)
			if err := e.heartbeat(ctx); err != nil {
				log.Printf("runs: heartbeat: %v", err)
			}
			cancel()
		}
	}
}

// Shutdown stops intake and waits for queued and in-flight runs. If ctx ends
// first, in-flight agent calls are cancelled and those runs fail.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = e.g.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

func (e *Executor) failUnscheduled(h *Handle, msg string) {
	log.Printf("runs: run %s not scheduled: %s", h.runID, msg)
	h.finish(e.fail(h.runID, msg))
}

func (e *Executor) execute(ctx context.Context, j job) {
	var (
		final    Status
		terminal bool
	)
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("runs: run %s panicked: %v", j.runID, rec)
		}
		if !terminal {
			final = e.fail(j.runID, msgInternal)
		}
		e.untrack(j.runID)
		j.handle.finish(final)
	}()

	if err := e.store.MarkRunning(ctx, j.runID, e.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			terminal = true
			return
		}
		log.Printf("runs: run %s mark running: %v", j.runID, err)
		return
	}
	e.notify(j.runID, StatusRunning)

	resp, err := e.dispatcher.Dispatch(ctx, j.query)
	if err != nil {
		final = e.fail(j.runID, failureOutput(err))
		terminal = true
		return
	}

	output, all := agent.Interpret(resp)
	drafts := all[:0]
	for _, d := range all {
		if err := d.Validate(); err != nil {
			log.Printf("runs: run %s: dropping artifact %q: %v", j.runID, d.Title, err)
			continue
		}
		drafts = append(drafts, d)
	}
	digest, err := agent.Digest(resp.Raw)
	if err != nil {
		log.Printf("runs: run %s digest response: %v", j.runID, err)
		digest = ""
	}

	err = e.store.CompleteRun(ctx, j.runID, output, digest, drafts, e.now())
	switch {
	case err == nil:
		final = StatusCompleted
		terminal = true
		e.notify(j.runID, StatusCompleted)
	case errors.Is(err, ErrNotFound):
		// Deleted while the agent was working; results are discarded.
		terminal = true
	default:
		log.Printf("runs: run %s complete: %v", j.runID, err)
	}
}

// fail writes StatusFailed and returns the status the run ended in, or "" if
// it no longer exists. It uses its own context so that a cancelled worker
// can still record the failure.
func (e *Executor) fail(runID uuid.UUID, output string) Status {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	err := e.store.FailRun(ctx, runID, output, e.now())
	switch {
	case err == nil:
		e.notify(runID, StatusFailed)
		return StatusFailed
	case errors.Is(err, ErrNotFound):
		return ""
	case errors.Is(err, ErrInvalidTransition):
		// Someone else already finished it, e.g. the stale-run reaper.
		if r, gerr := e.store.GetRun(ctx, runID); gerr == nil {
			return r.Status
		}
		return StatusFailed
	default:
		log.Printf("runs: run %s fail: %v", runID, err)
		return StatusFailed
	}
}

func (e *Executor) notify(runID uuid.UUID, s Status) {
	if e.notifier != nil {
		e.notifier.RunStatusChanged(runID, s)
	}
}

func failureOutput(err error) string {
	var de *agent.DispatchError
	if errors.As(err, &de) {
		return "Agent request failed: " + de.Cause
	}
	return fmt.Sprintf("Agent request failed: %v", err)
}
