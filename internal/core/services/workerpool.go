package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
	"github.com/custodia-labs/sercha-indexer/internal/metrics"
)

// Ensure WorkerPool implements the interface.
var _ driving.Scheduler = (*WorkerPool)(nil)

// TaskHandler runs one leased task and returns its JSON encoded result.
// A returned data error buries the task; any other error retries it.
type TaskHandler interface {
	Handle(ctx context.Context, task *domain.Task) ([]byte, error)
}

// HandlerFunc adapts a function to TaskHandler.
type HandlerFunc func(ctx context.Context, task *domain.Task) ([]byte, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, task *domain.Task) ([]byte, error) {
	return f(ctx, task)
}

// WorkerPoolConfig configures a WorkerPool.
type WorkerPoolConfig struct {
	// Lanes sets the worker count per lane. A lane with zero workers is not served.
	Lanes domain.LaneSettings

	// Retry supplies the backoff applied on Nack.
	Retry domain.RetryPolicy

	// Visibility is the lease duration. Running handlers renew it every third of it.
	Visibility time.Duration

	// PollInterval is how long an idle worker sleeps before leasing again.
	PollInterval time.Duration

	// Name prefixes worker ids. Defaults to a random id per process.
	Name string
}

// WorkerPool runs per-lane worker goroutines that lease tasks and dispatch
// them to the handler registered for their kind. Lanes never share workers,
// so a backlog in one lane cannot delay another.
type WorkerPool struct {
	queue    driven.TaskQueue
	cfg      WorkerPoolConfig
	handlers map[domain.TaskKind]TaskHandler

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	active  map[string]context.CancelFunc
}

// NewWorkerPool creates a worker pool over queue.
func NewWorkerPool(queue driven.TaskQueue, cfg WorkerPoolConfig) *WorkerPool {
	if cfg.Visibility <= 0 {
		cfg.Visibility = domain.DefaultSettings().Queue.VisibilityTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = domain.DefaultSettings().Queue.LeasePollInterval
	}
	if cfg.Retry.Base <= 0 {
		cfg.Retry = domain.DefaultRetryPolicy()
	}
	if cfg.Name == "" {
		cfg.Name = "worker-" + uuid.NewString()[:8]
	}
	return &WorkerPool{
		queue:    queue,
		cfg:      cfg,
		handlers: make(map[domain.TaskKind]TaskHandler),
		active:   make(map[string]context.CancelFunc),
	}
}

// Register binds a handler to a task kind. Call before Start.
func (p *WorkerPool) Register(kind domain.TaskKind, h TaskHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Start launches the lane workers and blocks until ctx is cancelled or
// Stop is called. Running handlers are cancelled and awaited on return.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil // Already running
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, lane := range domain.Lanes {
		lane := lane // per-iteration copy for the goroutines below (pre-Go 1.22 loop semantics)
		n := p.cfg.Lanes.Concurrency(lane)
		for i := 0; i < n; i++ {
			workerID := fmt.Sprintf("%s/%s/%d", p.cfg.Name, lane, i)
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.work(runCtx, lane, workerID)
			}()
		}
		logger.Debug("workerpool: %d %s workers started", n, lane)
	}

	select {
	case <-ctx.Done():
	case <-stopCh:
	}
	cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// Stop signals Start to return.
func (p *WorkerPool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	return nil
}

// Cancel cancels the handler running taskID in this process.
// It reports whether such a handler was found.
func (p *WorkerPool) Cancel(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.active[taskID]
	if ok {
		cancel()
	}
	return ok
}

func (p *WorkerPool) work(ctx context.Context, lane domain.Lane, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		ran, err := p.RunOnce(ctx, lane, workerID)
		if err != nil && ctx.Err() == nil {
			logger.Warn("workerpool: %s: %v", workerID, err)
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce leases at most one task from lane and runs it to completion.
// It reports whether a task was leased.
func (p *WorkerPool) RunOnce(ctx context.Context, lane domain.Lane, workerID string) (bool, error) {
	task, err := p.queue.Lease(ctx, lane, workerID, p.cfg.Visibility)
	if err != nil {
		return false, fmt.Errorf("leasing from %s: %w", lane, err)
	}
	if task == nil {
		return false, nil
	}

	// Queue bookkeeping must survive a shutdown that cancels ctx.
	finishCtx := context.WithoutCancel(ctx)

	p.mu.Lock()
	handler, ok := p.handlers[task.Kind]
	p.mu.Unlock()
	if !ok {
		err := fmt.Errorf("%w: no handler for task kind %q", domain.ErrUnsupportedType, task.Kind)
		metrics.TaskOutcomes.WithLabelValues(string(task.Kind), metrics.OutcomeBuried).Inc()
		return true, p.queue.Bury(finishCtx, task.ID, err)
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.track(task.ID, cancel)
	defer p.untrack(task.ID)

	lost := make(chan struct{})
	hbDone := make(chan struct{})
	go p.heartbeat(handlerCtx, task.ID, workerID, cancel, lost, hbDone)

	logger.Debug("workerpool: %s running %s task %s (attempt %d/%d)", workerID, task.Kind, task.ID, task.Attempt, task.MaxAttempts)
	start := time.Now()
	result, herr := p.safeHandle(handlerCtx, handler, task)
	metrics.TaskDuration.WithLabelValues(string(task.Kind)).Observe(time.Since(start).Seconds())
	cancel()
	<-hbDone

	select {
	case <-lost:
		// Revoked, or the lease lapsed and the task may run elsewhere.
		logger.Warn("workerpool: lost lease on %s task %s", task.Kind, task.ID)
		metrics.TaskOutcomes.WithLabelValues(string(task.Kind), metrics.OutcomeLeaseLost).Inc()
		return true, nil
	default:
	}

	return true, p.finish(finishCtx, task, result, herr)
}

// finish records the handler outcome on the queue.
func (p *WorkerPool) finish(ctx context.Context, task *domain.Task, result []byte, herr error) error {
	kind := string(task.Kind)
	var err error
	switch {
	case herr == nil:
		err = p.queue.Ack(ctx, task.ID, result)
		metrics.TaskOutcomes.WithLabelValues(kind, metrics.OutcomeSucceeded).Inc()
	case !domain.IsRetryable(herr):
		logger.Error("workerpool: %s task %s failed permanently: %v", task.Kind, task.ID, herr)
		err = p.queue.Bury(ctx, task.ID, herr)
		metrics.TaskOutcomes.WithLabelValues(kind, metrics.OutcomeBuried).Inc()
	default:
		delay := p.cfg.Retry.Delay(task.Attempt - 1)
		err = p.queue.Nack(ctx, task.ID, delay, herr)
		if task.MaxAttempts > 0 && task.Attempt >= task.MaxAttempts {
			logger.Error("workerpool: %s task %s dead after %d attempts: %v", task.Kind, task.ID, task.Attempt, herr)
			metrics.TaskOutcomes.WithLabelValues(kind, metrics.OutcomeDead).Inc()
		} else {
			logger.Warn("workerpool: %s task %s failed, retrying in %s: %v", task.Kind, task.ID, delay, herr)
			metrics.TaskOutcomes.WithLabelValues(kind, metrics.OutcomeRetried).Inc()
		}
	}
	if errors.Is(err, domain.ErrTaskTerminal) {
		// Revoked while the handler ran; the outcome is discarded.
		logger.Debug("workerpool: %s task %s finished after reaching a terminal state", task.Kind, task.ID)
		return nil
	}
	return err
}

// heartbeat extends the lease while the handler runs. Losing the lease
// cancels the handler.
func (p *WorkerPool) heartbeat(ctx context.Context, taskID, workerID string, cancel context.CancelFunc, lost, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(max(p.cfg.Visibility/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.queue.Extend(ctx, taskID, workerID, p.cfg.Visibility)
			if err == nil {
				continue
			}
			if errors.Is(err, domain.ErrLeaseLost) || errors.Is(err, domain.ErrNotFound) {
				close(lost)
				cancel()
				return
			}
			if ctx.Err() == nil {
				logger.Warn("workerpool: extending lease on %s: %v", taskID, err)
			}
		}
	}
}

// safeHandle turns a handler panic into a retryable error.
func (p *WorkerPool) safeHandle(ctx context.Context, h TaskHandler, task *domain.Task) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, task)
}

func (p *WorkerPool) track(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[taskID] = cancel
}

func (p *WorkerPool) untrack(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, taskID)
}
