package services

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// defaultTick is how often the scheduler checks for due triggers.
const defaultTick = time.Minute

// SchedulerOptions wires the work the periodic triggers submit.
type SchedulerOptions struct {
	// Refresh runs corpus refresh cycles.
	Refresh driving.RefreshService

	// Queue receives cleanup and stats tasks.
	Queue driven.TaskQueue

	// SourceRef is the corpus refreshed by the corpus-refresh trigger.
	SourceRef string

	// Watch, when set, triggers a refresh whenever SourceRef changes.
	Watch driven.WatchableSource
}

// Scheduler fires periodic triggers: corpus refreshes, index cleanup and
// stats snapshots. Trigger state and history are persisted so schedules
// survive restarts.
type Scheduler struct {
	config domain.SchedulerConfig
	store  driven.SchedulerStore
	opts   SchedulerOptions
	tick   time.Duration

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
	refreshing sync.Mutex
}

// NewScheduler creates a scheduler with configuration.
func NewScheduler(config domain.SchedulerConfig, store driven.SchedulerStore, opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		config: config,
		store:  store,
		opts:   opts,
		tick:   defaultTick,
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if !s.config.Enabled {
		logger.Info("scheduler: disabled")
	} else if err := s.initialiseTasks(ctx); err != nil {
		logger.Warn("scheduler: failed to initialise tasks: %v", err)
	}

	if s.opts.Watch != nil && s.opts.SourceRef != "" && s.opts.Refresh != nil {
		if err := s.watch(ctx); err != nil {
			logger.Warn("scheduler: not watching %s: %v", s.opts.SourceRef, err)
		}
	}

	return s.run(ctx)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for running tasks to complete
	s.wg.Wait()

	return nil
}

// initialiseTasks ensures all configured tasks exist in the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	triggers := []struct {
		id, name string
	}{
		{domain.TaskIDCorpusRefresh, "Corpus Refresh"},
		{domain.TaskIDIndexCleanup, "Index Cleanup"},
		{domain.TaskIDIndexStats, "Index Stats"},
	}
	for _, tr := range triggers {
		taskCfg := s.config.GetTaskConfig(tr.id)
		if !taskCfg.Enabled || taskCfg.Interval <= 0 {
			continue
		}
		if err := s.ensureTask(ctx, tr.id, tr.name, taskCfg); err != nil {
			return err
		}
	}
	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if task == nil {
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: cfg.Interval,
			Enabled:  cfg.Enabled,
			NextRun:  time.Now().Add(cfg.Interval),
		}
	} else {
		// Update interval if changed
		if task.Interval != cfg.Interval {
			task.Interval = cfg.Interval
			task.NextRun = time.Now().Add(cfg.Interval)
		}
		task.Enabled = cfg.Enabled
	}

	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) error {
	// Check for due tasks immediately on startup
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// checkAndRunDueTasks finds and executes tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	if !s.config.Enabled {
		return
	}
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Warn("scheduler: failed to list tasks: %v", err)
		return
	}

	now := time.Now()
	for i := range tasks {
		task := &tasks[i]
		if !task.Enabled {
			continue
		}
		if task.NextRun.IsZero() || !task.NextRun.After(now) {
			s.runTask(ctx, task)
		}
	}
}

// runTask executes a single task.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		result := &domain.TaskResult{
			TaskID:    task.ID,
			StartedAt: time.Now(),
		}

		var err error
		switch task.ID {
		case domain.TaskIDCorpusRefresh:
			result.TasksSubmitted, err = s.runRefresh(ctx)
		case domain.TaskIDIndexCleanup:
			result.TasksSubmitted, err = s.submit(ctx, domain.TaskKindCleanup, "scheduled")
		case domain.TaskIDIndexStats:
			result.TasksSubmitted, err = s.submit(ctx, domain.TaskKindStats, "scheduled")
		default:
			logger.Warn("scheduler: unknown task ID: %s", task.ID)
			return
		}

		result.EndedAt = time.Now()
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			task.LastError = err.Error()
			logger.Warn("scheduler: %s failed: %v", task.ID, err)
		} else {
			result.Success = true
			task.LastError = ""
			task.LastSuccess = result.EndedAt
		}

		// Update task state
		task.LastRun = result.StartedAt
		task.NextRun = result.EndedAt.Add(task.Interval)

		if saveErr := s.store.SaveTask(ctx, task); saveErr != nil {
			logger.Warn("scheduler: failed to save task %s: %v", task.ID, saveErr)
		}

		// Record result for history
		if recordErr := s.store.RecordResult(ctx, result); recordErr != nil {
			logger.Warn("scheduler: failed to record result for %s: %v", task.ID, recordErr)
		}

		// Prune old history (keep last 100 results per task)
		if pruneErr := s.store.PruneHistory(ctx, 100); pruneErr != nil {
			logger.Warn("scheduler: failed to prune history: %v", pruneErr)
		}
	}()
}

// runRefresh runs one refresh cycle of the configured corpus and returns
// the number of queue tasks it submitted. Overlapping refreshes are skipped.
func (s *Scheduler) runRefresh(ctx context.Context) (int, error) {
	if s.opts.Refresh == nil || s.opts.SourceRef == "" {
		return 0, nil
	}
	if !s.refreshing.TryLock() {
		logger.Info("scheduler: refresh of %s already running, skipping", s.opts.SourceRef)
		return 0, nil
	}
	defer s.refreshing.Unlock()

	stats, err := s.opts.Refresh.RunFullRefresh(ctx, s.opts.SourceRef)
	submitted := stats.TotalBatches
	if stats.BuildTaskID != "" {
		submitted++
	}
	return submitted, err
}

// submit enqueues one maintenance task.
func (s *Scheduler) submit(ctx context.Context, kind domain.TaskKind, reason string) (int, error) {
	if s.opts.Queue == nil {
		return 0, nil
	}
	task, err := domain.NewTask(kind, domain.MaintenancePayload{Reason: reason})
	if err != nil {
		return 0, err
	}
	if _, err := s.opts.Queue.Submit(ctx, task); err != nil {
		return 0, err
	}
	return 1, nil
}

// watch starts a refresh each time the watched corpus changes.
func (s *Scheduler) watch(ctx context.Context) error {
	changes, err := s.opts.Watch.Watch(ctx, s.opts.SourceRef)
	if err != nil {
		return err
	}
	logger.Info("scheduler: watching %s for changes", s.opts.SourceRef)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stopCh:
				return
			case ref, ok := <-changes:
				if !ok {
					return
				}
				logger.Info("scheduler: %s changed, refreshing", ref)
				if _, err := s.runRefresh(ctx); err != nil {
					logger.Warn("scheduler: refresh after change failed: %v", err)
				}
			}
		}
	}()
	return nil
}
