package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
	"github.com/custodia-labs/sercha-indexer/internal/metrics"
)

// Ensure Orchestrator implements the interface.
var _ driving.RefreshService = (*Orchestrator)(nil)

// OrchestratorConfig configures refresh cycles.
type OrchestratorConfig struct {
	// BatchSize is the number of documents per embed task, capped at domain.MaxBatchSize.
	BatchSize int

	// Ceiling bounds how long a cycle waits for its embed tasks.
	Ceiling time.Duration

	// PollInterval is how often embed task states are checked.
	PollInterval time.Duration
}

// Orchestrator runs refresh cycles: it partitions the corpus into embed
// tasks, waits for them, and submits one build over the batches that
// succeeded.
type Orchestrator struct {
	source    driven.DocumentSource
	queue     driven.TaskQueue
	refreshes driven.RefreshStore
	cfg       OrchestratorConfig
	now       func() time.Time

	wg sync.WaitGroup
}

// NewOrchestrator creates a refresh orchestrator.
func NewOrchestrator(source driven.DocumentSource, queue driven.TaskQueue, refreshes driven.RefreshStore, cfg OrchestratorConfig) *Orchestrator {
	defaults := domain.DefaultSettings().Pipeline
	if cfg.BatchSize <= 0 || cfg.BatchSize > domain.MaxBatchSize {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = defaults.RefreshCeiling
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	return &Orchestrator{
		source:    source,
		queue:     queue,
		refreshes: refreshes,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SubmitRefresh starts a cycle in the background and returns its ID.
// The cycle is not bound to ctx; use Wait to await background cycles.
func (o *Orchestrator) SubmitRefresh(ctx context.Context, sourceRef string) (string, error) {
	if sourceRef == "" {
		return "", fmt.Errorf("%w: empty source ref", domain.ErrInvalidInput)
	}
	stats := o.newCycle(sourceRef)
	if err := o.refreshes.Save(ctx, stats); err != nil {
		return "", fmt.Errorf("recording cycle %s: %w", stats.CycleID, err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.run(context.WithoutCancel(ctx), stats); err != nil {
			logger.Error("refresh: cycle %s failed: %v", stats.CycleID, err)
		}
	}()
	return stats.CycleID, nil
}

// RunFullRefresh runs one cycle and returns once its build task is
// submitted. If no batch succeeds it fails with domain.ErrNoBatches and
// nothing is built.
func (o *Orchestrator) RunFullRefresh(ctx context.Context, sourceRef string) (domain.RefreshStats, error) {
	if sourceRef == "" {
		return domain.RefreshStats{}, fmt.Errorf("%w: empty source ref", domain.ErrInvalidInput)
	}
	return o.run(ctx, o.newCycle(sourceRef))
}

// Wait blocks until every cycle started by SubmitRefresh has finished orchestrating.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// GetStatus returns the status of a cycle. A building cycle whose build
// task was dead-lettered or revoked is reported, and recorded, as failed.
func (o *Orchestrator) GetStatus(ctx context.Context, cycleID string) (domain.RefreshStats, error) {
	stats, err := o.refreshes.Get(ctx, cycleID)
	if err != nil {
		return domain.RefreshStats{}, err
	}
	if stats.State != domain.RefreshBuilding || stats.BuildTaskID == "" {
		return *stats, nil
	}

	task, err := o.queue.Get(ctx, stats.BuildTaskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return *stats, nil
		}
		return domain.RefreshStats{}, err
	}
	if task.State == domain.TaskDead || task.State == domain.TaskRevoked {
		stats.State = domain.RefreshFailed
		stats.Error = fmt.Sprintf("build task %s %s: %s", task.ID, task.State, task.LastError)
		stats.EndedAt = task.UpdatedAt
		if err := o.refreshes.Save(ctx, *stats); err != nil {
			logger.Warn("refresh: recording failed build of %s: %v", cycleID, err)
		}
	}
	return *stats, nil
}

// ListCycles returns the most recent cycles, newest first.
func (o *Orchestrator) ListCycles(ctx context.Context, limit int) ([]domain.RefreshStats, error) {
	return o.refreshes.List(ctx, limit)
}

func (o *Orchestrator) newCycle(sourceRef string) domain.RefreshStats {
	now := o.now().UTC()
	return domain.RefreshStats{
		CycleID:   "c-" + now.Format("20060102T150405") + "-" + uuid.NewString()[:8],
		SourceRef: sourceRef,
		State:     domain.RefreshEmbedding,
		StartedAt: now,
	}
}

// pendingBatch tracks one embed task of a cycle.
type pendingBatch struct {
	batchID string
	docs    int
}

func (o *Orchestrator) run(ctx context.Context, stats domain.RefreshStats) (_ domain.RefreshStats, err error) {
	ctx, span := metrics.StartSpan(ctx, "refresh_cycle",
		attribute.String("cycle.id", stats.CycleID),
		attribute.String("source.ref", stats.SourceRef))
	defer func() { metrics.EndSpan(span, err) }()

	logger.Section("Refresh " + stats.CycleID)
	if err := o.refreshes.Save(ctx, stats); err != nil {
		return stats, fmt.Errorf("recording cycle %s: %w", stats.CycleID, err)
	}

	ids, err := o.source.ListIDs(ctx, stats.SourceRef)
	if err != nil {
		return o.fail(ctx, stats, fmt.Errorf("listing corpus %s: %w", stats.SourceRef, err))
	}
	stats.TotalDocuments = len(ids)
	if len(ids) == 0 {
		return o.fail(ctx, stats, fmt.Errorf("%w: corpus %s is empty", domain.ErrNoBatches, stats.SourceRef))
	}

	pending, err := o.submitBatches(ctx, stats.CycleID, stats.SourceRef, ids)
	stats.TotalBatches = len(pending)
	if err != nil {
		o.revokeAll(ctx, pending)
		return o.fail(ctx, stats, err)
	}
	logger.Info("refresh: cycle %s submitted %d embed tasks for %d documents", stats.CycleID, len(pending), len(ids))

	embedStart := o.now()
	embedded, err := o.await(ctx, &stats, pending)
	stats.EmbedDuration = o.now().Sub(embedStart)
	stats.ComputeThroughput(embedded)
	if err != nil {
		return o.fail(ctx, stats, err)
	}

	if stats.FailedBatches > 0 {
		logger.Warn("refresh: cycle %s proceeds without %d of %d batches", stats.CycleID, stats.FailedBatches, stats.TotalBatches)
	}
	if stats.SucceededBatches == 0 {
		return o.fail(ctx, stats, fmt.Errorf("%w: all %d batches of cycle %s failed", domain.ErrNoBatches, stats.TotalBatches, stats.CycleID))
	}

	sort.Strings(stats.BatchIDs)
	build, err := domain.NewTask(domain.TaskKindBuildIndex, domain.BuildPayload{CycleID: stats.CycleID, BatchIDs: stats.BatchIDs})
	if err != nil {
		return o.fail(ctx, stats, err)
	}
	build.ID = uuid.NewString()

	// Recorded before submission so the builder always finds the cycle in building state.
	stats.BuildTaskID = build.ID
	stats.State = domain.RefreshBuilding
	if err := o.refreshes.Save(ctx, stats); err != nil {
		return o.fail(ctx, stats, fmt.Errorf("recording cycle %s: %w", stats.CycleID, err))
	}
	if _, err := o.queue.Submit(ctx, build); err != nil {
		stats.BuildTaskID = ""
		return o.fail(ctx, stats, fmt.Errorf("submitting build: %w", err))
	}

	metrics.RefreshCycles.WithLabelValues(string(domain.RefreshBuilding)).Inc()
	logger.Info("refresh: cycle %s built from %d/%d batches (%.1f docs/s), build task %s",
		stats.CycleID, stats.SucceededBatches, stats.TotalBatches, stats.DocsPerSecond, build.ID)
	return stats, nil
}

// submitBatches partitions ids into fixed-size batches and submits one embed task per batch.
func (o *Orchestrator) submitBatches(ctx context.Context, cycleID, sourceRef string, ids []string) (map[string]pendingBatch, error) {
	pending := make(map[string]pendingBatch)
	for seq, start := 0, 0; start < len(ids); seq, start = seq+1, start+o.cfg.BatchSize {
		end := min(start+o.cfg.BatchSize, len(ids))
		batchID := domain.NewBatchID(cycleID, seq)
		task, err := domain.NewTask(domain.TaskKindEmbed, domain.EmbedPayload{
			CycleID:   cycleID,
			BatchID:   batchID,
			SourceRef: sourceRef,
			DocIDs:    ids[start:end],
		})
		if err != nil {
			return pending, err
		}
		taskID, err := o.queue.Submit(ctx, task)
		if err != nil {
			return pending, fmt.Errorf("submitting batch %s: %w", batchID, err)
		}
		pending[taskID] = pendingBatch{batchID: batchID, docs: end - start}
	}
	return pending, nil
}

// await polls the embed tasks until each is terminal, the ceiling fires,
// or ctx ends. Tasks still pending at the ceiling are revoked and counted
// as failed. It returns the number of documents embedded.
func (o *Orchestrator) await(ctx context.Context, stats *domain.RefreshStats, pending map[string]pendingBatch) (int, error) {
	ceiling := time.NewTimer(o.cfg.Ceiling)
	defer ceiling.Stop()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	embedded := 0
	for {
		for taskID, b := range pending {
			task, err := o.queue.Get(ctx, taskID)
			if err != nil {
				logger.Warn("refresh: checking batch %s: %v", b.batchID, err)
				continue
			}
			if !task.State.IsTerminal() {
				continue
			}
			embedded += o.settle(stats, task, b)
			delete(pending, taskID)
		}
		if len(pending) == 0 {
			return embedded, nil
		}

		select {
		case <-ctx.Done():
			o.revokeAll(context.WithoutCancel(ctx), pending)
			return embedded, ctx.Err()
		case <-ceiling.C:
			logger.Warn("refresh: cycle %s hit its %s ceiling with %d batches pending", stats.CycleID, o.cfg.Ceiling, len(pending))
			for taskID, b := range pending {
				embedded += o.revokeStraggler(ctx, stats, taskID, b)
			}
			return embedded, nil
		case <-ticker.C:
		}
	}
}

// settle folds a terminal embed task into the cycle stats.
func (o *Orchestrator) settle(stats *domain.RefreshStats, task *domain.Task, b pendingBatch) int {
	if task.State != domain.TaskSucceeded {
		logger.Warn("refresh: batch %s is %s: %s", b.batchID, task.State, task.LastError)
		stats.FailedBatches++
		return 0
	}
	var res domain.EmbedResult
	if err := task.DecodeResult(&res); err != nil {
		logger.Warn("refresh: batch %s result: %v", b.batchID, err)
		res.Embedded = b.docs
	}
	stats.SucceededBatches++
	stats.SkippedDocuments += res.Skipped
	stats.BatchIDs = append(stats.BatchIDs, b.batchID)
	return res.Embedded
}

// revokeStraggler revokes a pending embed task at the ceiling. A task that
// finished in the meantime is settled normally instead.
func (o *Orchestrator) revokeStraggler(ctx context.Context, stats *domain.RefreshStats, taskID string, b pendingBatch) int {
	err := o.queue.Revoke(ctx, taskID)
	if err == nil {
		metrics.TaskOutcomes.WithLabelValues(string(domain.TaskKindEmbed), metrics.OutcomeRevoked).Inc()
		stats.FailedBatches++
		return 0
	}
	if errors.Is(err, domain.ErrTaskTerminal) {
		if task, gerr := o.queue.Get(ctx, taskID); gerr == nil {
			return o.settle(stats, task, b)
		}
	}
	logger.Warn("refresh: revoking batch %s: %v", b.batchID, err)
	stats.FailedBatches++
	return 0
}

func (o *Orchestrator) revokeAll(ctx context.Context, pending map[string]pendingBatch) {
	for taskID := range pending {
		if err := o.queue.Revoke(ctx, taskID); err != nil && !errors.Is(err, domain.ErrTaskTerminal) {
			logger.Warn("refresh: revoking %s: %v", taskID, err)
		}
	}
}

// fail records the cycle as failed and returns err.
func (o *Orchestrator) fail(ctx context.Context, stats domain.RefreshStats, err error) (domain.RefreshStats, error) {
	stats.State = domain.RefreshFailed
	stats.Error = err.Error()
	stats.EndedAt = o.now().UTC()
	if serr := o.refreshes.Save(context.WithoutCancel(ctx), stats); serr != nil {
		logger.Warn("refresh: recording failure of %s: %v", stats.CycleID, serr)
	}
	metrics.RefreshCycles.WithLabelValues(string(domain.RefreshFailed)).Inc()
	return stats, err
}
