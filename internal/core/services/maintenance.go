package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-indexer/internal/codec"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
	"github.com/custodia-labs/sercha-indexer/internal/metrics"
)

// Ensure Maintenance implements the interface.
var _ driving.MaintenanceService = (*Maintenance)(nil)

// MaintenanceConfig configures retention.
type MaintenanceConfig struct {
	// RetainVersions is how many of the newest versions are always kept.
	RetainVersions int

	// Retention is how long versions, and batches of finished cycles, are kept.
	Retention time.Duration
}

// Maintenance runs the cleanup and stats tasks.
type Maintenance struct {
	store     driven.ObjectStore
	queue     driven.TaskQueue
	refreshes driven.RefreshStore
	cfg       MaintenanceConfig
	now       func() time.Time
}

// NewMaintenance creates the maintenance service.
func NewMaintenance(store driven.ObjectStore, queue driven.TaskQueue, refreshes driven.RefreshStore, cfg MaintenanceConfig) *Maintenance {
	if cfg.RetainVersions < 0 {
		cfg.RetainVersions = 0
	}
	return &Maintenance{store: store, queue: queue, refreshes: refreshes, cfg: cfg, now: time.Now}
}

// storedVersion is a version found in the object store.
type storedVersion struct {
	id        string
	createdAt time.Time
	batchIDs  []string
	keys      []string

	// complete is false while the version has no readable metadata, as
	// when a build is still writing it.
	complete bool
}

// Cleanup deletes index versions outside the retention window. The version
// named by latest, the RetainVersions newest versions and versions without
// readable metadata are never deleted.
// Batches of finished cycles older than the window are deleted unless a
// kept version was built from them.
func (m *Maintenance) Cleanup(ctx context.Context) (domain.CleanupReport, error) {
	var report domain.CleanupReport
	latest, err := m.latest(ctx)
	if err != nil {
		return report, err
	}
	versions, err := m.versions(ctx)
	if err != nil {
		return report, err
	}

	cutoff := m.now().Add(-m.cfg.Retention)
	referenced := make(map[string]bool)
	var doomed []storedVersion
	retained := 0
	for _, v := range versions {
		if !v.complete {
			logger.Debug("cleanup: skipping incomplete version %s", v.id)
			report.KeptVersions = append(report.KeptVersions, v.id)
			continue
		}
		keep := v.id == latest || retained < m.cfg.RetainVersions || v.createdAt.After(cutoff)
		retained++
		if keep {
			report.KeptVersions = append(report.KeptVersions, v.id)
			for _, id := range v.batchIDs {
				referenced[id] = true
			}
			continue
		}
		doomed = append(doomed, v)
	}

	for _, v := range doomed {
		if err := m.deleteKeys(ctx, v.keys); err != nil {
			return report, fmt.Errorf("deleting version %s: %w", v.id, err)
		}
		report.DeletedVersions = append(report.DeletedVersions, v.id)
		report.DeletedKeys += len(v.keys)
		logger.Info("cleanup: deleted version %s (created %s)", v.id, v.createdAt.Format(time.RFC3339))
	}

	cycles, err := m.deletableCycles(ctx, cutoff, referenced)
	if err != nil {
		return report, err
	}
	for cycleID, keys := range cycles {
		if err := m.deleteKeys(ctx, keys); err != nil {
			return report, fmt.Errorf("deleting batches of %s: %w", cycleID, err)
		}
		report.DeletedCycles = append(report.DeletedCycles, cycleID)
		report.DeletedKeys += len(keys)
	}
	sort.Strings(report.DeletedCycles)

	metrics.StoredVersions.Set(float64(len(report.KeptVersions)))
	return report, nil
}

func (m *Maintenance) latest(ctx context.Context) (string, error) {
	data, err := m.store.Get(ctx, domain.LatestPointerKey)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading latest pointer: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// versions lists stored versions, newest first. A version whose metadata
// cannot be read is incomplete and sorts last.
func (m *Maintenance) versions(ctx context.Context) ([]storedVersion, error) {
	keys, err := m.store.List(ctx, domain.IndexesPrefix+"/")
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	byID := make(map[string]*storedVersion)
	var order []string
	for _, key := range keys {
		rest := strings.TrimPrefix(key, domain.IndexesPrefix+"/")
		id, _, nested := strings.Cut(rest, "/")
		if !nested {
			continue // the latest pointer
		}
		v, ok := byID[id]
		if !ok {
			v = &storedVersion{id: id}
			byID[id] = v
			order = append(order, id)
		}
		v.keys = append(v.keys, key)
	}

	out := make([]storedVersion, 0, len(order))
	for _, id := range order {
		v := byID[id]
		data, err := m.store.Get(ctx, domain.MetadataKey(id))
		if err == nil {
			if table, derr := codec.DecodeMetadata(data); derr == nil {
				v.createdAt = table.Version.CreatedAt
				v.batchIDs = table.Version.BatchIDs
				v.complete = true
			} else {
				logger.Warn("cleanup: version %s has unreadable metadata: %v", id, derr)
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("reading metadata of %s: %w", id, err)
		}
		out = append(out, *v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].createdAt.After(out[j].createdAt)
	})
	return out, nil
}

// deletableCycles returns the batch keys of every finished cycle that ended
// before cutoff and has no batch referenced by a kept version.
func (m *Maintenance) deletableCycles(ctx context.Context, cutoff time.Time, referenced map[string]bool) (map[string][]string, error) {
	keys, err := m.store.List(ctx, domain.BatchesPrefix+"/")
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	byCycle := make(map[string][]string)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, domain.BatchesPrefix+"/")
		cycleID, file, ok := strings.Cut(rest, "/")
		if !ok {
			continue
		}
		if referenced[strings.TrimSuffix(file, ".bin")] {
			byCycle[cycleID] = nil
			continue
		}
		if list, seen := byCycle[cycleID]; seen && list == nil {
			continue
		}
		byCycle[cycleID] = append(byCycle[cycleID], key)
	}

	out := make(map[string][]string)
	for cycleID, keys := range byCycle {
		if keys == nil {
			continue
		}
		stats, err := m.refreshes.Get(ctx, cycleID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			continue // unknown cycles are left alone
		}
		if !stats.State.IsTerminal() || stats.EndedAt.IsZero() || stats.EndedAt.After(cutoff) {
			continue
		}
		out[cycleID] = keys
	}
	return out, nil
}

// deleteKeys deletes keys in order. A version's metadata.bin sorts after
// index.bin, so an interrupted delete leaves the version complete.
func (m *Maintenance) deleteKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := m.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Stats snapshots the published index, the stored versions and the queue
// depth of every lane, and exports them as metrics.
func (m *Maintenance) Stats(ctx context.Context) (domain.IndexStats, error) {
	stats := domain.IndexStats{QueueDepth: make(map[domain.Lane]int)}
	for _, lane := range domain.Lanes {
		n, err := m.queue.Depth(ctx, lane)
		if err != nil {
			return stats, fmt.Errorf("queue depth of %s: %w", lane, err)
		}
		stats.QueueDepth[lane] = n
		metrics.QueueDepth.WithLabelValues(string(lane)).Set(float64(n))
	}

	latest, err := m.latest(ctx)
	if err != nil {
		return stats, err
	}
	stats.LatestVersion = latest
	if latest != "" {
		data, err := m.store.Get(ctx, domain.MetadataKey(latest))
		if err != nil {
			return stats, fmt.Errorf("reading metadata of %s: %w", latest, err)
		}
		table, err := codec.DecodeMetadata(data)
		if err != nil {
			return stats, err
		}
		stats.LatestVectors = table.Version.VectorCount
		stats.LatestKind = table.Version.Kind
		metrics.IndexVectors.Set(float64(stats.LatestVectors))
	}

	versionKeys, err := m.store.List(ctx, domain.IndexesPrefix+"/")
	if err != nil {
		return stats, err
	}
	stats.StoredVersions = countPrefixes(versionKeys, domain.IndexesPrefix+"/")
	batchKeys, err := m.store.List(ctx, domain.BatchesPrefix+"/")
	if err != nil {
		return stats, err
	}
	stats.BatchCycles = countPrefixes(batchKeys, domain.BatchesPrefix+"/")
	metrics.StoredVersions.Set(float64(stats.StoredVersions))
	return stats, nil
}

// countPrefixes counts the distinct directories directly under prefix.
func countPrefixes(keys []string, prefix string) int {
	seen := make(map[string]bool)
	for _, key := range keys {
		dir, _, nested := strings.Cut(strings.TrimPrefix(key, prefix), "/")
		if nested {
			seen[dir] = true
		}
	}
	return len(seen)
}

// HandleCleanup is the cleanup task handler.
func (m *Maintenance) HandleCleanup(ctx context.Context, _ *domain.Task) ([]byte, error) {
	report, err := m.Cleanup(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("cleanup: kept %d versions, deleted %d versions and %d cycles",
		len(report.KeptVersions), len(report.DeletedVersions), len(report.DeletedCycles))
	return json.Marshal(report)
}

// HandleStats is the stats task handler.
func (m *Maintenance) HandleStats(ctx context.Context, _ *domain.Task) ([]byte, error) {
	stats, err := m.Stats(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("stats: latest=%s vectors=%d versions=%d depth=%v",
		stats.LatestVersion, stats.LatestVectors, stats.StoredVersions, stats.QueueDepth)
	return json.Marshal(stats)
}
