package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/custodia-labs/sercha-indexer/internal/codec"
	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
	"github.com/custodia-labs/sercha-indexer/internal/metrics"
	"github.com/custodia-labs/sercha-indexer/internal/vectorindex"
)

// IndexCacheConfig configures an IndexCache.
type IndexCacheConfig struct {
	// SwapTimeout bounds fetching and validating one version.
	SwapTimeout time.Duration

	// ColdStartWait is how long a query waits for the first load before
	// loading synchronously.
	ColdStartWait time.Duration
}

// activeIndex is one immutable (version, index, metadata) triple.
// It is replaced as a whole, never mutated.
type activeIndex struct {
	version domain.IndexVersion
	index   driven.VectorIndex
	table   *codec.MetadataTable
}

// IndexCache holds the index a serving node answers queries from.
// Queries read it with a single atomic load; a swap stores a fully
// validated replacement. Loads are serialised.
type IndexCache struct {
	store driven.ObjectStore
	cfg   IndexCacheConfig

	active    atomic.Pointer[activeIndex]
	loadMu    sync.Mutex
	ready     chan struct{}
	readyOnce sync.Once
	degraded  atomic.Int64
}

// NewIndexCache creates an empty cache reading versions from store.
func NewIndexCache(store driven.ObjectStore, cfg IndexCacheConfig) *IndexCache {
	defaults := domain.DefaultSettings().Serving
	if cfg.SwapTimeout <= 0 {
		cfg.SwapTimeout = defaults.SwapTimeout
	}
	if cfg.ColdStartWait < 0 {
		cfg.ColdStartWait = 0
	}
	return &IndexCache{
		store: store,
		cfg:   cfg,
		ready: make(chan struct{}),
	}
}

// CurrentVersion returns the active version id, or "" before the first load.
func (c *IndexCache) CurrentVersion() string {
	if a := c.active.Load(); a != nil {
		return a.version.VersionID
	}
	return ""
}

// Current returns the active version.
func (c *IndexCache) Current() (domain.IndexVersion, bool) {
	if a := c.active.Load(); a != nil {
		return a.version, true
	}
	return domain.IndexVersion{}, false
}

// DegradedLoads counts synchronous loads made in the query path.
func (c *IndexCache) DegradedLoads() int64 {
	return c.degraded.Load()
}

// Query returns the k nearest documents to vector. Every match comes from
// the same version. Before the first load it waits up to ColdStartWait and
// then loads latest synchronously; with nothing published it returns
// domain.ErrIndexUnavailable.
func (c *IndexCache) Query(ctx context.Context, vector []float32, k int) ([]domain.DocMatch, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", domain.ErrInvalidInput)
	}
	start := time.Now()
	defer func() { metrics.QueryLatency.Observe(time.Since(start).Seconds()) }()

	a := c.active.Load()
	if a == nil {
		var err error
		if a, err = c.coldStart(ctx); err != nil {
			return nil, err
		}
	}

	hits, err := a.index.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	matches := make([]domain.DocMatch, len(hits))
	for i, h := range hits {
		docID, md := a.table.Row(h.Row)
		matches[i] = domain.DocMatch{
			DocID:     docID,
			Score:     h.Similarity,
			Metadata:  md,
			VersionID: a.version.VersionID,
		}
	}
	return matches, nil
}

// coldStart waits for the first asynchronous load, then falls back to the
// degraded synchronous load of latest.
func (c *IndexCache) coldStart(ctx context.Context) (*activeIndex, error) {
	if c.cfg.ColdStartWait > 0 {
		timer := time.NewTimer(c.cfg.ColdStartWait)
		select {
		case <-c.ready:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
		if a := c.active.Load(); a != nil {
			return a, nil
		}
	}

	c.degraded.Add(1)
	metrics.DegradedLoads.Inc()
	logger.Warn("index cache: no index loaded, loading latest synchronously (degraded)")

	if _, err := c.Refresh(ctx); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: nothing published yet", domain.ErrIndexUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	a := c.active.Load()
	if a == nil {
		return nil, domain.ErrIndexUnavailable
	}
	return a, nil
}

// Refresh adopts the version named by indexes/latest if it is not already
// active. It reports whether a swap happened. A missing pointer returns an
// error wrapping domain.ErrNotFound.
func (c *IndexCache) Refresh(ctx context.Context) (bool, error) {
	versionID, err := c.latest(ctx)
	if err != nil {
		return false, err
	}
	return c.Adopt(ctx, versionID, 0)
}

func (c *IndexCache) latest(ctx context.Context) (string, error) {
	data, err := c.store.Get(ctx, domain.LatestPointerKey)
	if err != nil {
		return "", fmt.Errorf("reading latest pointer: %w", err)
	}
	versionID := strings.TrimSpace(string(data))
	if versionID == "" {
		return "", fmt.Errorf("%w: empty latest pointer", domain.ErrCorruptBlob)
	}
	return versionID, nil
}

// Adopt fetches, validates and activates a version. expectedCount, when
// positive, must match the index size. On any failure the active index is
// left untouched. Adopting the active version is a no-op.
func (c *IndexCache) Adopt(ctx context.Context, versionID string, expectedCount int) (_ bool, err error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if c.CurrentVersion() == versionID {
		metrics.Swaps.WithLabelValues(metrics.SwapIgnored).Inc()
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SwapTimeout)
	defer cancel()
	ctx, span := metrics.StartSpan(ctx, "swap_index", attribute.String("version.id", versionID))
	defer func() { metrics.EndSpan(span, err) }()

	next, err := c.load(ctx, versionID, expectedCount)
	if err != nil {
		metrics.Swaps.WithLabelValues(metrics.SwapRejected).Inc()
		if prev := c.CurrentVersion(); prev != "" {
			logger.Warn("index cache: rejected %s, staying on %s: %v", versionID, prev, err)
		} else {
			logger.Warn("index cache: rejected %s: %v", versionID, err)
		}
		return false, err
	}

	prev := c.active.Swap(next)
	c.readyOnce.Do(func() { close(c.ready) })
	metrics.Swaps.WithLabelValues(metrics.SwapSwapped).Inc()
	metrics.ServingVectors.Set(float64(next.index.Len()))
	if prev != nil {
		logger.Info("index cache: swapped %s -> %s (%d vectors)", prev.version.VersionID, versionID, next.index.Len())
	} else {
		logger.Info("index cache: loaded %s (%d vectors)", versionID, next.index.Len())
	}
	return true, nil
}

// load reads both blobs of a version and checks they agree with each other
// and with the announcement.
func (c *IndexCache) load(ctx context.Context, versionID string, expectedCount int) (*activeIndex, error) {
	indexBlob, err := c.store.Get(ctx, domain.IndexKey(versionID))
	if err != nil {
		return nil, fmt.Errorf("fetching index: %w", err)
	}
	metaBlob, err := c.store.Get(ctx, domain.MetadataKey(versionID))
	if err != nil {
		return nil, fmt.Errorf("fetching metadata: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx, err := vectorindex.Decode(indexBlob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}
	table, err := codec.DecodeMetadata(metaBlob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}

	v := table.Version
	switch {
	case v.VersionID != versionID:
		return nil, fmt.Errorf("%w: metadata belongs to %s", domain.ErrValidationFailed, v.VersionID)
	case idx.Len() != table.Len():
		return nil, fmt.Errorf("%w: index has %d rows, metadata %d", domain.ErrValidationFailed, idx.Len(), table.Len())
	case idx.Len() != v.VectorCount:
		return nil, fmt.Errorf("%w: index has %d vectors, metadata declares %d", domain.ErrValidationFailed, idx.Len(), v.VectorCount)
	case idx.Dimension() != v.Dimension:
		return nil, fmt.Errorf("%w: index dimension %d, metadata declares %d", domain.ErrValidationFailed, idx.Dimension(), v.Dimension)
	case expectedCount > 0 && idx.Len() != expectedCount:
		return nil, fmt.Errorf("%w: index has %d vectors, announced %d", domain.ErrValidationFailed, idx.Len(), expectedCount)
	}

	return &activeIndex{version: v, index: idx, table: table}, nil
}
