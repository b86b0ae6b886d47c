package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
	"github.com/custodia-labs/sercha-indexer/internal/metrics"
)

// HotSwapCoordinator announces published versions on the bus.
type HotSwapCoordinator struct {
	bus driven.Bus
	now func() time.Time
}

// NewHotSwapCoordinator creates a coordinator publishing on bus.
func NewHotSwapCoordinator(bus driven.Bus) *HotSwapCoordinator {
	return &HotSwapCoordinator{bus: bus, now: time.Now}
}

// Announce broadcasts that version is published. Delivery is at-most-once;
// nodes that miss it catch up by polling the latest pointer.
func (c *HotSwapCoordinator) Announce(ctx context.Context, versionID string, vectorCount int) (err error) {
	ctx, span := metrics.StartSpan(ctx, "announce_swap", attribute.String("version.id", versionID))
	defer func() { metrics.EndSpan(span, err) }()

	payload, err := json.Marshal(domain.SwapAnnouncement{
		VersionID:   versionID,
		VectorCount: vectorCount,
		PublishedAt: c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshalling announcement: %w", err)
	}
	if err := c.bus.Publish(ctx, domain.SwapTopic, payload); err != nil {
		return fmt.Errorf("announcing %s: %w", versionID, err)
	}
	logger.Info("hotswap: announced %s (%d vectors)", versionID, vectorCount)
	return nil
}

// HandleSwap is the hot_swap task handler.
func (c *HotSwapCoordinator) HandleSwap(ctx context.Context, task *domain.Task) ([]byte, error) {
	var p domain.SwapPayload
	if err := task.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.VersionID == "" {
		return nil, fmt.Errorf("%w: hot_swap task %s has no version", domain.ErrInvalidInput, task.ID)
	}
	return nil, c.Announce(ctx, p.VersionID, p.VectorCount)
}

// OnAnnounce subscribes to swap announcements and calls handler for each
// one until ctx is cancelled or the subscription closes. Handlers run one
// at a time. Malformed messages are dropped. The returned channel is
// closed once the handler loop has exited.
func (c *HotSwapCoordinator) OnAnnounce(ctx context.Context, handler func(context.Context, domain.SwapAnnouncement)) (<-chan struct{}, error) {
	sub, err := c.bus.Subscribe(ctx, domain.SwapTopic)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", domain.SwapTopic, err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sub.Close()
		for msg := range sub.Messages() {
			var a domain.SwapAnnouncement
			if err := json.Unmarshal(msg, &a); err != nil || a.VersionID == "" {
				logger.Warn("hotswap: dropping malformed announcement: %q", msg)
				continue
			}
			handler(ctx, a)
		}
	}()
	return done, nil
}

// SwapSubscriberConfig configures a SwapSubscriber.
type SwapSubscriberConfig struct {
	// PollInterval is how often the latest pointer is re-read.
	PollInterval time.Duration
}

// SwapSubscriber keeps a serving node's IndexCache on the published
// version. Announcements trigger an immediate swap; a periodic poll of the
// latest pointer catches up with any missed announcement.
type SwapSubscriber struct {
	coordinator *HotSwapCoordinator
	cache       *IndexCache
	cfg         SwapSubscriberConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSwapSubscriber creates a subscriber feeding cache.
func NewSwapSubscriber(coordinator *HotSwapCoordinator, cache *IndexCache, cfg SwapSubscriberConfig) *SwapSubscriber {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = domain.DefaultSettings().Serving.PollInterval
	}
	return &SwapSubscriber{coordinator: coordinator, cache: cache, cfg: cfg}
}

// Start subscribes to announcements, loads the latest version in the
// background and starts the poll loop. It returns immediately. A bus that
// cannot be reached leaves the node on polling alone.
func (s *SwapSubscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	done, err := s.coordinator.OnAnnounce(ctx, s.onAnnounce)
	if err != nil {
		logger.Warn("hotswap: %v; relying on polling every %s", err, s.cfg.PollInterval)
	} else {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			<-done
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poll(ctx)
	}()
	return nil
}

// Stop ends the subscription and the poll loop and waits for in-flight loads.
func (s *SwapSubscriber) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// onAnnounce adopts an announced version. The latest pointer wins over the
// announcement, so out-of-order announcements cannot move a node backwards.
func (s *SwapSubscriber) onAnnounce(ctx context.Context, a domain.SwapAnnouncement) {
	if s.cache.CurrentVersion() == a.VersionID {
		logger.Debug("hotswap: already serving %s", a.VersionID)
		return
	}
	target, count := a.VersionID, a.VectorCount
	if latest, err := s.cache.latest(ctx); err == nil && latest != a.VersionID {
		logger.Info("hotswap: announcement %s is superseded by %s", a.VersionID, latest)
		target, count = latest, 0
	}
	if _, err := s.cache.Adopt(ctx, target, count); err != nil && ctx.Err() == nil {
		logger.Warn("hotswap: node stays on %q: %v", s.cache.CurrentVersion(), err)
	}
}

func (s *SwapSubscriber) poll(ctx context.Context) {
	s.refresh(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *SwapSubscriber) refresh(ctx context.Context) {
	swapped, err := s.cache.Refresh(ctx)
	switch {
	case err == nil:
		if swapped {
			logger.Debug("hotswap: poll adopted %s", s.cache.CurrentVersion())
		}
	case errors.Is(err, domain.ErrNotFound):
		logger.Debug("hotswap: nothing published yet")
	case ctx.Err() == nil:
		logger.Warn("hotswap: poll: %v", err)
	}
}
