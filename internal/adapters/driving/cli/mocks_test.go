package cli

import (
	"context"
	"sync"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
)

// mockRefreshService is a mock implementation of driving.RefreshService.
type mockRefreshService struct {
	mu        sync.Mutex
	sources   []string
	stats     domain.RefreshStats
	statuses  []domain.RefreshStats
	cycles    []domain.RefreshStats
	err       error
	statusErr error
}

func (m *mockRefreshService) SubmitRefresh(_ context.Context, sourceRef string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, sourceRef)
	return m.stats.CycleID, m.err
}

func (m *mockRefreshService) RunFullRefresh(_ context.Context, sourceRef string) (domain.RefreshStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, sourceRef)
	return m.stats, m.err
}

// GetStatus returns the queued statuses in order, repeating the last one.
func (m *mockRefreshService) GetStatus(_ context.Context, _ string) (domain.RefreshStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return domain.RefreshStats{}, m.statusErr
	}
	if len(m.statuses) == 0 {
		return m.stats, nil
	}
	s := m.statuses[0]
	if len(m.statuses) > 1 {
		m.statuses = m.statuses[1:]
	}
	return s, nil
}

func (m *mockRefreshService) ListCycles(_ context.Context, limit int) ([]domain.RefreshStats, error) {
	if limit > 0 && len(m.cycles) > limit {
		return m.cycles[:limit], m.err
	}
	return m.cycles, m.err
}

func (m *mockRefreshService) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sources...)
}

// mockTaskService is a mock implementation of driving.TaskService.
type mockTaskService struct {
	tasks      []domain.Task
	err        error
	revoked    []string
	retried    []string
	lastFilter domain.TaskFilter
}

func (m *mockTaskService) Revoke(_ context.Context, taskID string) error {
	m.revoked = append(m.revoked, taskID)
	return m.err
}

func (m *mockTaskService) Retry(_ context.Context, taskID string) error {
	m.retried = append(m.retried, taskID)
	return m.err
}

func (m *mockTaskService) List(_ context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	m.lastFilter = filter
	return m.tasks, m.err
}

// mockSearchService is a mock implementation of driving.SearchService.
type mockSearchService struct {
	matches []domain.DocMatch
	err     error
	lastK   int
}

func (m *mockSearchService) Search(_ context.Context, _ []float32, k int) ([]domain.DocMatch, error) {
	m.lastK = k
	return m.matches, m.err
}

func (m *mockSearchService) SearchText(_ context.Context, _ string, k int) ([]domain.DocMatch, error) {
	m.lastK = k
	return m.matches, m.err
}

func (m *mockSearchService) CurrentVersion() string {
	if len(m.matches) > 0 {
		return m.matches[0].VersionID
	}
	return ""
}

// mockMaintenanceService is a mock implementation of driving.MaintenanceService.
type mockMaintenanceService struct {
	report domain.CleanupReport
	stats  domain.IndexStats
	err    error
}

func (m *mockMaintenanceService) Cleanup(context.Context) (domain.CleanupReport, error) {
	return m.report, m.err
}

func (m *mockMaintenanceService) Stats(context.Context) (domain.IndexStats, error) {
	return m.stats, m.err
}

// mockComponent is a driving.Scheduler whose Start blocks until its
// context ends or Stop is called, unless startErr is set or it is
// nonBlocking.
type mockComponent struct {
	mu          sync.Mutex
	started     bool
	stopped     bool
	nonBlocking bool
	startErr    error
	stopCh      chan struct{}
}

func newMockComponent() *mockComponent {
	return &mockComponent{stopCh: make(chan struct{})}
}

func (m *mockComponent) Start(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	if m.startErr != nil || m.nonBlocking {
		return m.startErr
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopCh:
		return nil
	}
}

func (m *mockComponent) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	return nil
}

func (m *mockComponent) isStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *mockComponent) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
