package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers, caches their last results, and
// aggregates them into readiness and liveness answers.
type Manager struct {
	checkers      map[string]Checker
	lastResults   map[string]CheckResult
	checkInterval time.Duration
	started       bool
	stopCh        chan struct{}
	logger        *zap.Logger
	mu            sync.RWMutex
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers:      make(map[string]Checker),
		lastResults:   make(map[string]CheckResult),
		checkInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}
}

// SetCheckInterval adjusts how often background checks run.
func (m *Manager) SetCheckInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	m.checkInterval = interval
	m.mu.Unlock()
}

// RegisterChecker registers a health check under its name.
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("health checker %q already registered", name)
	}
	m.checkers[name] = checker
	m.logger.Info("Registered health checker",
		zap.String("name", name),
		zap.Bool("critical", checker.IsCritical()))
	return nil
}

// runSingleCheck executes one checker under its own timeout.
func (m *Manager) runSingleCheck(ctx context.Context, checker Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	done := make(chan CheckResult, 1)
	go func() {
		done <- checker.Check(checkCtx)
	}()

	select {
	case result := <-done:
		return result
	case <-checkCtx.Done():
		return CheckResult{
			Status:    StatusUnhealthy,
			Error:     "health check timed out",
			Component: checker.Name(),
			Critical:  checker.IsCritical(),
			Timestamp: time.Now(),
			Duration:  checker.Timeout(),
		}
	}
}

// GetDetailedHealth runs every checker and reports per-component results.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	start := time.Now()

	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	components := make(map[string]CheckResult, len(checkers))
	var cmu sync.Mutex
	var wg sync.WaitGroup
	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			result := m.runSingleCheck(ctx, c)
			cmu.Lock()
			components[c.Name()] = result
			cmu.Unlock()
		}(checker)
	}
	wg.Wait()

	m.mu.Lock()
	for name, result := range components {
		m.lastResults[name] = result
	}
	m.mu.Unlock()

	summary := summarize(components)
	overall := aggregate(components, summary)
	overall.Duration = time.Since(start)

	return DetailedHealth{
		Overall:    overall,
		Components: components,
		Summary:    summary,
		Timestamp:  time.Now(),
	}
}

// GetOverallHealth aggregates the most recent results without re-running
// every checker; it re-runs only when nothing has been checked yet.
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	m.mu.RLock()
	cached := make(map[string]CheckResult, len(m.lastResults))
	for name, result := range m.lastResults {
		cached[name] = result
	}
	m.mu.RUnlock()

	if len(cached) == 0 {
		return m.GetDetailedHealth(ctx).Overall
	}
	summary := summarize(cached)
	return aggregate(cached, summary)
}

// IsReady reports whether every critical dependency is usable.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// Start begins background health checking.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("health manager already started")
	}
	m.started = true
	m.mu.Unlock()

	// Prime the result cache so readiness answers immediately.
	m.GetDetailedHealth(ctx)

	go m.backgroundChecker()
	return nil
}

// Stop stops background health checking.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	m.started = false
	close(m.stopCh)
	return nil
}

func (m *Manager) backgroundChecker() {
	m.mu.RLock()
	interval := m.checkInterval
	m.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			detail := m.GetDetailedHealth(context.Background())
			if detail.Overall.Status == StatusUnhealthy {
				m.logger.Warn("Background health check unhealthy",
					zap.String("message", detail.Overall.Message),
					zap.Int("unhealthy", detail.Summary.Unhealthy))
			}
		}
	}
}

func summarize(components map[string]CheckResult) HealthSummary {
	s := HealthSummary{Total: len(components)}
	for _, r := range components {
		switch r.Status {
		case StatusHealthy:
			s.Healthy++
		case StatusDegraded:
			s.Degraded++
		default:
			s.Unhealthy++
		}
		if r.Critical {
			s.Critical++
		}
	}
	return s
}

// aggregate folds component results into one status: a failed critical
// check is unhealthy and not ready; a failed non-critical check or any
// degraded check is degraded but still ready.
func aggregate(components map[string]CheckResult, summary HealthSummary) OverallHealth {
	overall := OverallHealth{
		Status:    StatusHealthy,
		Message:   "all checks healthy",
		Timestamp: time.Now(),
		Ready:     true,
	}

	for name, r := range components {
		switch r.Status {
		case StatusUnhealthy:
			if r.Critical {
				overall.Status = StatusUnhealthy
				overall.Ready = false
				overall.Message = fmt.Sprintf("critical dependency %s unhealthy", name)
				overall.Degraded = true
				return overall
			}
			overall.Status = StatusDegraded
			overall.Degraded = true
			overall.Message = fmt.Sprintf("non-critical dependency %s unhealthy", name)
		case StatusDegraded:
			if overall.Status == StatusHealthy {
				overall.Status = StatusDegraded
				overall.Degraded = true
				overall.Message = fmt.Sprintf("dependency %s degraded", name)
			}
		}
	}

	if summary.Unhealthy == 0 && summary.Degraded == 0 {
		overall.Message = "all checks healthy"
	}
	return overall
}
