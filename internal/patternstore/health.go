package patternstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HealthChecker reports remote store health. Implementations exist for the
// Qdrant gRPC connection and for tests.
type HealthChecker interface {
	// IsHealthy returns true if the remote store is reachable.
	IsHealthy(ctx context.Context) bool
}

// PingHealthChecker checks health by invoking a ping function.
type PingHealthChecker struct {
	ping    func(ctx context.Context) error
	timeout time.Duration
}

// NewPingHealthChecker creates a health checker from a ping function, such
// as (*QdrantStore).HealthCheck.
func NewPingHealthChecker(ping func(ctx context.Context) error) *PingHealthChecker {
	return &PingHealthChecker{ping: ping, timeout: 5 * time.Second}
}

// IsHealthy returns true if the ping succeeds within the timeout.
func (p *PingHealthChecker) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.ping(ctx) == nil
}

// MockHealthChecker for testing.
type MockHealthChecker struct {
	healthy atomic.Bool
}

// NewMockHealthChecker creates a new mock health checker.
func NewMockHealthChecker() *MockHealthChecker {
	return &MockHealthChecker{}
}

// IsHealthy returns the mock health status.
func (m *MockHealthChecker) IsHealthy(ctx context.Context) bool {
	return m.healthy.Load()
}

// SetHealthy sets the mock health status.
func (m *MockHealthChecker) SetHealthy(healthy bool) {
	m.healthy.Store(healthy)
}

// HealthMonitor polls remote store connectivity and notifies registered
// callbacks on health transitions.
type HealthMonitor struct {
	checker       HealthChecker
	healthy       atomic.Bool
	lastCheck     atomic.Value // time.Time
	checkInterval time.Duration
	mu            sync.RWMutex // protects callbacks
	callbacks     []func(bool)
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *zap.Logger
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(ctx context.Context, checker HealthChecker, checkInterval time.Duration, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	hm := &HealthMonitor{
		checker:       checker,
		checkInterval: checkInterval,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
	}

	hm.healthy.Store(checker.IsHealthy(ctx))
	hm.lastCheck.Store(time.Now())

	return hm
}

// Start begins periodic health checks.
func (hm *HealthMonitor) Start() {
	go hm.runPeriodicCheck()
}

func (hm *HealthMonitor) runPeriodicCheck() {
	ticker := time.NewTicker(hm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			hm.CheckNow()
		}
	}
}

// CheckNow performs an immediate health check and updates state.
func (hm *HealthMonitor) CheckNow() {
	start := time.Now()
	healthy := hm.checker.IsHealthy(hm.ctx)
	healthCheckDuration.Observe(time.Since(start).Seconds())
	hm.updateHealth(healthy)
}

func (hm *HealthMonitor) updateHealth(healthy bool) {
	oldHealth := hm.healthy.Load()
	hm.healthy.Store(healthy)
	hm.lastCheck.Store(time.Now())

	if healthy {
		storeHealthy.Set(1)
	} else {
		storeHealthy.Set(0)
	}

	if oldHealth != healthy {
		hm.logger.Info("pattern store health changed",
			zap.Bool("healthy", healthy),
			zap.Bool("previous", oldHealth))
		hm.notifyCallbacks(healthy)
	}
}

// IsHealthy returns the current health status.
func (hm *HealthMonitor) IsHealthy() bool {
	return hm.healthy.Load()
}

// LastCheck returns the time of the last health check.
func (hm *HealthMonitor) LastCheck() time.Time {
	v := hm.lastCheck.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}

// RegisterCallback adds a callback invoked on health transitions.
func (hm *HealthMonitor) RegisterCallback(cb func(bool)) error {
	if cb == nil {
		return fmt.Errorf("health: callback cannot be nil")
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.callbacks = append(hm.callbacks, cb)
	return nil
}

// notifyCallbacks fires callbacks outside the lock so a slow callback never
// blocks health updates.
func (hm *HealthMonitor) notifyCallbacks(healthy bool) {
	hm.mu.RLock()
	callbacks := make([]func(bool), len(hm.callbacks))
	copy(callbacks, hm.callbacks)
	hm.mu.RUnlock()

	for _, cb := range callbacks {
		go func(callback func(bool)) {
			defer func() {
				if r := recover(); r != nil {
					hm.logger.Error("health callback panic", zap.Any("panic", r))
				}
			}()
			callback(healthy)
		}(cb)
	}
}

// Stop gracefully shuts down the health monitor.
func (hm *HealthMonitor) Stop() {
	hm.cancel()
}
