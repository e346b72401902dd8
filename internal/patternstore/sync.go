package patternstore

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	circuitClosed   uint32 = 0
	circuitOpen     uint32 = 1
	circuitHalfOpen uint32 = 2
)

// CircuitBreaker protects against repeated remote failures.
type CircuitBreaker struct {
	failures    atomic.Int32
	threshold   int32
	resetAfter  time.Duration
	state       atomic.Uint32 // 0=closed, 1=open, 2=half-open
	lastFailure atomic.Int64  // unix nano
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(threshold int32, resetAfter time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:  threshold,
		resetAfter: resetAfter,
	}
}

// Allow returns true if the operation is allowed.
func (cb *CircuitBreaker) Allow() bool {
	for {
		state := cb.state.Load()
		switch state {
		case circuitOpen:
			lastFail := time.Unix(0, cb.lastFailure.Load())
			if time.Since(lastFail) > cb.resetAfter {
				// CAS: only one goroutine gets the half-open test request.
				if cb.state.CompareAndSwap(circuitOpen, circuitHalfOpen) {
					return true
				}
				continue
			}
			return false
		case circuitHalfOpen:
			return false
		default: // circuitClosed
			return true
		}
	}
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	cb.state.Store(circuitClosed)
}

// RecordFailure records a failed operation.
func (cb *CircuitBreaker) RecordFailure() {
	for {
		currentFailures := cb.failures.Load()
		if currentFailures == math.MaxInt32 {
			return
		}
		newFailures := currentFailures + 1
		if !cb.failures.CompareAndSwap(currentFailures, newFailures) {
			continue
		}
		if newFailures >= cb.threshold {
			if cb.state.CompareAndSwap(circuitClosed, circuitOpen) ||
				cb.state.CompareAndSwap(circuitHalfOpen, circuitOpen) {
				cb.lastFailure.Store(time.Now().UnixNano())
			}
		}
		return
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() string {
	switch cb.state.Load() {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// SyncManager flushes pending WAL entries to the remote store in the
// background. It is triggered by health recovery and a periodic timer with
// exponential backoff after failures.
type SyncManager struct {
	wal    *WAL
	remote Store
	health *HealthMonitor
	syncCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cb     *CircuitBreaker
	logger *zap.Logger

	baseInterval time.Duration
	maxInterval  time.Duration
	interval     time.Duration // current retry interval, grows on failure
}

// NewSyncManager creates a SyncManager.
func NewSyncManager(ctx context.Context, wal *WAL, remote Store, health *HealthMonitor, logger *zap.Logger) *SyncManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &SyncManager{
		wal:          wal,
		remote:       remote,
		health:       health,
		syncCh:       make(chan struct{}, 16),
		ctx:          ctx,
		cancel:       cancel,
		cb:           NewCircuitBreaker(5, 5*time.Minute),
		logger:       logger,
		baseInterval: 5 * time.Second,
		maxInterval:  5 * time.Minute,
		interval:     5 * time.Second,
	}
}

// Start begins the background sync loop.
func (s *SyncManager) Start() {
	s.health.RegisterCallback(func(healthy bool) {
		if healthy {
			s.logger.Info("sync: remote became healthy, triggering sync")
			s.TriggerSync()
		}
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSyncLoop()
	}()
}

func (s *SyncManager) runSyncLoop() {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("sync: shutdown requested")
			return
		case <-s.syncCh:
			s.performSync()
		case <-timer.C:
			s.performSync()
		}
		timer.Reset(s.interval)
	}
}

// TriggerSync requests a sync operation (non-blocking).
func (s *SyncManager) TriggerSync() {
	select {
	case s.syncCh <- struct{}{}:
	default:
		s.logger.Warn("sync: sync queue full, skipping trigger")
	}
}

func (s *SyncManager) performSync() {
	if !s.health.IsHealthy() {
		s.backoff()
		return
	}
	if !s.cb.Allow() {
		s.logger.Debug("sync: circuit breaker open, skipping sync")
		s.backoff()
		return
	}

	pending := s.wal.PendingEntries()
	if len(pending) == 0 {
		s.interval = s.baseInterval
		return
	}

	s.logger.Info("sync: starting sync", zap.Int("pending_entries", len(pending)))

	start := time.Now()
	synced, failed := 0, 0

	// FIFO order preserves write ordering on the remote.
	for _, entry := range pending {
		if err := s.syncEntry(entry); err != nil {
			s.logger.Warn("sync: entry sync failed",
				zap.String("entry_id", entry.ID),
				zap.Error(err))
			failed++
			s.cb.RecordFailure()
			syncAttemptsTotal.WithLabelValues("error").Inc()
			if err := s.wal.RecordSyncAttempt(entry.ID, err); err != nil {
				s.logger.Error("sync: failed to record sync attempt",
					zap.String("entry_id", entry.ID),
					zap.Error(err))
			}
		} else {
			synced++
			s.cb.RecordSuccess()
			syncAttemptsTotal.WithLabelValues("success").Inc()
			if err := s.wal.MarkSynced(entry.ID); err != nil {
				s.logger.Error("sync: failed to mark entry as synced",
					zap.String("entry_id", entry.ID),
					zap.Error(err))
			}
		}
	}

	if failed > 0 {
		s.backoff()
	} else {
		s.interval = s.baseInterval
	}

	s.logger.Info("sync: completed",
		zap.Int("synced", synced),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)))
}

// backoff doubles the retry interval up to the cap.
func (s *SyncManager) backoff() {
	s.interval *= 2
	if s.interval > s.maxInterval {
		s.interval = s.maxInterval
	}
}

func (s *SyncManager) syncEntry(entry WALEntry) error {
	switch entry.Operation {
	case "upsert":
		return s.remote.Upsert(s.ctx, entry.Records)
	case "delete":
		return s.remote.Delete(s.ctx, entry.IDs)
	default:
		return fmt.Errorf("unknown operation: %s", entry.Operation)
	}
}

// Stop gracefully shuts down the sync manager.
func (s *SyncManager) Stop() error {
	s.logger.Info("sync: stopping")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("sync: stopped")
	return nil
}
