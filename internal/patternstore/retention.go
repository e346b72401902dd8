package patternstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RetentionPolicy bounds the learned-pattern store by age and count.
// Records are never deleted outside these bounds.
type RetentionPolicy struct {
	// MaxAge prunes records older than this. Zero disables the bound.
	MaxAge time.Duration

	// MaxCount prunes the oldest records beyond this count.
	// Zero disables the bound.
	MaxCount int

	// Interval is how often the pruner runs.
	// Default: 24h
	Interval time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (p *RetentionPolicy) ApplyDefaults() {
	if p.Interval == 0 {
		p.Interval = 24 * time.Hour
	}
}

// Pruner enforces the retention policy in a background maintenance window.
// The window mutex guarantees at most one pruning pass at a time; concurrent
// Upsert/Query calls proceed untouched since each is individually atomic.
type Pruner struct {
	store  Store
	index  *Index
	policy RetentionPolicy
	logger *zap.Logger

	window sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPruner creates a retention pruner over the given store and index.
func NewPruner(store Store, index *Index, policy RetentionPolicy, logger *zap.Logger) *Pruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy.ApplyDefaults()
	return &Pruner{
		store:  store,
		index:  index,
		policy: policy,
		logger: logger,
	}
}

// Start begins periodic pruning.
func (p *Pruner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.policy.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := p.PruneOnce(ctx); err != nil {
					p.logger.Warn("retention: prune failed", zap.Error(err))
				}
			}
		}
	}()
}

// PruneOnce runs a single maintenance pass and returns the number of
// records removed.
func (p *Pruner) PruneOnce(ctx context.Context) (int, error) {
	p.window.Lock()
	defer p.window.Unlock()

	expired := p.index.Expired(time.Now(), p.policy.MaxAge, p.policy.MaxCount)
	if len(expired) == 0 {
		return 0, nil
	}

	if err := p.store.Delete(ctx, expired); err != nil {
		return 0, fmt.Errorf("retention: deleting expired records: %w", err)
	}
	if err := p.index.Remove(expired...); err != nil {
		return 0, fmt.Errorf("retention: updating index: %w", err)
	}

	prunedRecordsTotal.Add(float64(len(expired)))
	p.logger.Info("retention: pruned expired records",
		zap.Int("count", len(expired)),
		zap.Duration("max_age", p.policy.MaxAge),
		zap.Int("max_count", p.policy.MaxCount))

	return len(expired), nil
}

// Stop halts periodic pruning.
func (p *Pruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
