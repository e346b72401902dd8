package patternstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FallbackConfig holds configuration for fallback behavior.
type FallbackConfig struct {
	// WALPath is the directory for the write-ahead log.
	WALPath string

	// HealthCheckInterval is the remote health poll interval.
	// Default: 30s
	HealthCheckInterval time.Duration

	// WALRetentionDays is how long synced entries are kept.
	// Default: 7
	WALRetentionDays int
}

// ApplyDefaults sets default values for unset fields.
func (c *FallbackConfig) ApplyDefaults() {
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.WALRetentionDays == 0 {
		c.WALRetentionDays = 7
	}
}

// Validate validates the fallback configuration.
func (c *FallbackConfig) Validate() error {
	if c.WALPath == "" {
		return fmt.Errorf("%w: wal_path required", ErrInvalidConfig)
	}
	if c.WALRetentionDays < 0 {
		return fmt.Errorf("%w: wal_retention_days must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// FallbackStore implements Store with graceful degradation to local storage.
//
// When the remote store is unavailable, writes go to the local store plus a
// write-ahead log; a background sync manager flushes the log once
// connectivity returns. Reads prefer the remote and fall back to local, so
// enhance-style queries keep working during an outage. Remote unavailability
// never surfaces past this type.
type FallbackStore struct {
	remote Store
	local  Store
	health *HealthMonitor
	sync   *SyncManager
	wal    *WAL
	config FallbackConfig
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewFallbackStore wraps remote and local stores with WAL-backed sync.
func NewFallbackStore(
	ctx context.Context,
	remote, local Store,
	health *HealthMonitor,
	wal *WAL,
	config FallbackConfig,
	logger *zap.Logger,
) (*FallbackStore, error) {
	if remote == nil {
		return nil, fmt.Errorf("fallback: remote store is required")
	}
	if local == nil {
		return nil, fmt.Errorf("fallback: local store is required")
	}
	if health == nil {
		return nil, fmt.Errorf("fallback: health monitor is required")
	}
	if wal == nil {
		return nil, fmt.Errorf("fallback: WAL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	fs := &FallbackStore{
		remote: remote,
		local:  local,
		health: health,
		wal:    wal,
		config: config,
		logger: logger,
	}

	fs.sync = NewSyncManager(ctx, wal, remote, health, logger)

	health.Start()
	fs.sync.Start()

	logger.Info("fallback store initialized",
		zap.String("wal_path", config.WALPath),
		zap.Int("wal_retention_days", config.WALRetentionDays))

	return fs, nil
}

// Upsert writes records with fallback support.
//
// Write path:
//  1. If remote is healthy, write remote first, then local for query
//     consistency, and record the WAL entry as synced.
//  2. If remote is unhealthy or the write fails, record a pending WAL
//     entry before the local write, then write local.
func (fs *FallbackStore) Upsert(ctx context.Context, records []PatternRecord) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if len(records) == 0 {
		return nil
	}

	namespace := records[0].Namespace
	entryID := GenerateEntryID("upsert")

	if fs.health.IsHealthy() {
		if err := fs.remote.Upsert(ctx, records); err != nil {
			fs.logger.Warn("fallback: remote write failed, falling back to local",
				zap.Error(err),
				zap.String("namespace", namespace))
			upsertsTotal.WithLabelValues("remote", "error").Inc()
		} else {
			upsertsTotal.WithLabelValues("remote", "success").Inc()
			if localErr := fs.local.Upsert(ctx, records); localErr != nil {
				fs.logger.Warn("fallback: local write failed after remote success",
					zap.Error(localErr))
				// Not fatal, remote has the data.
			}
			if walErr := fs.wal.WriteEntry(WALEntry{
				ID:        entryID,
				Operation: "upsert",
				Namespace: namespace,
				Records:   records,
				Timestamp: time.Now(),
				Synced:    true,
			}); walErr != nil {
				fs.logger.Warn("fallback: wal write failed", zap.Error(walErr))
			}
			return nil
		}
	}

	// Remote unhealthy or write failed: pending WAL entry before the
	// local write for durability.
	if err := fs.wal.WriteEntry(WALEntry{
		ID:        entryID,
		Operation: "upsert",
		Namespace: namespace,
		Records:   records,
		Timestamp: time.Now(),
		Synced:    false,
	}); err != nil {
		return fmt.Errorf("fallback: wal write failed: %w", err)
	}

	if err := fs.local.Upsert(ctx, records); err != nil {
		upsertsTotal.WithLabelValues("local", "error").Inc()
		return fmt.Errorf("fallback: local write failed: %w", err)
	}
	upsertsTotal.WithLabelValues("local", "success").Inc()

	fs.logger.Info("fallback: records written to local store",
		zap.Int("count", len(records)),
		zap.String("namespace", namespace))
	return nil
}

// Query searches the remote when healthy, local otherwise. A remote failure
// mid-query degrades to local rather than erroring.
func (fs *FallbackStore) Query(ctx context.Context, tags []string, embedding []float32, topK int) ([]QueryResult, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.health.IsHealthy() {
		results, err := fs.remote.Query(ctx, tags, embedding, topK)
		if err != nil {
			fs.logger.Warn("fallback: remote query failed, using local", zap.Error(err))
			queriesTotal.WithLabelValues("remote", "error").Inc()
		} else {
			queriesTotal.WithLabelValues("remote", "success").Inc()
			return fs.mergePending(ctx, tags, embedding, topK, results), nil
		}
	}

	results, err := fs.local.Query(ctx, tags, embedding, topK)
	if err != nil {
		queriesTotal.WithLabelValues("local", "error").Inc()
		return nil, fmt.Errorf("fallback: local query failed: %w", err)
	}
	queriesTotal.WithLabelValues("local", "success").Inc()
	return results, nil
}

// mergePending folds not-yet-synced local records into remote results so a
// recent write is visible before the sync manager flushes it.
func (fs *FallbackStore) mergePending(ctx context.Context, tags []string, embedding []float32, topK int, results []QueryResult) []QueryResult {
	pending := fs.wal.PendingEntries()
	if len(pending) == 0 {
		return results
	}

	pendingIDs := make(map[string]bool)
	for _, entry := range pending {
		if entry.Operation != "upsert" {
			continue
		}
		for _, rec := range entry.Records {
			pendingIDs[rec.ID] = true
		}
	}
	if len(pendingIDs) == 0 {
		return results
	}

	localResults, err := fs.local.Query(ctx, tags, embedding, topK)
	if err != nil {
		fs.logger.Warn("fallback: failed to query local for pending results", zap.Error(err))
		return results
	}

	existing := make(map[string]int, len(results))
	for i, r := range results {
		existing[r.Record.ID] = i
	}

	for _, lr := range localResults {
		if !pendingIDs[lr.Record.ID] {
			continue
		}
		// Local wins on conflicts: the pending version is newer.
		if idx, ok := existing[lr.Record.ID]; ok {
			results[idx] = lr
		} else if len(results) < topK {
			results = append(results, lr)
			existing[lr.Record.ID] = len(results) - 1
		}
	}
	return results
}

// Delete removes records from both stores, recording a WAL entry when the
// remote is unreachable.
func (fs *FallbackStore) Delete(ctx context.Context, ids []string) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}

	entryID := GenerateEntryID("delete")

	if fs.health.IsHealthy() {
		if err := fs.remote.Delete(ctx, ids); err != nil {
			fs.logger.Warn("fallback: remote delete failed, using local", zap.Error(err))
		} else {
			if localErr := fs.local.Delete(ctx, ids); localErr != nil {
				fs.logger.Warn("fallback: local delete failed after remote success", zap.Error(localErr))
			}
			if walErr := fs.wal.WriteEntry(WALEntry{
				ID:        entryID,
				Operation: "delete",
				IDs:       ids,
				Timestamp: time.Now(),
				Synced:    true,
			}); walErr != nil {
				fs.logger.Warn("fallback: wal write failed", zap.Error(walErr))
			}
			return nil
		}
	}

	if err := fs.wal.WriteEntry(WALEntry{
		ID:        entryID,
		Operation: "delete",
		IDs:       ids,
		Timestamp: time.Now(),
		Synced:    false,
	}); err != nil {
		return fmt.Errorf("fallback: wal write failed: %w", err)
	}

	if err := fs.local.Delete(ctx, ids); err != nil {
		return fmt.Errorf("fallback: local delete failed: %w", err)
	}
	return nil
}

// Health exposes the health monitor for capability selection.
func (fs *FallbackStore) Health() *HealthMonitor {
	return fs.health
}

// Compact removes synced WAL entries past retention.
func (fs *FallbackStore) Compact() error {
	return fs.wal.Compact(fs.config.WALRetentionDays)
}

// Close closes the fallback store and releases resources.
func (fs *FallbackStore) Close() error {
	fs.logger.Info("fallback: closing")

	if err := fs.sync.Stop(); err != nil {
		fs.logger.Error("fallback: sync manager stop failed", zap.Error(err))
	}
	fs.health.Stop()
	if err := fs.wal.Close(); err != nil {
		fs.logger.Error("fallback: wal close failed", zap.Error(err))
	}

	var errs []error
	if err := fs.local.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := fs.remote.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("fallback: close errors: %v", errs)
	}
	return nil
}

// Ensure FallbackStore implements Store.
var _ Store = (*FallbackStore)(nil)
