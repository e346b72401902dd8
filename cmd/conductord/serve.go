package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductord/internal/config"
	"github.com/fyrsmithlabs/conductord/internal/embeddings"
	"github.com/fyrsmithlabs/conductord/internal/engine"
	"github.com/fyrsmithlabs/conductord/internal/intent"
	"github.com/fyrsmithlabs/conductord/internal/logging"
	"github.com/fyrsmithlabs/conductord/internal/memory"
	"github.com/fyrsmithlabs/conductord/internal/operator"
	"github.com/fyrsmithlabs/conductord/internal/patternstore"
	"github.com/fyrsmithlabs/conductord/internal/review"
	"github.com/fyrsmithlabs/conductord/internal/transport"
	"github.com/fyrsmithlabs/conductord/internal/triangulate"
)

// serve wires every collaborator and blocks until shutdown.
//
// Initialization order:
//  1. Configuration and logging
//  2. Embeddings and the pattern store (with retention pruning)
//  3. Memory service, review chain, intent tracker
//  4. Engine state (project store, journal, registry, escalations)
//  5. NATS transport and the per-namespace dispatcher
//  6. Operator HTTP server
func serve(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if embeddedNATS {
		cfg.Transport.Embedded = true
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	zlog := logger.Underlying()
	defer func() { _ = zlog.Sync() }()

	embedder, err := embeddings.New(embeddings.Config{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		Dimension: cfg.Embeddings.Dimension,
	})
	if err != nil {
		return fmt.Errorf("initialize embeddings: %w", err)
	}

	store, storeHealthy, err := buildPatternStore(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("initialize pattern store: %w", err)
	}
	defer func() { _ = store.Close() }()

	index, err := patternstore.NewIndex(filepath.Join(cfg.Engine.DataDir, "patterns.idx"))
	if err != nil {
		return fmt.Errorf("initialize pattern index: %w", err)
	}
	pruner := patternstore.NewPruner(store, index, patternstore.RetentionPolicy{
		MaxAge:   cfg.PatternStore.Retention.MaxAge,
		MaxCount: cfg.PatternStore.Retention.MaxCount,
		Interval: cfg.PatternStore.Retention.Interval,
	}, zlog)
	pruner.Start(ctx)
	defer pruner.Stop()

	mem, err := memory.NewService(store, index, embedder, memory.Config{
		TopK: cfg.Engine.BoostTopK,
	}, zlog)
	if err != nil {
		return fmt.Errorf("initialize memory service: %w", err)
	}

	bus, err := transport.New(transport.Config{
		URL:      cfg.Transport.URL,
		Embedded: cfg.Transport.Embedded,
	}, zlog)
	if err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	defer func() { _ = bus.Close() }()

	audit, err := triangulate.NewAuditLog(filepath.Join(cfg.Engine.DataDir, "audit", "triangulation.jsonl"))
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	gates, err := review.DefaultGates(embedder, triangulate.Config{
		ViewpointTimeout:  cfg.Engine.ViewpointTimeout,
		ConflictThreshold: cfg.Engine.ConflictThreshold,
		PassThreshold:     cfg.Engine.PassThreshold,
	}, audit, zlog)
	if err != nil {
		return fmt.Errorf("build review gates: %w", err)
	}
	chain, err := review.NewChain(gates, bus, review.Config{
		MaxRetries: cfg.Engine.MaxGateRetries,
	}, zlog)
	if err != nil {
		return fmt.Errorf("build review chain: %w", err)
	}

	tracker, err := intent.NewTracker(embedder, intent.Config{
		SnapshotDir: filepath.Join(cfg.Engine.DataDir, "intent"),
	}, zlog)
	if err != nil {
		return fmt.Errorf("initialize intent tracker: %w", err)
	}

	projects, err := engine.NewProjectStore(filepath.Join(cfg.Engine.DataDir, "projects"))
	if err != nil {
		return fmt.Errorf("open project store: %w", err)
	}
	journal, err := engine.NewJournal(filepath.Join(cfg.Engine.DataDir, "journal"), cfg.Engine.DedupWindow)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	registry, err := engine.DefaultRegistry(storeHealthy)
	if err != nil {
		return fmt.Errorf("build worker registry: %w", err)
	}
	resolver, err := engine.NewFileResolver(filepath.Join(cfg.Engine.DataDir, "artifacts"))
	if err != nil {
		return fmt.Errorf("initialize artifact resolver: %w", err)
	}
	escalations := engine.NewEscalationQueue(cfg.Engine.EscalationQueueSize)

	eng, err := engine.NewEngine(engine.Config{
		MaxModifyRetries: cfg.Engine.MaxModifyRetries,
	}, projects, journal, registry,
		chain, tracker, mem, escalations, bus, resolver, zlog)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	dispatcher, err := engine.NewDispatcher(eng, cfg.Engine.NamespaceQueueSize, zlog)
	if err != nil {
		return fmt.Errorf("initialize dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	sub, err := bus.SubscribeSignals(func(signal engine.CompletionSignal) {
		if err := dispatcher.Submit(signal); err != nil {
			zlog.Warn("dropping completion signal",
				zap.String("namespace", signal.Namespace),
				zap.String("signal_id", signal.SignalID),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe signals: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	srv, err := operator.NewServer(eng, operator.Config{
		Port:            cfg.Operator.Port,
		ShutdownTimeout: cfg.Operator.ShutdownTimeout,
	}, zlog)
	if err != nil {
		return fmt.Errorf("initialize operator server: %w", err)
	}

	zlog.Info("conductord started",
		zap.String("version", version),
		zap.String("data_dir", cfg.Engine.DataDir),
		zap.String("patternstore", cfg.PatternStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Int("operator_port", cfg.Operator.Port))

	return srv.Start(ctx)
}

// buildPatternStore constructs the configured store backend and a health
// probe used to gate memory-enhanced worker variants.
func buildPatternStore(ctx context.Context, cfg *config.Config, zlog *zap.Logger) (patternstore.Store, func(context.Context) bool, error) {
	always := func(context.Context) bool { return true }

	switch cfg.PatternStore.Provider {
	case "chromem":
		store, err := patternstore.NewChromemStore(patternstore.ChromemConfig{
			Path:       cfg.PatternStore.Chromem.Path,
			Compress:   cfg.PatternStore.Chromem.Compress,
			Collection: cfg.PatternStore.Chromem.Collection,
		}, zlog)
		if err != nil {
			return nil, nil, err
		}
		return store, always, nil

	case "qdrant":
		store, err := patternstore.NewQdrantStore(patternstore.QdrantConfig{
			Host:       cfg.PatternStore.Qdrant.Host,
			Port:       cfg.PatternStore.Qdrant.Port,
			Collection: cfg.PatternStore.Qdrant.Collection,
			VectorSize: uint64(cfg.Embeddings.Dimension),
			UseTLS:     cfg.PatternStore.Qdrant.UseTLS,
			MaxRetries: cfg.PatternStore.Qdrant.MaxRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		healthy := func(ctx context.Context) bool {
			return store.HealthCheck(ctx) == nil
		}
		return store, healthy, nil

	case "fallback":
		remote, err := patternstore.NewQdrantStore(patternstore.QdrantConfig{
			Host:       cfg.PatternStore.Qdrant.Host,
			Port:       cfg.PatternStore.Qdrant.Port,
			Collection: cfg.PatternStore.Qdrant.Collection,
			VectorSize: uint64(cfg.Embeddings.Dimension),
			UseTLS:     cfg.PatternStore.Qdrant.UseTLS,
			MaxRetries: cfg.PatternStore.Qdrant.MaxRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		local, err := patternstore.NewChromemStore(patternstore.ChromemConfig{
			Path:       cfg.PatternStore.Chromem.Path,
			Compress:   cfg.PatternStore.Chromem.Compress,
			Collection: cfg.PatternStore.Chromem.Collection,
		}, zlog)
		if err != nil {
			return nil, nil, err
		}
		wal, err := patternstore.NewWAL(cfg.PatternStore.Fallback.WALPath, zlog)
		if err != nil {
			return nil, nil, err
		}
		monitor := patternstore.NewHealthMonitor(ctx,
			patternstore.NewPingHealthChecker(remote.HealthCheck),
			cfg.PatternStore.Fallback.HealthCheckInterval, zlog)
		store, err := patternstore.NewFallbackStore(ctx, remote, local, monitor, wal, patternstore.FallbackConfig{
			WALPath:             cfg.PatternStore.Fallback.WALPath,
			HealthCheckInterval: cfg.PatternStore.Fallback.HealthCheckInterval,
			WALRetentionDays:    cfg.PatternStore.Fallback.WALRetentionDays,
		}, zlog)
		if err != nil {
			return nil, nil, err
		}
		healthy := func(context.Context) bool {
			return store.Health().IsHealthy()
		}
		return store, healthy, nil

	default:
		return nil, nil, fmt.Errorf("unknown patternstore provider %q", cfg.PatternStore.Provider)
	}
}
