package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher feeds completion signals to the engine. Each namespace gets a
// bounded queue drained by a single consumer goroutine, so signals for one
// namespace are processed strictly in arrival order while namespaces run in
// parallel.
type Dispatcher struct {
	engine    *Engine
	queueSize int
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[string]chan CompletionSignal
	closed bool
}

// NewDispatcher builds a dispatcher over the engine.
func NewDispatcher(engine *Engine, queueSize int, logger *zap.Logger) (*Dispatcher, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine: dispatcher requires an engine")
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		engine:    engine,
		queueSize: queueSize,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string]chan CompletionSignal),
	}, nil
}

// Submit enqueues one signal for its namespace. Signals for cancelled
// projects are not enqueued; in-flight executor work finishing after
// cancellation is tolerated and dropped here.
func (d *Dispatcher) Submit(signal CompletionSignal) error {
	if err := signal.Validate(); err != nil {
		return err
	}

	if project, err := d.engine.Project(signal.Namespace); err == nil {
		if project.Status == StatusCancelled {
			d.logger.Warn("engine: signal for cancelled project dropped",
				zap.String("namespace", signal.Namespace),
				zap.String("signal_id", signal.SignalID))
			signalsTotal.WithLabelValues("stale").Inc()
			return nil
		}
	}

	queue, err := d.queue(signal.Namespace)
	if err != nil {
		return err
	}

	select {
	case queue <- signal:
		queueDepth.WithLabelValues(signal.Namespace).Inc()
		return nil
	default:
		return fmt.Errorf("engine: namespace %q: %w", signal.Namespace, ErrQueueFull)
	}
}

// queue returns the namespace's channel, starting its consumer loop on
// first use.
func (d *Dispatcher) queue(namespace string) (chan CompletionSignal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("engine: dispatcher stopped")
	}
	if q, ok := d.queues[namespace]; ok {
		return q, nil
	}

	q := make(chan CompletionSignal, d.queueSize)
	d.queues[namespace] = q
	d.wg.Add(1)
	go d.consume(namespace, q)
	return q, nil
}

// consume is the single consumer loop for one namespace.
func (d *Dispatcher) consume(namespace string, queue chan CompletionSignal) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case signal, ok := <-queue:
			if !ok {
				return
			}
			queueDepth.WithLabelValues(namespace).Dec()
			if err := d.engine.ProcessSignal(d.ctx, signal); err != nil {
				// Validation and escalation outcomes are progress
				// feedback; the loop keeps consuming.
				d.logger.Warn("engine: signal processing did not advance",
					zap.String("namespace", namespace),
					zap.String("signal_id", signal.SignalID),
					zap.Error(err))
			}
		}
	}
}

// Stop halts every consumer loop and waits for in-flight processing.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
