package kernel

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"agentos/internal/domain/run"
	"agentos/internal/observability"
	"agentos/internal/shared/errors"
	"agentos/internal/shared/logging"
)

// queuedRun is one admitted submission waiting for a worker.
type queuedRun struct {
	task run.TaskSpec
	rctx run.Context
	plan *run.Plan
}

// Pool dispatches runs to a fixed set of workers from a bounded FIFO queue.
// Admission is non-blocking: a full queue rejects with backpressure rather
// than stalling the caller.
type Pool struct {
	engine  *Engine
	queue   chan queuedRun
	logger  logging.Logger
	metrics *observability.MetricsCollector

	group  *errgroup.Group
	cancel context.CancelFunc

	mu      sync.RWMutex
	pending map[string]struct{} // run_id -> queued or executing
}

// SetMetrics attaches the queue-depth gauge. A nil collector is a no-op.
func (p *Pool) SetMetrics(metrics *observability.MetricsCollector) {
	p.metrics = metrics
}

// NewPool creates the worker pool. Workers start on Start and drain on
// Close.
func NewPool(engine *Engine, workers, queueDepth int, logger logging.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &Pool{
		engine:  engine,
		queue:   make(chan queuedRun, queueDepth),
		logger:  logging.OrNop(logger),
		pending: map[string]struct{}{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		p.group.Go(func() error {
			p.worker(ctx)
			return nil
		})
	}
	return p
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			p.metrics.QueueDelta(ctx, -1)
			if _, err := p.engine.Run(ctx, item.task, item.rctx, item.plan); err != nil {
				p.logger.Error("run %s: evidence failure: %v", item.rctx.RunID, err)
			}
			p.mu.Lock()
			delete(p.pending, item.rctx.RunID)
			p.mu.Unlock()
		}
	}
}

// Enqueue admits a run or rejects it with backpressure.
func (p *Pool) Enqueue(task run.TaskSpec, rctx run.Context, plan *run.Plan) error {
	p.mu.Lock()
	p.pending[rctx.RunID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.queue <- queuedRun{task: task, rctx: rctx, plan: plan}:
		p.metrics.QueueDelta(context.Background(), 1)
		return nil
	default:
		p.mu.Lock()
		delete(p.pending, rctx.RunID)
		p.mu.Unlock()
		return errors.Newf(run.ErrBackpressure, "admission queue full (%d), run %s rejected", cap(p.queue), rctx.RunID)
	}
}

// Pending reports whether a run is still queued or executing.
func (p *Pool) Pending(runID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.pending[runID]
	return ok
}

// Close stops admission, cancels workers, and waits for them to exit.
func (p *Pool) Close() {
	p.cancel()
	close(p.queue)
	_ = p.group.Wait()
}
