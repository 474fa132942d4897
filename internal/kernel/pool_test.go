package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentos/internal/domain/run"
	"agentos/internal/registry"
	"agentos/internal/shared/errors"
)

func TestPoolRunsQueuedWork(t *testing.T) {
	f := newEngineFixture(t)
	done := make(chan struct{})
	f.registerService(t, "svc/x", func(ctx context.Context, params map[string]string, rctx run.Context) (registry.ServiceResult, error) {
		close(done)
		return registry.ServiceResult{Summary: "ok"}, nil
	})
	f.registerStrategy(t, "x", "svc/x")

	pool := NewPool(f.engine, 2, 4, nil)
	defer pool.Close()

	require.NoError(t, pool.Enqueue(testTask("research x"), testCtx(), testPlan(candidate("x", "svc/x"))))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queued run never executed")
	}

	// the worker clears pending once the run seals
	require.Eventually(t, func() bool { return !pool.Pending("run-1") }, 5*time.Second, 10*time.Millisecond)

	summary, err := f.events.Summary(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.OutcomeSucceeded, summary.Outcome)
}

// Test a full queue rejects with backpressure instead of blocking
func TestPoolBackpressure(t *testing.T) {
	f := newEngineFixture(t)
	release := make(chan struct{})
	f.registerService(t, "svc/slow", func(ctx context.Context, params map[string]string, rctx run.Context) (registry.ServiceResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return registry.ServiceResult{Summary: "ok"}, nil
	})
	f.registerStrategy(t, "slow", "svc/slow")

	pool := NewPool(f.engine, 1, 1, nil)
	defer pool.Close()
	// unblock the worker before Close waits on it
	defer close(release)

	plan := func(id string) (run.TaskSpec, run.Context, *run.Plan) {
		rctx := testCtx()
		rctx.RunID = id
		p := testPlan(candidate("slow", "svc/slow"))
		p.RunID = id
		return testTask("research x"), rctx, p
	}

	// first fills the worker, second fills the queue
	task, rctx, p := plan("run-a")
	require.NoError(t, pool.Enqueue(task, rctx, p))
	require.Eventually(t, func() bool {
		task, rctx, p := plan("run-b")
		return pool.Enqueue(task, rctx, p) == nil
	}, 5*time.Second, 10*time.Millisecond)

	task, rctx, p = plan("run-c")
	err := pool.Enqueue(task, rctx, p)
	require.Error(t, err)
	assert.Equal(t, run.ErrBackpressure, errors.KindOf(err))
	assert.False(t, pool.Pending("run-c"))
	assert.True(t, pool.Pending("run-b"))
}
