package mcprt

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentos/internal/config"
	"agentos/internal/domain/run"
	"agentos/internal/shared/errors"
)

func newTestRuntime(t *testing.T, registry *ToolRegistry) *Runtime {
	t.Helper()
	breakers, _ := newTestBreakers(t, nil)
	router := NewRouter(testRouterConfig(), registry, breakers)
	retry := config.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return NewRuntime(retry, router, registry, breakers, t.TempDir(), nil)
}

func flakyTool(name string, keywords []string, failures int) Tool {
	remaining := failures
	return Tool{
		Name:         name,
		Description:  name,
		Keywords:     keywords,
		AvgLatencyMS: 10,
		Call: func(ctx context.Context, params map[string]string) (ToolResult, error) {
			if remaining > 0 {
				remaining--
				return ToolResult{}, errors.Newf(run.ErrServiceUnavailable, "%s warming up", name)
			}
			return ToolResult{Content: name + " ok"}, nil
		},
	}
}

func failingTool(name string, keywords []string) Tool {
	return Tool{
		Name:        name,
		Description: name,
		Keywords:    keywords,
		Call: func(ctx context.Context, params map[string]string) (ToolResult, error) {
			return ToolResult{}, errors.Newf(run.ErrServiceUnavailable, "%s is down", name)
		},
	}
}

func TestInvokeRetriesInPlace(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(flakyTool("svc", []string{"report"}, 1)))
	rt := newTestRuntime(t, registry)

	result, err := rt.Invoke(context.Background(), "run-1", "report", nil, InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "svc ok", result.Content)

	record, err := rt.Record("run-1")
	require.NoError(t, err)
	require.Len(t, record.Steps, 1)
	assert.Equal(t, "succeeded", record.Steps[0].Status)
	assert.Equal(t, 1, record.Steps[0].Retries)
}

func TestInvokeFallsBackThroughRanking(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(failingTool("aa/primary", []string{"report", "summary"})))
	require.NoError(t, registry.Register(flakyTool("zz/backup", []string{"report"}, 0)))
	rt := newTestRuntime(t, registry)

	result, err := rt.Invoke(context.Background(), "run-1", "report summary", nil, InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "zz/backup ok", result.Content)

	record, err := rt.Record("run-1")
	require.NoError(t, err)
	require.Len(t, record.Steps, 2)
	assert.Equal(t, "failed", record.Steps[0].Status)
	assert.Equal(t, "aa/primary", record.Steps[0].Tool)
	assert.Equal(t, "succeeded", record.Steps[1].Status)
}

func TestInvokeExhaustedChain(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(failingTool("only", []string{"report"})))
	rt := newTestRuntime(t, registry)

	_, err := rt.Invoke(context.Background(), "run-1", "report", nil, InvokeOptions{})
	require.Error(t, err)
	assert.Equal(t, run.ErrServiceUnavailable, errors.KindOf(err))
}

func TestInvokeReturnsBestPartial(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(Tool{
		Name:     "partial",
		Keywords: []string{"report"},
		Call: func(ctx context.Context, params map[string]string) (ToolResult, error) {
			return ToolResult{Content: "half a report", Partial: true},
				errors.Newf(run.ErrToolTimeout, "ran out of time")
		},
	}))
	rt := newTestRuntime(t, registry)

	result, err := rt.Invoke(context.Background(), "run-1", "report", nil, InvokeOptions{})
	require.Error(t, err)
	assert.Equal(t, "half a report", result.Content)

	record, err := rt.Record("run-1")
	require.NoError(t, err)
	assert.True(t, record.BestPartial)
}

// Test dry run records the ranked plan and calls nothing
func TestInvokeDryRun(t *testing.T) {
	registry := NewToolRegistry()
	called := false
	require.NoError(t, registry.Register(Tool{
		Name:     "svc",
		Keywords: []string{"report"},
		Call: func(ctx context.Context, params map[string]string) (ToolResult, error) {
			called = true
			return ToolResult{}, nil
		},
	}))
	rt := newTestRuntime(t, registry)

	_, err := rt.Invoke(context.Background(), "run-1", "report", nil, InvokeOptions{DryRun: true})
	require.NoError(t, err)
	assert.False(t, called)

	record, err := rt.Record("run-1")
	require.NoError(t, err)
	require.Len(t, record.Steps, 1)
	assert.Equal(t, "skipped", record.Steps[0].Status)
}

func TestReplayRecordedChain(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(flakyTool("svc", []string{"report"}, 0)))
	rt := newTestRuntime(t, registry)

	_, err := rt.Invoke(context.Background(), "run-1", "report", map[string]string{"topic": "q3"}, InvokeOptions{})
	require.NoError(t, err)

	replay, err := rt.Replay(context.Background(), "run-1", "run-2", false)
	require.NoError(t, err)
	require.Len(t, replay.Steps, 1)
	assert.Equal(t, "succeeded", replay.Steps[0].Status)
	assert.Equal(t, "q3", replay.Steps[0].Params["topic"])

	// the replay itself is persisted and addressable
	again, err := rt.Record("run-2")
	require.NoError(t, err)
	assert.Equal(t, "report", again.Intent)
}

func TestReplayMissingToolFailsStep(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(flakyTool("svc", []string{"report"}, 0)))
	rt := newTestRuntime(t, registry)

	_, err := rt.Invoke(context.Background(), "run-1", "report", nil, InvokeOptions{})
	require.NoError(t, err)

	// simulate a catalog change between record and replay
	original, err := rt.Record("run-1")
	require.NoError(t, err)
	original.Steps[0].Tool = "svc/renamed"
	require.NoError(t, rt.saveRecord(*original))

	replay, err := rt.Replay(context.Background(), "run-1", "run-2", false)
	require.NoError(t, err)
	require.Len(t, replay.Steps, 1)
	assert.Equal(t, "failed", replay.Steps[0].Status)
	assert.Contains(t, replay.Steps[0].Error, "no longer registered")
}

func TestInvokeSkipsOpenBreaker(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(failingTool("svc", []string{"report"})))
	rt := newTestRuntime(t, registry)

	// trip the breaker
	for i := 0; i < 3; i++ {
		_, _ = rt.Invoke(context.Background(), fmt.Sprintf("trip-%d", i), "report", nil, InvokeOptions{})
	}

	_, err := rt.Invoke(context.Background(), "run-x", "report", nil, InvokeOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit-broken")

	record, err := rt.Record("run-x")
	require.NoError(t, err)
	require.Len(t, record.Steps, 1)
	assert.Equal(t, "skipped", record.Steps[0].Status)
}
