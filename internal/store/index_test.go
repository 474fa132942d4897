package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentos/internal/domain/run"
)

func openTestIndex(t *testing.T) *SQLIndex {
	t.Helper()
	index, err := NewSQLIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func indexAttempt(t *testing.T, index *SQLIndex, id, runID, strategy string, seq int, status run.AttemptStatus, kind run.ErrorKind, latencyMS int64, started time.Time) {
	t.Helper()
	require.NoError(t, index.RecordAttempt(context.Background(), run.Attempt{
		AttemptID:  id,
		RunID:      runID,
		StrategyID: strategy,
		Seq:        seq,
		Status:     status,
		ErrorKind:  kind,
		StartedAt:  started,
		Telemetry:  run.AttemptTelemetry{LatencyMS: latencyMS},
	}, run.KindResearch))
}

func TestIndexRecentRunsOrder(t *testing.T) {
	ctx := context.Background()
	index := openTestIndex(t)

	base := time.Now().UTC()
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, index.RecordSummary(ctx, run.Summary{
			RunID:    id,
			TaskID:   "task-" + id,
			Outcome:  run.OutcomeSucceeded,
			SealedAt: base.Add(time.Duration(i) * time.Minute),
		}, run.KindResearch))
	}

	recent, err := index.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-3", recent[0].RunID)
	assert.Equal(t, "run-2", recent[1].RunID)

	latest, err := index.LatestRun(ctx, run.KindResearch)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-3", latest.RunID)

	missing, err := index.LatestRun(ctx, run.KindImage)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIndexStrategyWindows(t *testing.T) {
	ctx := context.Background()
	index := openTestIndex(t)
	now := time.Now().UTC()

	indexAttempt(t, index, "a1", "r1", "research-brief", 0, run.AttemptSucceeded, run.ErrNone, 100, now.Add(-time.Hour))
	indexAttempt(t, index, "a2", "r2", "research-brief", 0, run.AttemptFailed, run.ErrToolTimeout, 900, now.Add(-time.Hour))
	indexAttempt(t, index, "a3", "r2", "generalist", 1, run.AttemptSucceeded, run.ErrNone, 300, now.Add(-time.Hour))
	// outside the window
	indexAttempt(t, index, "a4", "r0", "research-brief", 0, run.AttemptFailed, run.ErrInternal, 50, now.Add(-30*24*time.Hour))

	windows, err := index.StrategyWindows(ctx, run.IndexQuery{Since: now.Add(-24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, windows, 2)

	byID := map[string]run.StrategyWindow{}
	for _, w := range windows {
		byID[w.StrategyID] = w
	}
	brief := byID["research-brief"]
	assert.Equal(t, 2, brief.Samples)
	assert.Equal(t, 1, brief.Successes)
	assert.Equal(t, 1, brief.Failures)
	assert.Equal(t, 0, brief.FallbackRuns)
	assert.Equal(t, int64(900), brief.P95LatencyMS)

	fallback := byID["generalist"]
	assert.Equal(t, 1, fallback.FallbackRuns)
}

func TestIndexHotspots(t *testing.T) {
	ctx := context.Background()
	index := openTestIndex(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		indexAttempt(t, index, "f"+string(rune('a'+i)), "r1", "mcp/fetch", 0, run.AttemptFailed, run.ErrServiceUnavailable, 100, now)
	}
	indexAttempt(t, index, "g1", "r2", "generalist", 0, run.AttemptFailed, run.ErrContractViolation, 100, now)
	indexAttempt(t, index, "ok", "r3", "generalist", 0, run.AttemptSucceeded, run.ErrNone, 100, now)

	hotspots, err := index.Hotspots(ctx, run.IndexQuery{Since: now.Add(-time.Hour), Limit: 5})
	require.NoError(t, err)
	require.Len(t, hotspots, 2)
	assert.Equal(t, "mcp/fetch", hotspots[0].StrategyID)
	assert.Equal(t, run.ErrServiceUnavailable, hotspots[0].ErrorKind)
	assert.Equal(t, 3, hotspots[0].Count)
	assert.Equal(t, run.ErrContractViolation, hotspots[1].ErrorKind)
}

func TestIndexReplaceOnSameKey(t *testing.T) {
	ctx := context.Background()
	index := openTestIndex(t)

	summary := run.Summary{RunID: "run-1", TaskID: "task-1", Outcome: run.OutcomeFailed, SealedAt: time.Now().UTC()}
	require.NoError(t, index.RecordSummary(ctx, summary, run.KindResearch))
	summary.Outcome = run.OutcomeSucceeded
	require.NoError(t, index.RecordSummary(ctx, summary, run.KindResearch))

	recent, err := index.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, run.OutcomeSucceeded, recent[0].Outcome)
}
