package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentos/internal/domain/run"
)

func TestEventLogAttemptRoundTrip(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(t.TempDir(), nil)

	attempt := run.Attempt{
		AttemptID:    "at-1",
		RunID:        "run-1",
		StrategyID:   "research-brief",
		Seq:          0,
		StartedAt:    time.Now().UTC().Truncate(time.Millisecond),
		Status:       run.AttemptFailed,
		ErrorKind:    run.ErrToolTimeout,
		ErrorMessage: "fetch exceeded deadline",
		Telemetry:    run.AttemptTelemetry{LatencyMS: 1200, Retries: 2},
		Closure:      run.LoopClosure{Plan: "fetch sources", Execute: "called mcp/fetch", Verify: "timed out"},
	}
	require.NoError(t, log.AppendAttempt(ctx, attempt))
	require.NoError(t, log.AppendAttempt(ctx, run.Attempt{AttemptID: "at-2", RunID: "run-2", StrategyID: "generalist"}))

	attempts, err := log.Attempts(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, attempt.AttemptID, attempts[0].AttemptID)
	assert.Equal(t, run.ErrToolTimeout, attempts[0].ErrorKind)
	assert.Equal(t, 2, attempts[0].Telemetry.Retries)
	assert.Equal(t, "called mcp/fetch", attempts[0].Closure.Execute)
}

func TestEventLogSummaryLookup(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(t.TempDir(), nil)

	require.NoError(t, log.AppendSummary(ctx, run.Summary{RunID: "run-1", TaskID: "task-1", Outcome: run.OutcomeFailed}))
	require.NoError(t, log.AppendSummary(ctx, run.Summary{RunID: "run-2", TaskID: "task-2", Outcome: run.OutcomeSucceeded, ChosenStrategy: "mcp/fetch"}))

	summary, err := log.Summary(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, run.OutcomeSucceeded, summary.Outcome)
	assert.Equal(t, "mcp/fetch", summary.ChosenStrategy)

	_, err = log.Summary(ctx, "run-404")
	assert.ErrorContains(t, err, "not found")

	all, err := log.Summaries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEventLogFeedbackWindow(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(t.TempDir(), nil)

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	require.NoError(t, log.AppendFeedback(ctx, run.FeedbackRecord{RunID: "run-old", Rating: -1, SubmittedAt: old}))
	require.NoError(t, log.AppendFeedback(ctx, run.FeedbackRecord{RunID: "run-new", Rating: 1, SubmittedAt: recent}))

	records, err := log.Feedback(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "run-new", records[0].RunID)
}

// Test one corrupt line does not poison the rest of the log
func TestEventLogSkipsMalformedLines(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	log := NewEventLog(root, nil)

	require.NoError(t, log.AppendSummary(ctx, run.Summary{RunID: "run-1", Outcome: run.OutcomeSucceeded}))

	path := filepath.Join(root, "events", "runs.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{half a line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, log.AppendSummary(ctx, run.Summary{RunID: "run-2", Outcome: run.OutcomeFailed}))

	all, err := log.Summaries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
