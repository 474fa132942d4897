package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentos/internal/domain/run"
)

type fakeIndex struct {
	windows  []run.StrategyWindow
	hotspots []run.Hotspot
}

func (f *fakeIndex) RecordAttempt(ctx context.Context, attempt run.Attempt, kind run.TaskKind) error {
	return nil
}

func (f *fakeIndex) RecordSummary(ctx context.Context, summary run.Summary, kind run.TaskKind) error {
	return nil
}

func (f *fakeIndex) LatestRun(ctx context.Context, kind run.TaskKind) (*run.Summary, error) {
	return nil, nil
}

func (f *fakeIndex) StrategyWindows(ctx context.Context, q run.IndexQuery) ([]run.StrategyWindow, error) {
	return f.windows, nil
}

func (f *fakeIndex) Hotspots(ctx context.Context, q run.IndexQuery) ([]run.Hotspot, error) {
	return f.hotspots, nil
}

func (f *fakeIndex) RecentRuns(ctx context.Context, limit int) ([]run.Summary, error) {
	return nil, nil
}

var _ run.Index = (*fakeIndex)(nil)

func TestSLOReportAggregates(t *testing.T) {
	index := &fakeIndex{windows: []run.StrategyWindow{
		{StrategyID: "research-brief", Samples: 8, Successes: 8, FallbackRuns: 0, P95LatencyMS: 2000},
		{StrategyID: "generalist", Samples: 2, Successes: 1, FallbackRuns: 1, P95LatencyMS: 12000},
	}}
	r := NewReporter(index, SLOTarget{})

	report, err := r.SLO(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Runs)
	assert.Equal(t, 9, report.Successes)
	assert.InDelta(t, 0.9, report.SuccessRate, 1e-9)
	assert.InDelta(t, 0.1, report.FallbackRate, 1e-9)
	assert.Equal(t, int64(12000), report.P95LatencyMS)

	// default SLO: 90% success within 30s
	assert.True(t, report.Met)

	require.Len(t, report.ByStrategy, 2)
	assert.Equal(t, "generalist", report.ByStrategy[0].StrategyID)
	assert.InDelta(t, 0.5, report.ByStrategy[0].SuccessRate, 1e-9)
	assert.Equal(t, "research-brief", report.ByStrategy[1].StrategyID)
}

func TestSLOMissedOnLatency(t *testing.T) {
	index := &fakeIndex{windows: []run.StrategyWindow{
		{StrategyID: "slow", Samples: 10, Successes: 10, P95LatencyMS: 45000},
	}}
	r := NewReporter(index, SLOTarget{SuccessRate: 0.9, P95LatencyMS: 30000})

	report, err := r.SLO(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, report.SuccessRate, 1e-9)
	assert.False(t, report.Met)
}

func TestSLOEmptyWindowIsMet(t *testing.T) {
	r := NewReporter(&fakeIndex{}, SLOTarget{})
	report, err := r.SLO(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, report.Runs)
	assert.True(t, report.Met)
}

func TestTopFailuresShares(t *testing.T) {
	index := &fakeIndex{hotspots: []run.Hotspot{
		{StrategyID: "mcp/fetch", ErrorKind: run.ErrServiceUnavailable, Count: 6},
		{StrategyID: "research-brief", ErrorKind: run.ErrContractViolation, Count: 2},
	}}
	r := NewReporter(index, SLOTarget{})

	entries, err := r.TopFailures(context.Background(), time.Hour, 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "mcp/fetch", entries[0].StrategyID)
	assert.InDelta(t, 0.75, entries[0].Share, 1e-9)
	assert.InDelta(t, 0.25, entries[1].Share, 1e-9)
}
