package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentos/internal/config"
	"agentos/internal/domain/run"
	"agentos/internal/store"
)

type indexEntry struct {
	win run.StrategyWindow
	at  time.Time
}

// fakeTunerIndex aggregates timestamped rows the way the sqlite index does,
// so the same data answers both the full-window and sub-window queries.
type fakeTunerIndex struct {
	entries  []indexEntry
	hotspots []run.Hotspot
}

func (f *fakeTunerIndex) RecordAttempt(ctx context.Context, attempt run.Attempt, kind run.TaskKind) error {
	return nil
}

func (f *fakeTunerIndex) RecordSummary(ctx context.Context, summary run.Summary, kind run.TaskKind) error {
	return nil
}

func (f *fakeTunerIndex) LatestRun(ctx context.Context, kind run.TaskKind) (*run.Summary, error) {
	return nil, nil
}

func (f *fakeTunerIndex) StrategyWindows(ctx context.Context, q run.IndexQuery) ([]run.StrategyWindow, error) {
	agg := map[string]*run.StrategyWindow{}
	var order []string
	for _, e := range f.entries {
		if q.StrategyID != "" && e.win.StrategyID != q.StrategyID {
			continue
		}
		if q.TaskKind != "" && e.win.TaskKind != q.TaskKind {
			continue
		}
		if !q.Since.IsZero() && e.at.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && !e.at.Before(q.Until) {
			continue
		}
		key := e.win.StrategyID + "|" + string(e.win.TaskKind)
		w, ok := agg[key]
		if !ok {
			w = &run.StrategyWindow{StrategyID: e.win.StrategyID, TaskKind: e.win.TaskKind}
			agg[key] = w
			order = append(order, key)
		}
		w.Samples += e.win.Samples
		w.Successes += e.win.Successes
		w.Failures += e.win.Failures
		w.FallbackRuns += e.win.FallbackRuns
		if e.win.P95LatencyMS > w.P95LatencyMS {
			w.P95LatencyMS = e.win.P95LatencyMS
		}
	}
	var out []run.StrategyWindow
	for _, key := range order {
		out = append(out, *agg[key])
	}
	return out, nil
}

func (f *fakeTunerIndex) Hotspots(ctx context.Context, q run.IndexQuery) ([]run.Hotspot, error) {
	return f.hotspots, nil
}

func (f *fakeTunerIndex) RecentRuns(ctx context.Context, limit int) ([]run.Summary, error) {
	return nil, nil
}

var _ run.Index = (*fakeTunerIndex)(nil)

func testTunerConfig() config.TunerConfig {
	return config.TunerConfig{
		WindowDays:        14,
		DemoteWindows:     3,
		LowWatermark:      0.4,
		HighWatermark:     0.8,
		MinSamples:        10,
		MaxActions:        3,
		MinPriority:       0.2,
		AdaptiveSuccess:   0.9,
		AdaptiveQuality:   0.6,
		AdaptiveManualMax: 0.1,
		BlockMinRuns:      20,
		BlockFailRate:     0.5,
	}
}

type tunerFixture struct {
	tuner     *Tuner
	index     *fakeTunerIndex
	events    *store.EventLog
	overrides *store.OverrideLog
	now       time.Time
}

func newTunerFixture(t *testing.T) *tunerFixture {
	t.Helper()
	index := &fakeTunerIndex{}
	events := store.NewEventLog(t.TempDir(), nil)
	overrides := store.NewOverrideLog(t.TempDir(), nil)
	svc := NewService(events, nil)

	tuner := NewTuner(testTunerConfig(), index, events, overrides, svc, nil)
	now := time.Now().UTC()
	tuner.now = func() time.Time { return now }
	return &tunerFixture{tuner: tuner, index: index, events: events, overrides: overrides, now: now}
}

// addWindow places one aggregate row at a point inside the evaluation window.
func (tf *tunerFixture) addWindow(strategy string, at time.Time, samples, successes, fallbacks int, p95 int64) {
	tf.index.entries = append(tf.index.entries, indexEntry{
		win: run.StrategyWindow{
			StrategyID:   strategy,
			TaskKind:     run.KindResearch,
			Samples:      samples,
			Successes:    successes,
			Failures:     samples - successes,
			FallbackRuns: fallbacks,
			P95LatencyMS: p95,
		},
		at: at,
	})
}

// subWindowMid returns a timestamp in the middle of demote sub-window i.
func (tf *tunerFixture) subWindowMid(i int) time.Time {
	start := tf.now.AddDate(0, 0, -14)
	span := tf.now.Sub(start) / 3
	return start.Add(time.Duration(i)*span + span/2)
}

func TestEvaluateWatermarks(t *testing.T) {
	tf := newTunerFixture(t)
	recent := tf.now.Add(-time.Hour)
	tf.addWindow("good", recent, 30, 29, 0, 500)
	tf.addWindow("mid", recent, 20, 12, 5, 3000)
	tf.addWindow("sparse", recent, 5, 0, 0, 100)

	records, err := tf.tuner.Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	// sorted by strategy id
	assert.Equal(t, "good", records[0].StrategyID)
	assert.Equal(t, run.RecommendPromote, records[0].Recommendation)
	assert.Greater(t, records[0].HealthScore, 0.8)

	assert.Equal(t, "mid", records[1].StrategyID)
	assert.Equal(t, run.RecommendMoreData, records[1].Recommendation)
	assert.InDelta(t, 0.6, records[1].SuccessRate, 1e-9)
	assert.InDelta(t, 0.25, records[1].FallbackRate, 1e-9)

	assert.Equal(t, "sparse", records[2].StrategyID)
	assert.Equal(t, run.RecommendMoreData, records[2].Recommendation)
}

// Test demotion requires every sampled sub-window to breach the low watermark
func TestEvaluateDemoteNeedsConsecutiveBreaches(t *testing.T) {
	tf := newTunerFixture(t)
	for i := 0; i < 3; i++ {
		tf.addWindow("flaky", tf.subWindowMid(i), 5, 1, 5, 1000)
	}
	// one healthy sub-window in the middle interrupts the streak
	tf.addWindow("recovering", tf.subWindowMid(0), 5, 1, 5, 1000)
	tf.addWindow("recovering", tf.subWindowMid(1), 5, 4, 5, 1000)
	tf.addWindow("recovering", tf.subWindowMid(2), 5, 1, 5, 1000)

	records, err := tf.tuner.Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "flaky", records[0].StrategyID)
	assert.Equal(t, run.RecommendDemote, records[0].Recommendation)

	assert.Equal(t, "recovering", records[1].StrategyID)
	assert.LessOrEqual(t, records[1].HealthScore, 0.4)
	assert.Equal(t, run.RecommendMoreData, records[1].Recommendation)
}

func TestProposalsOrderedAndBounded(t *testing.T) {
	tf := newTunerFixture(t)
	for i := 0; i < 3; i++ {
		tf.addWindow("flaky", tf.subWindowMid(i), 5, 1, 5, 1000)
	}
	// enough runs with half failing, but health above the demote watermark
	tf.addWindow("broken", tf.now.Add(-time.Hour), 25, 12, 0, 500)
	tf.index.hotspots = []run.Hotspot{
		{StrategyID: "mcp/fetch", ErrorKind: run.ErrContractViolation, Count: 7},
		{StrategyID: "mcp/fetch", ErrorKind: run.ErrServiceUnavailable, Count: 3},
	}

	proposals, err := tf.tuner.Proposals(context.Background())
	require.NoError(t, err)
	require.Len(t, proposals, 3)

	// hard demotion for contract breaches outranks everything
	assert.Equal(t, "mcp/fetch", proposals[0].Override.Key)
	assert.Equal(t, "advisor", proposals[0].Override.Value)
	assert.InDelta(t, 1.0, proposals[0].Priority, 1e-9)
	assert.Contains(t, proposals[0].Reason, "contract_violation")

	assert.Equal(t, "broken", proposals[1].Override.Key)
	assert.Equal(t, "blocked", proposals[1].Override.Value)

	assert.Equal(t, "flaky", proposals[2].Override.Key)
	assert.Equal(t, "advisor", proposals[2].Override.Value)
	assert.Contains(t, proposals[2].Reason, "low watermark")
}

// Test a kind whose whole window underperforms gets pinned to strict
func TestProposalsPinTroubledKindToStrict(t *testing.T) {
	tf := newTunerFixture(t)
	recent := tf.now.Add(-time.Hour)
	tf.addWindow("a", recent, 6, 2, 0, 1000)
	tf.addWindow("b", recent, 6, 2, 0, 1000)

	proposals, err := tf.tuner.Proposals(context.Background())
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, run.ScopeTaskKind, proposals[0].Override.Scope)
	assert.Equal(t, string(run.KindResearch), proposals[0].Override.Key)
	assert.Equal(t, string(run.ProfileStrict), proposals[0].Override.Value)
	assert.InDelta(t, 0.6, proposals[0].Priority, 1e-9)
}

// Test a clean window with good feedback suggests the adaptive default
func TestProposalsSuggestAdaptiveDefault(t *testing.T) {
	ctx := context.Background()
	tf := newTunerFixture(t)
	tf.addWindow("good", tf.now.Add(-time.Hour), 30, 29, 0, 500)

	svc := NewService(tf.events, nil)
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		sealRun(t, tf.events, id)
		require.NoError(t, svc.Add(ctx, id, 1, ""))
	}

	proposals, err := tf.tuner.Proposals(ctx)
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, run.ScopeProfile, proposals[0].Override.Scope)
	assert.Equal(t, "default", proposals[0].Override.Key)
	assert.Equal(t, string(run.ProfileAdaptive), proposals[0].Override.Value)
	assert.Contains(t, proposals[0].Reason, "adaptive watermarks")
}

func TestApplyMergesActiveSet(t *testing.T) {
	ctx := context.Background()
	tf := newTunerFixture(t)

	require.NoError(t, tf.overrides.Append(ctx, run.Snapshot{
		SnapshotID: "snap-0",
		AppliedAt:  tf.now.Add(-time.Hour),
		Active: []run.PolicyOverride{
			{Scope: run.ScopeStrategy, Key: "old", Value: "advisor"},
		},
	}))

	snap, err := tf.tuner.Apply(ctx, []Proposal{
		{Override: run.PolicyOverride{Scope: run.ScopeStrategy, Key: "flaky", Value: "advisor"}},
		{Override: run.PolicyOverride{Scope: run.ScopeProfile, Key: "default", Value: "strict"}},
	}, "operator")
	require.NoError(t, err)
	assert.NotEmpty(t, snap.SnapshotID)
	assert.Equal(t, "operator", snap.ApprovedBy)

	// prior overrides are carried forward, new ones stamped with the snapshot
	require.Len(t, snap.Active, 3)
	assert.Equal(t, "default", snap.Active[0].Key)
	assert.Equal(t, "flaky", snap.Active[1].Key)
	assert.Equal(t, snap.SnapshotID, snap.Active[1].SnapshotID)
	assert.Equal(t, "old", snap.Active[2].Key)

	latest, err := tf.overrides.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.SnapshotID, latest.SnapshotID)

	_, err = tf.tuner.Apply(ctx, nil, "operator")
	assert.ErrorContains(t, err, "nothing to apply")
}

func TestRollbackRestoresPriorState(t *testing.T) {
	ctx := context.Background()
	tf := newTunerFixture(t)

	require.NoError(t, tf.overrides.Append(ctx, run.Snapshot{
		SnapshotID: "snap-a",
		AppliedAt:  tf.now.Add(-2 * time.Hour),
		Active: []run.PolicyOverride{
			{Scope: run.ScopeStrategy, Key: "a", Value: "advisor"},
		},
	}))
	require.NoError(t, tf.overrides.Append(ctx, run.Snapshot{
		SnapshotID: "snap-b",
		AppliedAt:  tf.now.Add(-time.Hour),
		Active: []run.PolicyOverride{
			{Scope: run.ScopeStrategy, Key: "a", Value: "blocked"},
			{Scope: run.ScopeStrategy, Key: "b", Value: "advisor"},
		},
	}))

	snap, diff, err := tf.tuner.Rollback(ctx, "snap-b")
	require.NoError(t, err)
	require.Len(t, snap.Active, 1)
	assert.Equal(t, "advisor", snap.Active[0].Value)

	require.Len(t, diff, 2)
	assert.Equal(t, "a", diff[0].Key)
	assert.Equal(t, "blocked", diff[0].Before)
	assert.Equal(t, "advisor", diff[0].After)
	assert.Equal(t, "b", diff[1].Key)
	assert.Equal(t, "advisor", diff[1].Before)
	assert.Empty(t, diff[1].After)

	// the rollback itself lands as the newest snapshot
	latest, err := tf.overrides.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.SnapshotID, latest.SnapshotID)

	_, _, err = tf.tuner.Rollback(ctx, "snap-missing")
	assert.ErrorContains(t, err, "not found")
}
