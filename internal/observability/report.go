package observability

import (
	"context"
	"sort"
	"time"

	"agentos/internal/domain/run"
)

// SLOTarget is the adherence bar the observe report measures against:
// share of runs sealed success within the latency bound.
type SLOTarget struct {
	SuccessRate  float64
	P95LatencyMS int64
}

// DefaultSLO is the single-operator baseline.
var DefaultSLO = SLOTarget{SuccessRate: 0.90, P95LatencyMS: 30_000}

// SLOReport is the aggregate view over one evaluation window.
type SLOReport struct {
	Window       time.Duration    `json:"window"`
	Runs         int              `json:"runs"`
	Successes    int              `json:"successes"`
	SuccessRate  float64          `json:"success_rate"`
	FallbackRate float64          `json:"fallback_rate"`
	P95LatencyMS int64            `json:"p95_latency_ms"`
	Target       SLOTarget        `json:"target"`
	Met          bool             `json:"met"`
	ByStrategy   []StrategyHealth `json:"by_strategy"`
}

// StrategyHealth is the per-strategy slice of the report.
type StrategyHealth struct {
	StrategyID   string  `json:"strategy_id"`
	Samples      int     `json:"samples"`
	SuccessRate  float64 `json:"success_rate"`
	FallbackRate float64 `json:"fallback_rate"`
	P95LatencyMS int64   `json:"p95_latency_ms"`
}

// FailureEntry is one row of the failure leaderboard.
type FailureEntry struct {
	StrategyID string        `json:"strategy_id"`
	ErrorKind  run.ErrorKind `json:"error_kind"`
	Count      int           `json:"count"`
	Share      float64       `json:"share"`
}

// Reporter aggregates the evidence index into operator reports.
type Reporter struct {
	index  run.Index
	target SLOTarget
	now    func() time.Time
}

// NewReporter binds the reporter to the index. A zero target falls back to
// the default SLO.
func NewReporter(index run.Index, target SLOTarget) *Reporter {
	if target.SuccessRate <= 0 {
		target = DefaultSLO
	}
	return &Reporter{index: index, target: target, now: time.Now}
}

// SLO computes adherence over the window.
func (r *Reporter) SLO(ctx context.Context, window time.Duration) (*SLOReport, error) {
	windows, err := r.index.StrategyWindows(ctx, run.IndexQuery{
		Since: r.now().Add(-window),
	})
	if err != nil {
		return nil, err
	}

	report := &SLOReport{Window: window, Target: r.target}
	fallbacks := 0
	var worstP95 int64
	for _, w := range windows {
		report.Runs += w.Samples
		report.Successes += w.Successes
		fallbacks += w.FallbackRuns
		if w.P95LatencyMS > worstP95 {
			worstP95 = w.P95LatencyMS
		}
		health := StrategyHealth{
			StrategyID:   w.StrategyID,
			Samples:      w.Samples,
			P95LatencyMS: w.P95LatencyMS,
		}
		if w.Samples > 0 {
			health.SuccessRate = float64(w.Successes) / float64(w.Samples)
			health.FallbackRate = float64(w.FallbackRuns) / float64(w.Samples)
		}
		report.ByStrategy = append(report.ByStrategy, health)
	}
	sort.Slice(report.ByStrategy, func(i, j int) bool {
		return report.ByStrategy[i].StrategyID < report.ByStrategy[j].StrategyID
	})

	report.P95LatencyMS = worstP95
	if report.Runs > 0 {
		report.SuccessRate = float64(report.Successes) / float64(report.Runs)
		report.FallbackRate = float64(fallbacks) / float64(report.Runs)
	}
	report.Met = report.Runs == 0 ||
		(report.SuccessRate >= r.target.SuccessRate && report.P95LatencyMS <= r.target.P95LatencyMS)
	return report, nil
}

// TopFailures returns the top-n failure leaderboard over the window.
func (r *Reporter) TopFailures(ctx context.Context, window time.Duration, n int) ([]FailureEntry, error) {
	hotspots, err := r.index.Hotspots(ctx, run.IndexQuery{
		Since: r.now().Add(-window),
		Limit: n,
	})
	if err != nil {
		return nil, err
	}
	total := 0
	for _, h := range hotspots {
		total += h.Count
	}
	entries := make([]FailureEntry, 0, len(hotspots))
	for _, h := range hotspots {
		e := FailureEntry{StrategyID: h.StrategyID, ErrorKind: h.ErrorKind, Count: h.Count}
		if total > 0 {
			e.Share = float64(h.Count) / float64(total)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
