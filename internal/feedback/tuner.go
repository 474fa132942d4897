package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"agentos/internal/config"
	"agentos/internal/domain/run"
	"agentos/internal/shared/id"
	"agentos/internal/shared/logging"
)

// Tuner converts evidence into PolicyOverride proposals on a cadence, and
// applies or rolls back override snapshots.
type Tuner struct {
	cfg       config.TunerConfig
	index     run.Index
	events    run.EventStore
	overrides run.OverrideStore
	feedback  *Service
	logger    logging.Logger
	now       func() time.Time
}

// NewTuner wires the policy tuner.
func NewTuner(cfg config.TunerConfig, index run.Index, events run.EventStore, overrides run.OverrideStore, fb *Service, logger logging.Logger) *Tuner {
	return &Tuner{
		cfg:       cfg,
		index:     index,
		events:    events,
		overrides: overrides,
		feedback:  fb,
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

// Evaluate aggregates the last window_days of attempts per (strategy,
// task_kind). The demote rule needs consecutive breaches, so the window is
// split into demote_windows equal sub-windows and a strategy is demote-rated
// only when every sub-window with data sits at or under the low watermark.
func (t *Tuner) Evaluate(ctx context.Context) ([]run.EvaluationRecord, error) {
	end := t.now().UTC()
	start := end.AddDate(0, 0, -t.cfg.WindowDays)

	windows, err := t.index.StrategyWindows(ctx, run.IndexQuery{Since: start, Until: end})
	if err != nil {
		return nil, fmt.Errorf("evaluate window: %w", err)
	}

	var records []run.EvaluationRecord
	for _, w := range windows {
		if w.Samples == 0 {
			continue
		}
		rec := run.EvaluationRecord{
			StrategyID:   w.StrategyID,
			TaskKind:     w.TaskKind,
			WindowStart:  start,
			WindowEnd:    end,
			Samples:      w.Samples,
			SuccessRate:  float64(w.Successes) / float64(w.Samples),
			P95LatencyMS: w.P95LatencyMS,
			FallbackRate: float64(w.FallbackRuns) / float64(w.Samples),
		}
		rec.HealthScore = healthScore(rec)

		switch {
		case w.Samples < t.cfg.MinSamples:
			rec.Recommendation = run.RecommendMoreData
		case rec.HealthScore >= t.cfg.HighWatermark:
			rec.Recommendation = run.RecommendPromote
		case rec.HealthScore <= t.cfg.LowWatermark:
			breached, err := t.consecutiveBreaches(ctx, w.StrategyID, w.TaskKind, start, end)
			if err != nil {
				return nil, err
			}
			if breached {
				rec.Recommendation = run.RecommendDemote
			} else {
				rec.Recommendation = run.RecommendMoreData
			}
		default:
			rec.Recommendation = run.RecommendMoreData
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].StrategyID != records[j].StrategyID {
			return records[i].StrategyID < records[j].StrategyID
		}
		return records[i].TaskKind < records[j].TaskKind
	})
	return records, nil
}

// healthScore weighs success most, then fallback pressure, then latency
// normalized against a 30s ceiling.
func healthScore(rec run.EvaluationRecord) float64 {
	latNorm := float64(rec.P95LatencyMS) / 30000.0
	if latNorm > 1 {
		latNorm = 1
	}
	return 0.6*rec.SuccessRate + 0.25*(1-rec.FallbackRate) + 0.15*(1-latNorm)
}

// consecutiveBreaches checks every demote sub-window: all sub-windows that
// contain samples must breach the low watermark.
func (t *Tuner) consecutiveBreaches(ctx context.Context, strategyID string, kind run.TaskKind, start, end time.Time) (bool, error) {
	n := t.cfg.DemoteWindows
	if n <= 1 {
		return true, nil
	}
	span := end.Sub(start) / time.Duration(n)
	sampled := 0
	for i := 0; i < n; i++ {
		subStart := start.Add(time.Duration(i) * span)
		subEnd := subStart.Add(span)
		windows, err := t.index.StrategyWindows(ctx, run.IndexQuery{
			StrategyID: strategyID, TaskKind: kind, Since: subStart, Until: subEnd,
		})
		if err != nil {
			return false, err
		}
		samples, successes := 0, 0
		for _, w := range windows {
			samples += w.Samples
			successes += w.Successes
		}
		if samples == 0 {
			continue
		}
		sampled++
		if float64(successes)/float64(samples) > t.cfg.LowWatermark {
			return false, nil
		}
	}
	return sampled >= 1, nil
}

// Proposal is one candidate override with its priority.
type Proposal struct {
	Override run.PolicyOverride `json:"override"`
	Priority float64            `json:"priority"`
	Reason   string             `json:"reason"`
}

// Proposals builds the bounded proposal set: demotions from evaluation,
// hard demotions for P1/P2 failure breaches, strict-block candidates, and a
// suggested default profile.
func (t *Tuner) Proposals(ctx context.Context) ([]Proposal, error) {
	records, err := t.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	end := t.now().UTC()
	start := end.AddDate(0, 0, -t.cfg.WindowDays)

	var proposals []Proposal
	for _, rec := range records {
		if rec.Recommendation != run.RecommendDemote {
			continue
		}
		proposals = append(proposals, Proposal{
			Override: run.PolicyOverride{Scope: run.ScopeStrategy, Key: rec.StrategyID, Value: "advisor"},
			Priority: 1 - rec.HealthScore,
			Reason: fmt.Sprintf("health %.2f at or under low watermark %.2f for %d consecutive windows",
				rec.HealthScore, t.cfg.LowWatermark, t.cfg.DemoteWindows),
		})
	}

	// P1/P2 breaches demote regardless of score
	hotspots, err := t.index.Hotspots(ctx, run.IndexQuery{Since: start, Until: end, Limit: 50})
	if err != nil {
		return nil, err
	}
	demoted := map[string]bool{}
	for _, p := range proposals {
		demoted[p.Override.Key] = true
	}
	for _, h := range hotspots {
		if h.ErrorKind != run.ErrPolicyViolation && h.ErrorKind != run.ErrContractViolation {
			continue
		}
		if demoted[h.StrategyID] {
			continue
		}
		demoted[h.StrategyID] = true
		proposals = append(proposals, Proposal{
			Override: run.PolicyOverride{Scope: run.ScopeStrategy, Key: h.StrategyID, Value: "advisor"},
			Priority: 1.0,
			Reason:   fmt.Sprintf("%d %s failures in window", h.Count, h.ErrorKind),
		})
	}

	// strict-block candidates: enough runs, at least half failing
	for _, rec := range records {
		if demoted[rec.StrategyID] {
			continue
		}
		if rec.Samples >= t.cfg.BlockMinRuns && rec.SuccessRate <= 1-t.cfg.BlockFailRate {
			proposals = append(proposals, Proposal{
				Override: run.PolicyOverride{Scope: run.ScopeStrategy, Key: rec.StrategyID, Value: "blocked"},
				Priority: 0.9,
				Reason:   fmt.Sprintf("%d runs with %.0f%% failure", rec.Samples, (1-rec.SuccessRate)*100),
			})
		}
	}

	// task kinds in sustained trouble get pinned to strict
	for _, kp := range t.kindProfiles(records) {
		proposals = append(proposals, kp)
	}

	if p, reason, ok := t.suggestedDefaultProfile(ctx, records); ok {
		proposals = append(proposals, Proposal{
			Override: run.PolicyOverride{Scope: run.ScopeProfile, Key: "default", Value: string(p)},
			Priority: 0.5,
			Reason:   reason,
		})
	}

	sort.SliceStable(proposals, func(i, j int) bool { return proposals[i].Priority > proposals[j].Priority })
	bounded := proposals[:0]
	for _, p := range proposals {
		if p.Priority < t.cfg.MinPriority {
			continue
		}
		bounded = append(bounded, p)
		if t.cfg.MaxActions > 0 && len(bounded) >= t.cfg.MaxActions {
			break
		}
	}
	return bounded, nil
}

// kindProfiles recommends pinning a task kind to the strict profile when its
// whole window, across every strategy, sits at or under the low watermark.
func (t *Tuner) kindProfiles(records []run.EvaluationRecord) []Proposal {
	samples := map[run.TaskKind]int{}
	weighted := map[run.TaskKind]float64{}
	for _, rec := range records {
		if rec.TaskKind == "" {
			continue
		}
		samples[rec.TaskKind] += rec.Samples
		weighted[rec.TaskKind] += rec.SuccessRate * float64(rec.Samples)
	}

	kinds := make([]run.TaskKind, 0, len(samples))
	for kind := range samples {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var proposals []Proposal
	for _, kind := range kinds {
		if samples[kind] < t.cfg.MinSamples {
			continue
		}
		rate := weighted[kind] / float64(samples[kind])
		if rate > t.cfg.LowWatermark {
			continue
		}
		proposals = append(proposals, Proposal{
			Override: run.PolicyOverride{Scope: run.ScopeTaskKind, Key: string(kind), Value: string(run.ProfileStrict)},
			Priority: 0.6,
			Reason: fmt.Sprintf("%s runs succeed %.0f%% of the time over the window, under the %.0f%% watermark",
				kind, rate*100, t.cfg.LowWatermark*100),
		})
	}
	return proposals
}

// suggestedDefaultProfile recommends adaptive only when the window shows
// high success, good feedback quality, and few aborted runs.
func (t *Tuner) suggestedDefaultProfile(ctx context.Context, records []run.EvaluationRecord) (run.Profile, string, bool) {
	samples, weighted := 0, 0.0
	for _, rec := range records {
		samples += rec.Samples
		weighted += rec.SuccessRate * float64(rec.Samples)
	}
	if samples == 0 {
		return "", "", false
	}
	successRate := weighted / float64(samples)

	window := time.Duration(t.cfg.WindowDays) * 24 * time.Hour
	stats, err := t.feedback.StatsSince(ctx, window)
	if err != nil {
		t.logger.Warn("feedback stats for profile suggestion: %v", err)
		return "", "", false
	}
	quality := stats.PositiveShare()

	summaries, err := t.events.Summaries(ctx)
	if err != nil {
		return "", "", false
	}
	since := t.now().Add(-window)
	total, manual := 0, 0
	for _, s := range summaries {
		if s.SealedAt.Before(since) {
			continue
		}
		total++
		if s.Outcome == run.OutcomeAborted {
			manual++
		}
	}
	manualRate := 0.0
	if total > 0 {
		manualRate = float64(manual) / float64(total)
	}

	if successRate >= t.cfg.AdaptiveSuccess && quality >= t.cfg.AdaptiveQuality && manualRate <= t.cfg.AdaptiveManualMax {
		return run.ProfileAdaptive, fmt.Sprintf("success %.0f%%, quality %.2f, manual %.0f%% clear the adaptive watermarks",
			successRate*100, quality, manualRate*100), true
	}
	return "", "", false
}

// Apply merges the proposals into the active override set and appends a new
// snapshot. Each applied override is stamped with the snapshot id so the log
// stays self-describing.
func (t *Tuner) Apply(ctx context.Context, proposals []Proposal, approvedBy string) (*run.Snapshot, error) {
	if len(proposals) == 0 {
		return nil, fmt.Errorf("nothing to apply")
	}
	active := map[string]run.PolicyOverride{}
	if latest, err := t.overrides.Latest(ctx); err == nil && latest != nil {
		for _, o := range latest.Active {
			active[string(o.Scope)+"|"+o.Key] = o
		}
	}

	snap := run.Snapshot{
		SnapshotID: id.NewSnapshotID(),
		AppliedAt:  t.now().UTC(),
		ApprovedBy: approvedBy,
		Reason:     fmt.Sprintf("tuner applied %d overrides", len(proposals)),
	}
	for _, p := range proposals {
		o := p.Override
		o.SnapshotID = snap.SnapshotID
		o.AppliedAt = snap.AppliedAt
		o.ApprovedBy = approvedBy
		active[string(o.Scope)+"|"+o.Key] = o
	}

	keys := make([]string, 0, len(active))
	for k := range active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		snap.Active = append(snap.Active, active[k])
	}

	if err := t.overrides.Append(ctx, snap); err != nil {
		return nil, err
	}
	t.logger.Info("override snapshot %s applied (%d active)", snap.SnapshotID, len(snap.Active))
	return &snap, nil
}

// WritePlan emits the proposal set as a JSON plan file for human approval
// instead of applying it.
func (t *Tuner) WritePlan(proposals []Proposal, path string) error {
	data, err := json.MarshalIndent(struct {
		GeneratedAt time.Time  `json:"generated_at"`
		Proposals   []Proposal `json:"proposals"`
	}{GeneratedAt: t.now().UTC(), Proposals: proposals}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plan %s: %w", path, err)
	}
	return nil
}

// DiffEntry describes one override change produced by a rollback.
type DiffEntry struct {
	Scope  run.OverrideScope `json:"scope"`
	Key    string            `json:"key"`
	Before string            `json:"before,omitempty"`
	After  string            `json:"after,omitempty"`
}

// Rollback restores the override set active immediately before the named
// snapshot by appending it as a fresh snapshot, and returns the diff against
// the current set.
func (t *Tuner) Rollback(ctx context.Context, snapshotID string) (*run.Snapshot, []DiffEntry, error) {
	history, err := t.overrides.History(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	// history is newest-first
	var before *run.Snapshot
	found := false
	for i, snap := range history {
		if snap.SnapshotID == snapshotID {
			found = true
			if i+1 < len(history) {
				before = &history[i+1]
			}
			break
		}
	}
	if !found {
		return nil, nil, fmt.Errorf("snapshot %s: not found", snapshotID)
	}

	var restored []run.PolicyOverride
	if before != nil {
		restored = before.Active
	}

	current := map[string]string{}
	if len(history) > 0 {
		for _, o := range history[0].Active {
			current[string(o.Scope)+"|"+o.Key] = o.Value
		}
	}
	target := map[string]string{}
	for _, o := range restored {
		target[string(o.Scope)+"|"+o.Key] = o.Value
	}

	var diff []DiffEntry
	seen := map[string]bool{}
	for _, o := range restored {
		k := string(o.Scope) + "|" + o.Key
		seen[k] = true
		if current[k] != o.Value {
			diff = append(diff, DiffEntry{Scope: o.Scope, Key: o.Key, Before: current[k], After: o.Value})
		}
	}
	if len(history) > 0 {
		for _, o := range history[0].Active {
			k := string(o.Scope) + "|" + o.Key
			if !seen[k] {
				diff = append(diff, DiffEntry{Scope: o.Scope, Key: o.Key, Before: o.Value})
			}
		}
	}

	snap := run.Snapshot{
		SnapshotID: id.NewSnapshotID(),
		AppliedAt:  t.now().UTC(),
		Reason:     fmt.Sprintf("rollback to state before %s", snapshotID),
		Active:     restored,
	}
	if err := t.overrides.Append(ctx, snap); err != nil {
		return nil, nil, err
	}
	t.logger.Info("rolled back to pre-%s state as snapshot %s (%d changes)", snapshotID, snap.SnapshotID, len(diff))
	return &snap, diff, nil
}
