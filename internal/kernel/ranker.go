package kernel

import (
	"context"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"agentos/internal/config"
	"agentos/internal/domain/run"
	"agentos/internal/shared/logging"
)

// Ranker builds ExecutionPlans: enumerate covering strategies, apply the
// governance filters, score, order deterministically, truncate to the
// fallback budget.
type Ranker struct {
	cfg      config.RankerConfig
	profiles map[string]config.ProfileConfig
	catalog  *Catalog
	index    run.Index
	memCache *lru.Cache[string, memoryEntry]
	logger   logging.Logger
	now      func() time.Time
}

type memoryEntry struct {
	score     float64
	fetchedAt time.Time
}

// memoryCacheTTL bounds staleness of cached memory scores; fresh windows are
// cheap enough to refetch once a minute.
const memoryCacheTTL = time.Minute

// NewRanker wires the ranker against the strategy catalog and the evidence
// index.
func NewRanker(cfg config.RankerConfig, profiles map[string]config.ProfileConfig, catalog *Catalog, index run.Index, logger logging.Logger) (*Ranker, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create memory-score cache: %w", err)
	}
	return &Ranker{
		cfg:      cfg,
		profiles: profiles,
		catalog:  catalog,
		index:    index,
		memCache: cache,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}, nil
}

// weights returns (base_weight, memory_weight) for a profile. Strict clamps
// memory influence so learned preference cannot override the deterministic
// base ordering.
func (r *Ranker) weights(profile run.Profile) (float64, float64) {
	if p, ok := r.profiles[string(profile)]; ok && p.BaseWeight+p.MemoryWeight > 0 {
		base, memory := p.BaseWeight, p.MemoryWeight
		if profile == run.ProfileStrict && memory > 0.05 {
			base, memory = 0.95, 0.05
		}
		return base, memory
	}
	if profile == run.ProfileStrict {
		return 0.95, 0.05
	}
	return 0.7, 0.3
}

// Plan emits the ExecutionPlan for one run context.
func (r *Ranker) Plan(ctx context.Context, rctx run.Context, task run.TaskSpec) (*run.Plan, error) {
	base, memory := r.weights(rctx.Profile)
	text := StripPrefix(task.Text)

	var candidates []run.StrategyCandidate
	for _, strategy := range r.catalog.ForKind(task.TaskKind) {
		if !rctx.StrategyAllowed(strategy.StrategyID) {
			continue
		}
		if !rctx.LayerAllowed(strategy.RequiredLayer) {
			continue
		}
		if rctx.MaturityBlocked(strategy.Maturity) {
			continue
		}
		if strategy.RiskLevel.Rank() > rctx.MaxRiskLevel.Rank() {
			continue
		}

		cand := run.StrategyCandidate{
			StrategyID:     strategy.StrategyID,
			Binding:        strategy.Binding,
			BaseScore:      strategy.BaseScore(text),
			RiskLevel:      strategy.RiskLevel,
			Maturity:       strategy.Maturity,
			RequiredLayer:  strategy.RequiredLayer,
			RequiredInputs: strategy.RequiredInputs,
		}
		cand.MemoryScore = r.memoryScore(ctx, strategy.StrategyID, task.TaskKind)
		cand.CompositeScore = base*cand.BaseScore + memory*cand.MemoryScore
		cand.Reason = fmt.Sprintf("base=%.3f memory=%.3f weights=%.2f/%.2f", cand.BaseScore, cand.MemoryScore, base, memory)
		candidates = append(candidates, cand)
	}

	sortCandidates(candidates)

	// demoted strategies move to the back, order otherwise preserved
	if len(rctx.DemotedStrategies) > 0 {
		kept := make([]run.StrategyCandidate, 0, len(candidates))
		var demoted []run.StrategyCandidate
		for _, cand := range candidates {
			if rctx.StrategyDemoted(cand.StrategyID) {
				demoted = append(demoted, cand)
				continue
			}
			kept = append(kept, cand)
		}
		candidates = append(kept, demoted...)
	}

	plan := &run.Plan{
		RunID:     rctx.RunID,
		CreatedAt: r.now().UTC(),
	}
	if len(candidates) >= 2 {
		plan.TopGap = candidates[0].CompositeScore - candidates[1].CompositeScore
		if rctx.Profile == run.ProfileStrict && plan.TopGap < r.cfg.AmbiguityGap {
			plan.Ambiguous = true
			r.logger.Info("plan %s ambiguous: top gap %.4f below %.4f", rctx.RunID, plan.TopGap, r.cfg.AmbiguityGap)
		}
	}

	limit := rctx.MaxFallbackSteps
	if limit < 1 {
		limit = 1
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	plan.Candidates = candidates
	return plan, nil
}

// sortCandidates applies the stable four-level tie-break: composite
// descending, risk ascending, maturity descending, strategy id
// lexicographic.
func sortCandidates(candidates []run.StrategyCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if a.RiskLevel.Rank() != b.RiskLevel.Rank() {
			return a.RiskLevel.Rank() < b.RiskLevel.Rank()
		}
		if a.Maturity.Rank() != b.Maturity.Rank() {
			return a.Maturity.Rank() > b.Maturity.Rank()
		}
		return a.StrategyID < b.StrategyID
	})
}

// memoryScore is the count-smoothed success ratio over the configured
// window: (prior_rate·prior_weight + successes) / (prior_weight + samples).
// Missing history returns the prior. Ranking only ever reads the configured
// window; older history surfaces through evaluation reports instead.
func (r *Ranker) memoryScore(ctx context.Context, strategyID string, kind run.TaskKind) float64 {
	prior := r.cfg.PriorRate
	if prior <= 0 {
		prior = 0.5
	}
	weight := r.cfg.PriorWeight
	if weight <= 0 {
		weight = 20
	}
	if r.index == nil {
		return prior
	}

	key := strategyID + "|" + string(kind)
	if entry, ok := r.memCache.Get(key); ok && r.now().Sub(entry.fetchedAt) < memoryCacheTTL {
		return entry.score
	}

	since := r.now().AddDate(0, 0, -r.cfg.MemoryWindowDays)
	windows, err := r.index.StrategyWindows(ctx, run.IndexQuery{
		StrategyID: strategyID,
		TaskKind:   kind,
		Since:      since,
	})
	if err != nil {
		r.logger.Warn("memory score for %s: %v", key, err)
		return prior
	}

	samples, successes := 0, 0
	for _, w := range windows {
		samples += w.Samples
		successes += w.Successes
	}
	score := (prior*weight + float64(successes)) / (weight + float64(samples))
	r.memCache.Add(key, memoryEntry{score: score, fetchedAt: r.now()})
	return score
}
