package kernel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentos/internal/config"
	"agentos/internal/domain/run"
	"agentos/internal/shared/id"
	"agentos/internal/shared/logging"
)

// Kernel is the front door: it builds TaskSpecs, binds profiles, plans, and
// hands runs to the worker pool. Exposes Submit and Status.
type Kernel struct {
	cfg       config.Config
	ranker    *Ranker
	engine    *Engine
	pool      *Pool
	events    run.EventStore
	overrides run.OverrideStore
	logger    logging.Logger
}

// New wires the kernel facade.
func New(cfg config.Config, ranker *Ranker, engine *Engine, pool *Pool, events run.EventStore, overrides run.OverrideStore, logger logging.Logger) *Kernel {
	return &Kernel{
		cfg:       cfg,
		ranker:    ranker,
		engine:    engine,
		pool:      pool,
		events:    events,
		overrides: overrides,
		logger:    logging.OrNop(logger),
	}
}

// SubmitOptions tunes one submission.
type SubmitOptions struct {
	Profile string // strict | adaptive | auto; empty = configured default
	Origin  run.Origin
	Params  map[string]string
	Wait    bool // run synchronously instead of enqueueing
	DryRun  bool // classify and plan only, execute nothing
}

// Submission is what Submit returns: identifiers immediately, and the sealed
// summary when Wait was set.
type Submission struct {
	TaskID  string
	RunID   string
	Plan    *run.Plan
	Summary *run.Summary // nil unless Wait
}

// Submit classifies the text, binds a profile, plans, and admits the run.
func (k *Kernel) Submit(ctx context.Context, text string, opts SubmitOptions) (*Submission, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("task text is required")
	}
	if opts.Origin == "" {
		opts.Origin = run.OriginCLI
	}

	task := run.TaskSpec{
		TaskID:         id.NewTaskID(),
		Text:           text,
		TaskKind:       Classify(text),
		Language:       DetectLanguage(text),
		EnteredAt:      time.Now().UTC(),
		Origin:         opts.Origin,
		ExplicitParams: opts.Params,
	}

	rctx, err := k.resolveContext(ctx, task, opts.Profile)
	if err != nil {
		return nil, err
	}

	plan, err := k.ranker.Plan(ctx, rctx, task)
	if err != nil {
		return nil, fmt.Errorf("plan run %s: %w", rctx.RunID, err)
	}
	k.logger.Info("submitted %s kind=%s profile=%s candidates=%d",
		rctx.RunID, task.TaskKind, rctx.Profile, len(plan.Candidates))

	sub := &Submission{TaskID: task.TaskID, RunID: rctx.RunID, Plan: plan}
	if opts.DryRun {
		return sub, nil
	}
	if opts.Wait {
		summary, err := k.engine.Run(ctx, task, rctx, plan)
		if err != nil {
			return nil, err
		}
		sub.Summary = summary
		return sub, nil
	}
	if err := k.pool.Enqueue(task, rctx, plan); err != nil {
		return nil, err
	}
	return sub, nil
}

// Status returns the sealed summary, or (nil, true) while the run is still
// queued or executing.
func (k *Kernel) Status(ctx context.Context, runID string) (*run.Summary, bool, error) {
	if k.pool != nil && k.pool.Pending(runID) {
		return nil, true, nil
	}
	summary, err := k.events.Summary(ctx, runID)
	if err != nil {
		if k.pool != nil && k.pool.Pending(runID) {
			return nil, true, nil
		}
		return nil, false, err
	}
	return summary, false, nil
}

// resolveContext binds the governance profile: explicit choice, else the
// auto chain (task-kind override, learned default override, configured
// default). Strict always disables learning and caps fallback at one step.
func (k *Kernel) resolveContext(ctx context.Context, task run.TaskSpec, requested string) (run.Context, error) {
	profile := run.Profile(requested)
	if profile == "" {
		profile = run.Profile(k.cfg.DefaultProfile)
	}

	overrides := k.activeOverrides(ctx)
	if profile == run.ProfileAuto {
		profile = k.autoProfile(task.TaskKind, overrides)
	}

	pc, ok := k.cfg.Profiles[string(profile)]
	if !ok {
		return run.Context{}, fmt.Errorf("profile %q is not configured", profile)
	}

	rctx := run.Context{
		RunID:            id.NewRunID(),
		TaskID:           task.TaskID,
		Profile:          profile,
		AllowedLayers:    pc.AllowedLayers,
		MaxRiskLevel:     run.RiskLevel(pc.MaxRiskLevel),
		Deterministic:    pc.Deterministic,
		LearningEnabled:  pc.LearningEnabled,
		MaxFallbackSteps: pc.MaxFallbackSteps,
		TraceID:          id.NewTraceID(),
	}
	for _, m := range pc.BlockedMaturity {
		rctx.BlockedMaturity = append(rctx.BlockedMaturity, run.Maturity(m))
	}
	if profile == run.ProfileStrict {
		rctx.LearningEnabled = false
		rctx.MaxFallbackSteps = 1
	}
	if rctx.MaxFallbackSteps < 1 {
		rctx.MaxFallbackSteps = 1
	}

	for _, o := range overrides {
		if o.Scope != run.ScopeStrategy {
			continue
		}
		switch o.Value {
		case "blocked":
			rctx.BlockedStrategies = append(rctx.BlockedStrategies, o.Key)
		case "advisor":
			// demoted, not excluded: still available when nothing else is
			rctx.DemotedStrategies = append(rctx.DemotedStrategies, o.Key)
		}
	}
	return rctx, nil
}

// activeOverrides reads the latest snapshot's override set. No snapshot
// means no overrides.
func (k *Kernel) activeOverrides(ctx context.Context) []run.PolicyOverride {
	if k.overrides == nil {
		return nil
	}
	snap, err := k.overrides.Latest(ctx)
	if err != nil || snap == nil {
		if err != nil {
			k.logger.Warn("read override snapshot: %v", err)
		}
		return nil
	}
	return snap.Active
}

// autoProfile resolves profile=auto: a task-kind override wins, then a
// learned default-profile override, then the configured default. Auto
// resolving to auto would loop, so anything unresolved lands on adaptive.
func (k *Kernel) autoProfile(kind run.TaskKind, overrides []run.PolicyOverride) run.Profile {
	for _, o := range overrides {
		if o.Scope == run.ScopeTaskKind && o.Key == string(kind) {
			if p := run.Profile(o.Value); p == run.ProfileStrict || p == run.ProfileAdaptive {
				return p
			}
		}
	}
	for _, o := range overrides {
		if o.Scope == run.ScopeProfile && o.Key == "default" {
			if p := run.Profile(o.Value); p == run.ProfileStrict || p == run.ProfileAdaptive {
				return p
			}
		}
	}
	if p := run.Profile(k.cfg.DefaultProfile); p == run.ProfileStrict || p == run.ProfileAdaptive {
		return p
	}
	return run.ProfileAdaptive
}

// Close drains the worker pool.
func (k *Kernel) Close() {
	if k.pool != nil {
		k.pool.Close()
	}
}
