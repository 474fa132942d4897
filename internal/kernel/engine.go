package kernel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"agentos/internal/config"
	"agentos/internal/domain/run"
	"agentos/internal/governance"
	"agentos/internal/mcprt"
	"agentos/internal/observability"
	"agentos/internal/registry"
	"agentos/internal/shared/errors"
	"agentos/internal/shared/id"
	"agentos/internal/shared/logging"
)

// Engine executes an ExecutionPlan sequentially: governance re-check, input
// binding, deadline-bounded invocation, error-kind classification, and
// fallback to the next candidate. Every attempt is persisted before the next
// one starts; the run ends with exactly one sealed RunSummary.
type Engine struct {
	cfg        config.EngineConfig
	retryCfg   config.RetryConfig
	catalog    *Catalog
	services   *registry.Registry
	mcp        *mcprt.Runtime
	gatekeeper *governance.Gatekeeper
	events     run.EventStore
	index      run.Index
	artifacts  run.ArtifactStore
	logger     logging.Logger
	metrics    *observability.MetricsCollector
	tracer     *observability.TracerProvider
}

// SetObservability attaches the metric and trace sinks. Both tolerate nil.
func (e *Engine) SetObservability(metrics *observability.MetricsCollector, tracer *observability.TracerProvider) {
	e.metrics = metrics
	e.tracer = tracer
}

// NewEngine wires the execution loop.
func NewEngine(
	cfg config.EngineConfig,
	retryCfg config.RetryConfig,
	catalog *Catalog,
	services *registry.Registry,
	mcp *mcprt.Runtime,
	gatekeeper *governance.Gatekeeper,
	events run.EventStore,
	index run.Index,
	artifacts run.ArtifactStore,
	logger logging.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg,
		retryCfg:   retryCfg,
		catalog:    catalog,
		services:   services,
		mcp:        mcp,
		gatekeeper: gatekeeper,
		events:     events,
		index:      index,
		artifacts:  artifacts,
		logger:     logging.OrNop(logger),
	}
}

// Run executes the plan and seals the RunSummary. The returned error is nil
// for every properly sealed run, whatever its outcome; errors mean the
// evidence layer itself failed.
func (e *Engine) Run(ctx context.Context, task run.TaskSpec, rctx run.Context, plan *run.Plan) (*run.Summary, error) {
	started := time.Now()

	ctx, span := e.tracer.StartSpan(ctx, observability.SpanEngineRun,
		append(observability.RunAttr(rctx.RunID, task.TaskID),
			attribute.String(observability.AttrTaskKind, string(task.TaskKind)),
			attribute.String(observability.AttrProfile, string(rctx.Profile)))...)
	defer span.End()

	if qs, assumptions := e.clarifications(plan); len(qs) > 0 {
		summary := &run.Summary{
			RunID:         rctx.RunID,
			TaskID:        task.TaskID,
			Outcome:       run.OutcomeClarification,
			AttemptsCount: 0,
			Bundle: &run.DeliveryBundle{
				RunID:                  rctx.RunID,
				Headline:               "Need a little more detail before running",
				ClarificationQuestions: qs,
				Assumptions:            assumptions,
				RetryOptions:           []run.RetryOption{run.RetryStrict, run.RetryAdaptive},
			},
		}
		return e.seal(ctx, task, summary, started)
	}

	var attempts []run.Attempt
	var advisory *run.ArtifactRef
	var lastErr error
	aborted := false

	for seq, cand := range plan.Candidates {
		if err := ctx.Err(); err != nil {
			aborted = true
			lastErr = errors.Wrap(run.ErrInternal, fmt.Errorf("run cancelled: %w", err))
			break
		}

		attempt := run.Attempt{
			AttemptID:  id.NewAttemptID(),
			RunID:      rctx.RunID,
			StrategyID: cand.StrategyID,
			Seq:        seq,
			StartedAt:  time.Now().UTC(),
			Closure: run.LoopClosure{
				Plan: fmt.Sprintf("invoke %s via %s (composite %.3f)", cand.StrategyID, cand.Binding.Name, cand.CompositeScore),
			},
		}

		strategy, ok := e.catalog.Get(cand.StrategyID)
		if !ok {
			e.finishAttempt(&attempt, run.AttemptSkipped, run.ErrInternal, fmt.Sprintf("strategy %s vanished from catalog", cand.StrategyID))
			attempts = append(attempts, attempt)
			e.persistAttempt(ctx, attempt, task.TaskKind)
			continue
		}

		if err := e.gatekeeper.CheckCandidate(rctx, cand, strategy.SideEffects); err != nil {
			e.finishAttempt(&attempt, run.AttemptSkipped, errors.KindOf(err), err.Error())
			attempts = append(attempts, attempt)
			e.persistAttempt(ctx, attempt, task.TaskKind)
			lastErr = err
			continue
		}

		params, err := e.bindInputs(strategy, task)
		if err != nil {
			e.finishAttempt(&attempt, run.AttemptSkipped, run.ErrMissingInput, err.Error())
			attempts = append(attempts, attempt)
			e.persistAttempt(ctx, attempt, task.TaskKind)
			lastErr = err
			continue
		}

		if err := e.gatekeeper.ScanParams(params); err != nil {
			e.finishAttempt(&attempt, run.AttemptAborted, run.ErrPolicyViolation, err.Error())
			attempts = append(attempts, attempt)
			e.persistAttempt(ctx, attempt, task.TaskKind)
			lastErr = err
			aborted = true
			break
		}

		invokeCtx, attemptSpan := e.tracer.StartSpan(ctx, observability.SpanAttempt,
			attribute.String(observability.AttrRunID, rctx.RunID),
			attribute.String(observability.AttrStrategyID, cand.StrategyID))
		result, retries, err := e.invoke(invokeCtx, strategy, params, rctx, seq)
		if err != nil {
			attemptSpan.RecordError(err)
			attemptSpan.SetAttributes(attribute.String(observability.AttrErrorKind, string(errors.KindOf(err))))
		}
		attemptSpan.End()
		attempt.Telemetry.Retries = retries
		attempt.Telemetry.FallbacksUsed = seq
		attempt.Closure.Execute = fmt.Sprintf("%d artifacts, %d retries", len(result.Artifacts), retries)

		if err != nil {
			kind := errors.KindOf(err)
			status := run.AttemptFailed
			if kind.Fatal() {
				status = run.AttemptAborted
				aborted = true
			}
			e.finishAttempt(&attempt, status, kind, err.Error())
			attempt.Closure.Verify = "failed: " + string(kind)
			attempt.Closure.Improve = "fall back to next candidate"
			attempts = append(attempts, attempt)
			e.persistAttempt(ctx, attempt, task.TaskKind)
			lastErr = err
			if aborted {
				break
			}
			if result.Partial && len(result.Artifacts) > 0 && advisory == nil {
				ref := result.Artifacts[0]
				ref.Advisory = true
				advisory = &ref
			}
			continue
		}

		attempt.Artifacts = result.Artifacts
		e.finishAttempt(&attempt, run.AttemptSucceeded, run.ErrNone, "")
		attempt.Closure.Verify = "acceptance checks passed"
		attempts = append(attempts, attempt)
		e.persistAttempt(ctx, attempt, task.TaskKind)

		summary := &run.Summary{
			RunID:          rctx.RunID,
			TaskID:         task.TaskID,
			Outcome:        run.OutcomeSucceeded,
			ChosenStrategy: cand.StrategyID,
			AttemptsCount:  len(attempts),
			Bundle:         e.successBundle(rctx, cand, result, plan),
		}
		return e.seal(ctx, task, summary, started)
	}

	outcome := run.OutcomeFailed
	if aborted {
		outcome = run.OutcomeAborted
	} else if advisory != nil {
		outcome = run.OutcomeDegraded
	}
	summary := &run.Summary{
		RunID:         rctx.RunID,
		TaskID:        task.TaskID,
		Outcome:       outcome,
		AttemptsCount: len(attempts),
		Bundle:        e.failureBundle(rctx, outcome, lastErr, advisory),
	}
	return e.seal(ctx, task, summary, started)
}

// clarifications inspects the top candidate for structurally missing
// high-value inputs. At most two questions per run, ever.
func (e *Engine) clarifications(plan *run.Plan) ([]string, []string) {
	if len(plan.Candidates) == 0 {
		return nil, nil
	}
	var questions, assumptions []string
	for _, input := range plan.Candidates[0].RequiredInputs {
		if !input.Required || !input.HighValue || input.Default != "" {
			if input.Default != "" {
				assumptions = append(assumptions, fmt.Sprintf("%s defaults to %q", input.Name, input.Default))
			}
			continue
		}
		if input.Question == "" {
			continue
		}
		// text is always bound from the task itself
		if input.Name == "text" {
			continue
		}
		if len(questions) < 2 {
			questions = append(questions, input.Question)
		}
	}
	return questions, assumptions
}

// bindInputs resolves required parameters from the TaskSpec: explicit params
// first, task text for the conventional "text" input, then declared
// defaults.
func (e *Engine) bindInputs(strategy Strategy, task run.TaskSpec) (map[string]string, error) {
	params := map[string]string{}
	for k, v := range task.ExplicitParams {
		params[k] = v
	}
	if _, ok := params["text"]; !ok {
		params["text"] = StripPrefix(task.Text)
	}
	for _, input := range strategy.RequiredInputs {
		if _, ok := params[input.Name]; ok {
			continue
		}
		if input.Default != "" {
			params[input.Name] = input.Default
			continue
		}
		if input.Required {
			return nil, errors.Newf(run.ErrMissingInput, "strategy %s: required input %q missing and has no default", strategy.StrategyID, input.Name)
		}
	}
	return params, nil
}

// invoke runs one candidate with the per-attempt deadline. Service
// strategies go through the registry (transient errors retried in place);
// MCP strategies delegate to the connector runtime, which owns its own retry
// chain, and the tool result is surrendered to the artifact store.
func (e *Engine) invoke(ctx context.Context, strategy Strategy, params map[string]string, rctx run.Context, seq int) (registry.ServiceResult, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	switch strategy.Kind {
	case StrategyMCP:
		chainID := fmt.Sprintf("%s.a%d", rctx.RunID, seq+1)
		intent := strategy.Binding.Name + " " + params["text"]
		tr, err := e.mcp.Invoke(attemptCtx, chainID, intent, params, mcprt.InvokeOptions{
			ChainTimeout: e.cfg.AttemptTimeout,
		})
		if err != nil {
			result := registry.ServiceResult{Partial: tr.Partial}
			if tr.Partial && tr.Content != "" {
				// keep whatever the chain salvaged so the run can degrade
				// instead of failing empty-handed
				if ref, putErr := e.artifacts.Put(ctx, mediaKind(tr.MediaType), strategy.StrategyID, []byte(tr.Content)); putErr == nil {
					result.Artifacts = []run.ArtifactRef{ref}
					result.Summary = "partial connector result via " + strategy.StrategyID
				}
			}
			return result, 0, err
		}
		ref, err := e.artifacts.Put(attemptCtx, mediaKind(tr.MediaType), strategy.StrategyID, []byte(tr.Content))
		if err != nil {
			return registry.ServiceResult{}, 0, errors.Wrap(run.ErrInternal, err)
		}
		return registry.ServiceResult{
			Artifacts: []run.ArtifactRef{ref},
			Summary:   "connector result via " + strategy.StrategyID,
		}, 0, nil

	default:
		callCtx, span := e.tracer.StartSpan(attemptCtx, observability.SpanServiceCall,
			attribute.String(observability.AttrStrategyID, strategy.StrategyID))
		defer span.End()

		retries := 0
		result, err := errors.RetryWithResult(callCtx, errors.RetryConfig{
			MaxRetries:   e.retryCfg.MaxRetries,
			BaseDelay:    e.retryCfg.BaseDelay,
			MaxDelay:     e.retryCfg.MaxDelay,
			JitterFactor: e.retryCfg.JitterFactor,
		}, e.logger, func(ctx context.Context) (registry.ServiceResult, error) {
			res, callErr := e.services.Call(ctx, strategy.Binding.Name, params, rctx)
			if callErr != nil {
				retries++
			}
			return res, callErr
		})
		if retries > 0 {
			retries--
		}
		return result, retries, err
	}
}

// mediaKind maps a connector media type onto an artifact kind.
func mediaKind(mediaType string) string {
	switch mediaType {
	case "application/json":
		return "json"
	case "text/markdown":
		return "md"
	case "text/html", "":
		return "html"
	default:
		return "binary"
	}
}

func (e *Engine) finishAttempt(attempt *run.Attempt, status run.AttemptStatus, kind run.ErrorKind, message string) {
	attempt.EndedAt = time.Now().UTC()
	attempt.Status = status
	attempt.ErrorKind = kind
	attempt.ErrorMessage = message
	attempt.Telemetry.LatencyMS = attempt.EndedAt.Sub(attempt.StartedAt).Milliseconds()
	if attempt.Closure.Verify == "" && status != run.AttemptSucceeded {
		attempt.Closure.Verify = string(status)
	}
}

// persistAttempt appends the attempt to the event log and index before the
// next attempt may begin. Evidence failures are logged, not fatal to the
// run: losing an index row is recoverable, abandoning the run is not.
func (e *Engine) persistAttempt(ctx context.Context, attempt run.Attempt, kind run.TaskKind) {
	if err := e.events.AppendAttempt(ctx, attempt); err != nil {
		e.logger.Error("append attempt %s: %v", attempt.AttemptID, err)
	}
	if err := e.index.RecordAttempt(ctx, attempt, kind); err != nil {
		e.logger.Error("index attempt %s: %v", attempt.AttemptID, err)
	}
	if err := e.events.AppendTelemetry(ctx, run.TelemetryEvent{
		TS:        time.Now().UTC(),
		Module:    "engine",
		Action:    "attempt." + attempt.StrategyID,
		Status:    string(attempt.Status),
		RunID:     attempt.RunID,
		LatencyMS: attempt.Telemetry.LatencyMS,
		ErrorCode: string(attempt.ErrorKind),
	}); err != nil {
		e.logger.Error("append telemetry for %s: %v", attempt.AttemptID, err)
	}
	e.metrics.RecordAttempt(ctx, attempt.StrategyID, string(attempt.Status),
		time.Duration(attempt.Telemetry.LatencyMS)*time.Millisecond)
}

// seal verifies referenced artifacts, stamps totals, and appends the
// RunSummary. Every run produces exactly one summary.
func (e *Engine) seal(ctx context.Context, task run.TaskSpec, summary *run.Summary, started time.Time) (*run.Summary, error) {
	if summary.Bundle != nil {
		if ref := summary.Bundle.PrimaryArtifact; ref != nil && !e.artifacts.Exists(ctx, ref.SHA256) {
			return nil, fmt.Errorf("seal run %s: primary artifact %s missing from store", summary.RunID, ref.SHA256)
		}
		for _, ref := range summary.Bundle.SupportingArtifacts {
			if !e.artifacts.Exists(ctx, ref.SHA256) {
				return nil, fmt.Errorf("seal run %s: artifact %s missing from store", summary.RunID, ref.SHA256)
			}
		}
	}
	summary.TotalLatencyMS = time.Since(started).Milliseconds()
	summary.SealedAt = time.Now().UTC()
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String(observability.AttrOutcome, string(summary.Outcome)))

	if err := e.events.AppendSummary(ctx, *summary); err != nil {
		return nil, fmt.Errorf("seal run %s: %w", summary.RunID, err)
	}
	if err := e.index.RecordSummary(ctx, *summary, task.TaskKind); err != nil {
		e.logger.Error("index summary %s: %v", summary.RunID, err)
	}
	e.logger.Info("run %s sealed: %s after %d attempts in %dms",
		summary.RunID, summary.Outcome, summary.AttemptsCount, summary.TotalLatencyMS)
	return summary, nil
}

func (e *Engine) successBundle(rctx run.Context, cand run.StrategyCandidate, result registry.ServiceResult, plan *run.Plan) *run.DeliveryBundle {
	bundle := &run.DeliveryBundle{
		RunID:    rctx.RunID,
		Headline: fmt.Sprintf("%s produced %s", cand.StrategyID, result.Summary),
	}
	if len(result.Artifacts) > 0 {
		primary := result.Artifacts[0]
		bundle.PrimaryArtifact = &primary
		bundle.SupportingArtifacts = result.Artifacts[1:]
		bundle.Headline = fmt.Sprintf("%s produced %s (%s)", cand.StrategyID, result.Summary, primary.URI)
	}
	if plan.Ambiguous {
		bundle.Assumptions = append(bundle.Assumptions, "top candidates scored within the ambiguity threshold; ran the deterministic first choice")
	}
	return bundle
}

func (e *Engine) failureBundle(rctx run.Context, outcome run.Outcome, lastErr error, advisory *run.ArtifactRef) *run.DeliveryBundle {
	bundle := &run.DeliveryBundle{
		RunID:        rctx.RunID,
		Headline:     "Run did not complete",
		RetryOptions: []run.RetryOption{run.RetryStrict, run.RetryAdaptive},
	}
	if lastErr != nil {
		bundle.WhyFailed = lastErr.Error()
	}
	switch outcome {
	case run.OutcomeDegraded:
		bundle.Headline = "Run completed partially (advisory output only)"
		bundle.PrimaryArtifact = advisory
	case run.OutcomeAborted:
		bundle.Headline = "Run aborted"
		bundle.RetryOptions = []run.RetryOption{run.RetryStrict}
	default:
		if errors.KindOf(lastErr) == run.ErrGovernanceBlock {
			bundle.RetryOptions = append(bundle.RetryOptions, run.RetryAllowHighRiskOnce)
		}
	}
	if len(bundle.RetryOptions) > 3 {
		bundle.RetryOptions = bundle.RetryOptions[:3]
	}
	return bundle
}
