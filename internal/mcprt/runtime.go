package mcprt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"agentos/internal/config"
	"agentos/internal/domain/run"
	"agentos/internal/observability"
	"agentos/internal/shared/errors"
	"agentos/internal/shared/logging"
)

// StepRecord is one tool invocation inside a chain, keyed run_id.step_id so
// replays can address individual steps.
type StepRecord struct {
	StepID    string            `json:"step_id"`
	Tool      string            `json:"tool"`
	Params    map[string]string `json:"params"`
	Status    string            `json:"status"` // succeeded | failed | skipped
	Error     string            `json:"error,omitempty"`
	LatencyMS int64             `json:"latency_ms"`
	Retries   int               `json:"retries"`
}

// RunRecord is the replayable trace of one chain execution, persisted as
// mcp/runs/<run_id>.json.
type RunRecord struct {
	RunID       string       `json:"run_id"`
	Intent      string       `json:"intent"`
	StartedAt   time.Time    `json:"started_at"`
	EndedAt     time.Time    `json:"ended_at"`
	Steps       []StepRecord `json:"steps"`
	Result      *ToolResult  `json:"result,omitempty"`
	BestPartial bool         `json:"best_partial,omitempty"`
}

// Runtime executes intents against the connector catalog: smart routing,
// bounded per-tool retries, fallback through the ranked list, breaker
// isolation, and a whole-chain deadline that returns the best partial
// result when time runs out.
type Runtime struct {
	retryCfg config.RetryConfig
	router   *Router
	registry *ToolRegistry
	breakers *BreakerManager
	runsDir  string
	logger   logging.Logger
	metrics  *observability.MetricsCollector
	tracer   *observability.TracerProvider
}

// SetObservability attaches the metric and trace sinks. Both tolerate nil.
func (rt *Runtime) SetObservability(metrics *observability.MetricsCollector, tracer *observability.TracerProvider) {
	rt.metrics = metrics
	rt.tracer = tracer
}

// NewRuntime wires the connector runtime. stateRoot hosts the replay records
// under mcp/runs.
func NewRuntime(retryCfg config.RetryConfig, router *Router, registry *ToolRegistry, breakers *BreakerManager, stateRoot string, logger logging.Logger) *Runtime {
	return &Runtime{
		retryCfg: retryCfg,
		router:   router,
		registry: registry,
		breakers: breakers,
		runsDir:  filepath.Join(stateRoot, "mcp", "runs"),
		logger:   logging.OrNop(logger),
	}
}

// InvokeOptions tunes one chain execution.
type InvokeOptions struct {
	MaxFallbacks int           // ranked tools to try after the first, default 2
	ChainTimeout time.Duration // whole-chain deadline, 0 = inherit ctx
	DryRun       bool          // rank and record, call nothing
}

// Invoke routes the intent and walks the ranked tools until one succeeds,
// the fallback budget is spent, or the chain deadline fires. Each admitted
// tool gets the bounded retry chain; every outcome feeds its breaker and the
// reliability stats.
func (rt *Runtime) Invoke(ctx context.Context, runID, intent string, params map[string]string, opts InvokeOptions) (ToolResult, error) {
	if opts.MaxFallbacks <= 0 {
		opts.MaxFallbacks = 2
	}
	if opts.ChainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ChainTimeout)
		defer cancel()
	}

	ctx, span := rt.tracer.StartSpan(ctx, observability.SpanToolInvoke,
		attribute.String(observability.AttrRunID, runID))
	defer span.End()

	record := RunRecord{RunID: runID, Intent: intent, StartedAt: time.Now().UTC()}
	defer func() {
		record.EndedAt = time.Now().UTC()
		if err := rt.saveRecord(record); err != nil {
			rt.logger.Error("save run record %s: %v", runID, err)
		}
	}()

	ranked := rt.router.Rank(intent, params)
	if len(ranked) == 0 {
		return ToolResult{}, errors.Newf(run.ErrServiceUnavailable, "no tool matches intent %q", intent)
	}

	if opts.DryRun {
		for i, rc := range ranked {
			record.Steps = append(record.Steps, StepRecord{
				StepID: fmt.Sprintf("%s.%d", runID, i+1),
				Tool:   rc.Tool.Name,
				Params: params,
				Status: "skipped",
			})
		}
		return ToolResult{}, nil
	}

	var bestPartial *ToolResult
	var lastErr error
	tried := 0

	for i, rc := range ranked {
		if tried > opts.MaxFallbacks {
			break
		}
		stepID := fmt.Sprintf("%s.%d", runID, i+1)

		if err := ctx.Err(); err != nil {
			lastErr = errors.Timeout(fmt.Errorf("chain deadline before %s: %w", rc.Tool.Name, err))
			break
		}
		if err := rt.breakers.Allow(rc.Tool.Name); err != nil {
			rt.logger.Debug("skipping %s: %v", rc.Tool.Name, err)
			record.Steps = append(record.Steps, StepRecord{
				StepID: stepID, Tool: rc.Tool.Name, Params: params,
				Status: "skipped", Error: err.Error(),
			})
			continue
		}
		tried++

		started := time.Now()
		retries := 0
		result, err := errors.RetryWithResult(ctx, toRetryConfig(rt.retryCfg), rt.logger, func(ctx context.Context) (ToolResult, error) {
			res, callErr := rc.Tool.Call(ctx, params)
			if callErr != nil {
				retries++
				if ctx.Err() == context.DeadlineExceeded {
					return res, errors.Timeout(callErr)
				}
			}
			return res, callErr
		})
		latency := time.Since(started)
		if err != nil && retries > 0 {
			// the first failing call is not a retry
			retries--
		}

		rt.breakers.Mark(rc.Tool.Name, err)
		rt.registry.Record(rc.Tool.Name, err == nil, latency)
		rt.metrics.RecordToolCall(ctx, rc.Tool.Name, err == nil, latency)

		step := StepRecord{
			StepID: stepID, Tool: rc.Tool.Name, Params: params,
			LatencyMS: latency.Milliseconds(), Retries: retries,
		}
		if err == nil {
			step.Status = "succeeded"
			record.Steps = append(record.Steps, step)
			record.Result = &result
			return result, nil
		}
		step.Status = "failed"
		step.Error = err.Error()
		record.Steps = append(record.Steps, step)
		lastErr = err
		if result.Partial && bestPartial == nil {
			partial := result
			bestPartial = &partial
		}
		rt.logger.Warn("tool %s failed for intent %q: %v", rc.Tool.Name, intent, err)
	}

	if bestPartial != nil {
		record.Result = bestPartial
		record.BestPartial = true
		return *bestPartial, errors.Wrap(run.ErrServiceUnavailable, fmt.Errorf("chain exhausted, returning best partial: %w", lastErr))
	}
	if lastErr == nil {
		lastErr = errors.Newf(run.ErrServiceUnavailable, "every candidate for intent %q was circuit-broken", intent)
	}
	return ToolResult{}, lastErr
}

func toRetryConfig(cfg config.RetryConfig) errors.RetryConfig {
	return errors.RetryConfig{
		MaxRetries:   cfg.MaxRetries,
		BaseDelay:    cfg.BaseDelay,
		MaxDelay:     cfg.MaxDelay,
		JitterFactor: cfg.JitterFactor,
	}
}

func (rt *Runtime) saveRecord(record RunRecord) error {
	if err := os.MkdirAll(rt.runsDir, 0o755); err != nil {
		return fmt.Errorf("ensure runs dir: %w", err)
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	path := filepath.Join(rt.runsDir, record.RunID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}
	return nil
}

// Record loads a persisted chain record.
func (rt *Runtime) Record(runID string) (*RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(rt.runsDir, runID+".json"))
	if err != nil {
		return nil, fmt.Errorf("read run record %s: %w", runID, err)
	}
	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse run record %s: %w", runID, err)
	}
	return &record, nil
}

// Replay re-executes a recorded chain step by step against the current
// catalog. With dryRun the plan is printed into the new record but nothing
// is called.
func (rt *Runtime) Replay(ctx context.Context, runID, newRunID string, dryRun bool) (*RunRecord, error) {
	original, err := rt.Record(runID)
	if err != nil {
		return nil, err
	}

	replay := RunRecord{RunID: newRunID, Intent: original.Intent, StartedAt: time.Now().UTC()}
	for i, step := range original.Steps {
		if step.Status == "skipped" {
			continue
		}
		stepID := fmt.Sprintf("%s.%d", newRunID, i+1)
		if dryRun {
			replay.Steps = append(replay.Steps, StepRecord{
				StepID: stepID, Tool: step.Tool, Params: step.Params, Status: "skipped",
			})
			continue
		}
		tool, ok := rt.registry.Get(step.Tool)
		if !ok {
			replay.Steps = append(replay.Steps, StepRecord{
				StepID: stepID, Tool: step.Tool, Params: step.Params,
				Status: "failed", Error: "tool no longer registered",
			})
			continue
		}
		started := time.Now()
		result, callErr := tool.Call(ctx, step.Params)
		rec := StepRecord{
			StepID: stepID, Tool: step.Tool, Params: step.Params,
			LatencyMS: time.Since(started).Milliseconds(),
		}
		if callErr != nil {
			rec.Status = "failed"
			rec.Error = callErr.Error()
		} else {
			rec.Status = "succeeded"
			replay.Result = &result
		}
		replay.Steps = append(replay.Steps, rec)
	}
	replay.EndedAt = time.Now().UTC()
	if err := rt.saveRecord(replay); err != nil {
		return nil, err
	}
	return &replay, nil
}
