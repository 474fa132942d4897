package diagnostics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentos/internal/config"
	"agentos/internal/domain/run"
	"agentos/internal/mcprt"
	"agentos/internal/registry"
)

type fakeIndex struct {
	recent    []run.Summary
	recentErr error
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
	return nil, nil
}

func (f *fakeIndex) Hotspots(ctx context.Context, q run.IndexQuery) ([]run.Hotspot, error) {
	return nil, nil
}

func (f *fakeIndex) RecentRuns(ctx context.Context, limit int) ([]run.Summary, error) {
	return f.recent, f.recentErr
}

var _ run.Index = (*fakeIndex)(nil)

func registerService(t *testing.T, r *registry.Registry, name string, mode registry.ExecutionMode, maturity run.Maturity) {
	t.Helper()
	desc := registry.ServiceDescriptor{
		Name:     name,
		Version:  "1.0.0",
		Layer:    "builtin",
		Mode:     mode,
		Maturity: maturity,
		Inputs:   []run.ParamSpec{{Name: "text", Required: true}},
		Outputs:  []string{"md"},
		Acceptance: []registry.Acceptance{
			{Name: "always", Check: func(result registry.ServiceResult) error { return nil }},
		},
		Handler: func(ctx context.Context, params map[string]string, rctx run.Context) (registry.ServiceResult, error) {
			return registry.ServiceResult{Summary: "ok"}, nil
		},
	}
	if mode == registry.ModeOperator {
		desc.SideEffects = []string{"filesystem-write"}
	}
	require.NoError(t, r.Register(desc))
}

func healthyConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.StateRoot = t.TempDir()
	return cfg
}

func TestRunHealthy(t *testing.T) {
	services := registry.New(true, nil)
	registerService(t, services, "svc/brief", registry.ModeAdvisor, run.MaturityStable)
	index := &fakeIndex{recent: []run.Summary{
		{RunID: "run-1", Outcome: run.OutcomeSucceeded},
		{RunID: "run-2", Outcome: run.OutcomeDegraded},
	}}

	c := NewChecker(healthyConfig(t), config.Metadata{Path: "/etc/agentos.toml"}, services, nil, index, nil)
	report := c.Run(context.Background())

	assert.Equal(t, SeverityOK, report.Worst())
	checks := map[string]bool{}
	for _, f := range report.Findings {
		checks[f.Check] = true
	}
	for _, want := range []string{"state_root", "config", "services", "runs"} {
		assert.True(t, checks[want], want)
	}
}

// Test findings come back ordered worst-first
func TestRunOrdersBySeverity(t *testing.T) {
	cfg := config.Default()
	cfg.StateRoot = "/nonexistent/agentos-state"
	cfg.Governance.SensitivePatterns = nil

	c := NewChecker(cfg, config.Metadata{}, nil, nil, nil, nil)
	report := c.Run(context.Background())

	assert.Equal(t, SeverityError, report.Worst())
	require.NotEmpty(t, report.Findings)
	assert.Equal(t, "state_root", report.Findings[0].Check)
	assert.Equal(t, SeverityError, report.Findings[0].Severity)
	for i := 1; i < len(report.Findings); i++ {
		assert.LessOrEqual(t,
			report.Findings[i-1].Severity.rank(), report.Findings[i].Severity.rank())
	}
}

func TestEmptyRegistryIsError(t *testing.T) {
	c := NewChecker(healthyConfig(t), config.Metadata{}, registry.New(true, nil), nil, nil, nil)
	report := c.Run(context.Background())

	var found bool
	for _, f := range report.Findings {
		if f.Check == "services" {
			found = true
			assert.Equal(t, SeverityError, f.Severity)
			assert.Contains(t, f.Message, "registry is empty")
		}
	}
	assert.True(t, found)
}

func TestExperimentalOperatorWarns(t *testing.T) {
	services := registry.New(true, nil)
	registerService(t, services, "svc/risky", registry.ModeOperator, run.MaturityExperimental)

	c := NewChecker(healthyConfig(t), config.Metadata{}, services, nil, nil, nil)
	report := c.Run(context.Background())

	assert.Equal(t, SeverityWarn, report.Worst())
	var warned bool
	for _, f := range report.Findings {
		if f.Severity == SeverityWarn && f.Check == "services" {
			warned = true
			assert.Contains(t, f.Message, "svc/risky")
		}
	}
	assert.True(t, warned)
}

func TestOpenBreakerWarns(t *testing.T) {
	breakers, err := mcprt.NewBreakerManager(config.BreakerConfig{
		FailureThreshold: 1,
		FailureWindow:    time.Minute,
		Cooldown:         time.Hour,
	}, nil, nil)
	require.NoError(t, err)
	breakers.Mark("mcp/fetch", fmt.Errorf("connection refused"))

	c := NewChecker(healthyConfig(t), config.Metadata{}, nil, breakers, nil, nil)
	report := c.Run(context.Background())

	assert.Equal(t, SeverityWarn, report.Worst())
	var warned bool
	for _, f := range report.Findings {
		if f.Check == "breakers" {
			warned = true
			assert.Contains(t, f.Message, "mcp/fetch")
		}
	}
	assert.True(t, warned)
}

func TestMostlyFailedRunsWarn(t *testing.T) {
	index := &fakeIndex{recent: []run.Summary{
		{RunID: "run-1", Outcome: run.OutcomeFailed},
		{RunID: "run-2", Outcome: run.OutcomeAborted},
		{RunID: "run-3", Outcome: run.OutcomeSucceeded},
		{RunID: "run-4", Outcome: run.OutcomeFailed},
	}}
	c := NewChecker(healthyConfig(t), config.Metadata{}, nil, nil, index, nil)
	report := c.Run(context.Background())

	var found bool
	for _, f := range report.Findings {
		if f.Check == "runs" {
			found = true
			assert.Equal(t, SeverityWarn, f.Severity)
			assert.Contains(t, f.Message, "3 failed or aborted")
			assert.NotEmpty(t, f.Hint)
		}
	}
	assert.True(t, found)

	broken := &fakeIndex{recentErr: fmt.Errorf("database disk image is malformed")}
	report = NewChecker(healthyConfig(t), config.Metadata{}, nil, nil, broken, nil).Run(context.Background())
	assert.Equal(t, SeverityError, report.Worst())
}
