// Package diagnostics walks the runtime surface and reports findings:
// environment, configuration, service registry, breaker states, recent runs.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"agentos/internal/config"
	"agentos/internal/domain/run"
	"agentos/internal/mcprt"
	"agentos/internal/registry"
	"agentos/internal/shared/logging"
)

// Severity ranks findings. Error outranks warn outranks info outranks ok.
type Severity string

const (
	SeverityOK    Severity = "ok"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarn:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Finding is one diagnostic observation.
type Finding struct {
	Check    string   `json:"check"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Hint     string   `json:"hint,omitempty"`
}

// Report is the ordered finding set for one diagnose pass.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Findings    []Finding `json:"findings"`
}

// Worst returns the highest severity present.
func (r *Report) Worst() Severity {
	worst := SeverityOK
	for _, f := range r.Findings {
		if f.Severity.rank() < worst.rank() {
			worst = f.Severity
		}
	}
	return worst
}

// Checker runs the diagnose walk.
type Checker struct {
	cfg      config.Config
	meta     config.Metadata
	services *registry.Registry
	breakers *mcprt.BreakerManager
	index    run.Index
	logger   logging.Logger
	now      func() time.Time
}

// NewChecker wires the checker. Nil collaborators skip their checks.
func NewChecker(cfg config.Config, meta config.Metadata, services *registry.Registry, breakers *mcprt.BreakerManager, index run.Index, logger logging.Logger) *Checker {
	return &Checker{
		cfg:      cfg,
		meta:     meta,
		services: services,
		breakers: breakers,
		index:    index,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// Run executes every check and returns findings ordered by severity.
func (c *Checker) Run(ctx context.Context) *Report {
	report := &Report{GeneratedAt: c.now().UTC()}
	report.Findings = append(report.Findings, c.checkStateRoot()...)
	report.Findings = append(report.Findings, c.checkConfig()...)
	report.Findings = append(report.Findings, c.checkServices()...)
	report.Findings = append(report.Findings, c.checkBreakers()...)
	report.Findings = append(report.Findings, c.checkRecentRuns(ctx)...)

	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].Severity.rank() < report.Findings[j].Severity.rank()
	})
	return report
}

func (c *Checker) checkStateRoot() []Finding {
	info, err := os.Stat(c.cfg.StateRoot)
	if err != nil {
		return []Finding{{
			Check:    "state_root",
			Severity: SeverityError,
			Message:  fmt.Sprintf("state root %s is not accessible: %v", c.cfg.StateRoot, err),
			Hint:     "run any submit once to initialize, or fix state_root in the config file",
		}}
	}
	if !info.IsDir() {
		return []Finding{{
			Check:    "state_root",
			Severity: SeverityError,
			Message:  fmt.Sprintf("state root %s is not a directory", c.cfg.StateRoot),
		}}
	}
	return []Finding{{
		Check:    "state_root",
		Severity: SeverityOK,
		Message:  fmt.Sprintf("state root %s", c.cfg.StateRoot),
	}}
}

func (c *Checker) checkConfig() []Finding {
	var findings []Finding
	if c.meta.Path == "" {
		findings = append(findings, Finding{
			Check:    "config",
			Severity: SeverityInfo,
			Message:  "no config file found, running on built-in defaults",
		})
	} else {
		findings = append(findings, Finding{
			Check:    "config",
			Severity: SeverityOK,
			Message:  fmt.Sprintf("config loaded from %s", c.meta.Path),
		})
	}
	if _, ok := c.cfg.Profiles[c.cfg.DefaultProfile]; !ok && c.cfg.DefaultProfile != "auto" {
		findings = append(findings, Finding{
			Check:    "config",
			Severity: SeverityError,
			Message:  fmt.Sprintf("default profile %q is not configured", c.cfg.DefaultProfile),
		})
	}
	if len(c.cfg.Governance.SensitivePatterns) == 0 {
		findings = append(findings, Finding{
			Check:    "config",
			Severity: SeverityWarn,
			Message:  "no sensitive-data patterns configured, parameter scanning is off",
		})
	}
	return findings
}

func (c *Checker) checkServices() []Finding {
	if c.services == nil {
		return nil
	}
	services := c.services.List()
	if len(services) == 0 {
		return []Finding{{
			Check:    "services",
			Severity: SeverityError,
			Message:  "service registry is empty",
			Hint:     "builtin services should register at startup",
		}}
	}
	findings := []Finding{{
		Check:    "services",
		Severity: SeverityOK,
		Message:  fmt.Sprintf("%d services registered", len(services)),
	}}
	for _, svc := range services {
		if svc.Maturity == run.MaturityExperimental && svc.Mode == registry.ModeOperator {
			findings = append(findings, Finding{
				Check:    "services",
				Severity: SeverityWarn,
				Message:  fmt.Sprintf("experimental operator service %s is registered", svc.Name),
				Hint:     "strict profile blocks it; adaptive will run it with side effects",
			})
		}
	}
	return findings
}

func (c *Checker) checkBreakers() []Finding {
	if c.breakers == nil {
		return nil
	}
	snapshot := c.breakers.Snapshot()
	var findings []Finding
	open := 0
	for tool, state := range snapshot {
		switch state.State {
		case "open":
			open++
			findings = append(findings, Finding{
				Check:    "breakers",
				Severity: SeverityWarn,
				Message:  fmt.Sprintf("breaker for %s is open (%d failures, opened %s)", tool, state.Failures, state.OpenedAt.Format(time.RFC3339)),
				Hint:     "the tool is skipped until cooldown elapses; services reset-breaker clears it",
			})
		case "half_open":
			findings = append(findings, Finding{
				Check:    "breakers",
				Severity: SeverityInfo,
				Message:  fmt.Sprintf("breaker for %s is half-open, next call probes it", tool),
			})
		}
	}
	if open == 0 {
		findings = append(findings, Finding{
			Check:    "breakers",
			Severity: SeverityOK,
			Message:  fmt.Sprintf("%d tools tracked, no open breakers", len(snapshot)),
		})
	}
	return findings
}

func (c *Checker) checkRecentRuns(ctx context.Context) []Finding {
	if c.index == nil {
		return nil
	}
	summaries, err := c.index.RecentRuns(ctx, 10)
	if err != nil {
		return []Finding{{
			Check:    "runs",
			Severity: SeverityError,
			Message:  fmt.Sprintf("read recent runs: %v", err),
			Hint:     "the index may be corrupt; restore from the latest backup",
		}}
	}
	if len(summaries) == 0 {
		return []Finding{{
			Check:    "runs",
			Severity: SeverityInfo,
			Message:  "no runs recorded yet",
		}}
	}
	failed := 0
	for _, s := range summaries {
		if s.Outcome == run.OutcomeFailed || s.Outcome == run.OutcomeAborted {
			failed++
		}
	}
	sev := SeverityOK
	hint := ""
	if failed*2 >= len(summaries) {
		sev = SeverityWarn
		hint = "observe --top-failures shows where the failures cluster"
	}
	return []Finding{{
		Check:    "runs",
		Severity: sev,
		Message:  fmt.Sprintf("last %d runs: %d failed or aborted", len(summaries), failed),
		Hint:     hint,
	}}
}
