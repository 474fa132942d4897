// Package governance enforces the runtime's safety gates: layer and maturity
// filters, the risk cap, operator approval for publishing side effects, and
// the sensitive-data scan over outgoing parameters.
package governance

import (
	"fmt"
	"regexp"

	"agentos/internal/config"
	"agentos/internal/domain/run"
	"agentos/internal/shared/errors"
	"agentos/internal/shared/logging"
)

// Gatekeeper evaluates governance rules for one process. Construct once and
// share; it is immutable after creation.
type Gatekeeper struct {
	cfg       config.GovernanceConfig
	approvals *ApprovalFile
	sensitive []*regexp.Regexp
	logger    logging.Logger
}

// NewGatekeeper compiles the sensitive-pattern set and binds the approval
// file. Invalid patterns fail construction; a gate that silently drops a
// pattern is worse than one that refuses to start.
func NewGatekeeper(cfg config.GovernanceConfig, stateRoot string, logger logging.Logger) (*Gatekeeper, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.SensitivePatterns))
	for _, p := range cfg.SensitivePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile sensitive pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &Gatekeeper{
		cfg:       cfg,
		approvals: NewApprovalFile(stateRoot, cfg.ApprovalFile),
		sensitive: patterns,
		logger:    logging.OrNop(logger),
	}, nil
}

// CheckCandidate re-evaluates the execution-time gates for one candidate.
// The ranker filters once at plan time, but context can change between plan
// and attempt, so the engine calls this again immediately before invocation.
// A non-nil error carries governance_block or approval_required and means
// the attempt is recorded as skipped.
func (g *Gatekeeper) CheckCandidate(rctx run.Context, cand run.StrategyCandidate, sideEffects []string) error {
	if !rctx.LayerAllowed(cand.RequiredLayer) {
		return errors.Newf(run.ErrGovernanceBlock, "layer %q is not allowed under profile %s", cand.RequiredLayer, rctx.Profile)
	}
	if rctx.MaturityBlocked(cand.Maturity) {
		return errors.Newf(run.ErrGovernanceBlock, "maturity %q is blocked under profile %s", cand.Maturity, rctx.Profile)
	}
	if cand.RiskLevel.Rank() > rctx.MaxRiskLevel.Rank() {
		return errors.Newf(run.ErrGovernanceBlock, "risk %q exceeds profile cap %q", cand.RiskLevel, rctx.MaxRiskLevel)
	}
	for _, effect := range sideEffects {
		if effect != "publish" {
			continue
		}
		if err := g.approvals.Validate(); err != nil {
			g.logger.Warn("publish blocked for %s: %v", cand.StrategyID, err)
			return errors.Newf(run.ErrApprovalRequired, "strategy %s publishes externally and requires operator approval: %v", cand.StrategyID, err)
		}
	}
	return nil
}

// ScanParams checks outgoing parameters against the sensitive-pattern set.
// A hit is a policy_violation: the run aborts rather than falling back, so
// leaked material never reaches a lower-ranked connector either.
func (g *Gatekeeper) ScanParams(params map[string]string) error {
	for key, value := range params {
		for _, re := range g.sensitive {
			if re.MatchString(value) {
				return errors.Newf(run.ErrPolicyViolation, "parameter %q matches a sensitive-data pattern", key)
			}
		}
	}
	return nil
}
