// Package run defines the domain types for the agent kernel: task specs,
// run contexts, strategy candidates, execution plans, attempts, and the
// evidence records sealed at the end of a run. Stores are ports declared in
// store.go; the concrete implementation lives in internal/store.
package run

import "time"

// TaskKind classifies a user request.
type TaskKind string

const (
	KindPresentation TaskKind = "presentation"
	KindResearch     TaskKind = "research"
	KindDataQuery    TaskKind = "data-query"
	KindImage        TaskKind = "image"
	KindAutomation   TaskKind = "automation"
	KindOther        TaskKind = "other"
)

// Origin records where a task entered the system.
type Origin string

const (
	OriginCLI       Origin = "cli"
	OriginStudio    Origin = "studio"
	OriginScheduler Origin = "scheduler"
)

// Profile is a named governance preset.
type Profile string

const (
	ProfileStrict   Profile = "strict"
	ProfileAdaptive Profile = "adaptive"
	ProfileAuto     Profile = "auto"
)

// RiskLevel zones a strategy by blast radius.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank orders risk levels so gates can compare them. Unknown levels rank
// above high so a typo never slips through a cap.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 99
	}
}

// Maturity is the lifecycle tier of a capability.
type Maturity string

const (
	MaturityExperimental Maturity = "experimental"
	MaturityBeta         Maturity = "beta"
	MaturityStable       Maturity = "stable"
)

// Rank orders maturity tiers, stable highest.
func (m Maturity) Rank() int {
	switch m {
	case MaturityExperimental:
		return 1
	case MaturityBeta:
		return 2
	case MaturityStable:
		return 3
	default:
		return 0
	}
}

// ErrorKind is the stable classification of attempt failures. The set is
// exhaustive and must not change meaning across releases.
type ErrorKind string

const (
	ErrNone               ErrorKind = ""
	ErrMissingInput       ErrorKind = "missing_input"
	ErrGovernanceBlock    ErrorKind = "governance_block"
	ErrApprovalRequired   ErrorKind = "approval_required"
	ErrPolicyViolation    ErrorKind = "policy_violation"
	ErrServiceUnavailable ErrorKind = "service_unavailable"
	ErrToolTimeout        ErrorKind = "tool_timeout"
	ErrContractViolation  ErrorKind = "contract_violation"
	ErrBackpressure       ErrorKind = "backpressure"
	ErrInternal           ErrorKind = "internal_error"
)

// Fatal reports whether the kind aborts the whole run instead of advancing
// the fallback pointer.
func (k ErrorKind) Fatal() bool { return k == ErrPolicyViolation }

// Retryable reports whether attempts failing with this kind may be retried
// in place before falling back.
func (k ErrorKind) Retryable() bool {
	return k == ErrServiceUnavailable || k == ErrToolTimeout
}

// TaskSpec is the immutable description of a user request. Created on
// ingress, never mutated.
type TaskSpec struct {
	TaskID         string            `json:"task_id"`
	Text           string            `json:"text"`
	TaskKind       TaskKind          `json:"task_kind"`
	Language       string            `json:"language,omitempty"` // "zh" | "en"
	EnteredAt      time.Time         `json:"entered_at"`
	Origin         Origin            `json:"origin"`
	ExplicitParams map[string]string `json:"explicit_params,omitempty"`
}

// Context is the profile-bound execution envelope for one run. Immutable
// after creation.
type Context struct {
	RunID             string     `json:"run_id"`
	TaskID            string     `json:"task_id"`
	Profile           Profile    `json:"profile"`
	AllowedLayers     []string   `json:"allowed_layers,omitempty"`
	BlockedMaturity   []Maturity `json:"blocked_maturity,omitempty"`
	MaxRiskLevel      RiskLevel  `json:"max_risk_level"`
	AllowedStrategies []string   `json:"allowed_strategies,omitempty"`
	BlockedStrategies []string   `json:"blocked_strategies,omitempty"`
	DemotedStrategies []string   `json:"demoted_strategies,omitempty"`
	Deterministic     bool       `json:"deterministic"`
	LearningEnabled   bool       `json:"learning_enabled"`
	MaxFallbackSteps  int        `json:"max_fallback_steps"`
	TraceID           string     `json:"trace_id"`
}

// LayerAllowed reports whether a capability layer may run under this context.
// An empty allow list admits every layer.
func (c Context) LayerAllowed(layer string) bool {
	if len(c.AllowedLayers) == 0 {
		return true
	}
	for _, l := range c.AllowedLayers {
		if l == "*" || l == layer {
			return true
		}
	}
	return false
}

// MaturityBlocked reports whether a maturity tier is excluded by the context.
func (c Context) MaturityBlocked(m Maturity) bool {
	for _, b := range c.BlockedMaturity {
		if b == m {
			return true
		}
	}
	return false
}

// StrategyDemoted reports whether a strategy was demoted to last resort by a
// policy override. Demoted strategies stay in the plan but rank after every
// non-demoted candidate.
func (c Context) StrategyDemoted(strategyID string) bool {
	for _, demoted := range c.DemotedStrategies {
		if demoted == strategyID {
			return true
		}
	}
	return false
}

// StrategyAllowed applies the allow/block strategy lists. The block list
// wins; an empty allow list admits everything else.
func (c Context) StrategyAllowed(strategyID string) bool {
	for _, blocked := range c.BlockedStrategies {
		if blocked == strategyID {
			return false
		}
	}
	if len(c.AllowedStrategies) == 0 {
		return true
	}
	for _, allowed := range c.AllowedStrategies {
		if allowed == strategyID {
			return true
		}
	}
	return false
}

// ParamSpec declares one named input of a strategy's service binding.
type ParamSpec struct {
	Name      string   `json:"name"`
	Required  bool     `json:"required"`
	Default   string   `json:"default,omitempty"`
	Domain    []string `json:"domain,omitempty"` // allowed values; empty = free-form
	HighValue bool     `json:"high_value,omitempty"`
	Question  string   `json:"question,omitempty"` // clarification prompt when missing
}

// ServiceBinding names the logical service a strategy delegates to.
type ServiceBinding struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// StrategyCandidate is one way to satisfy a task.
type StrategyCandidate struct {
	StrategyID     string         `json:"strategy_id"`
	Binding        ServiceBinding `json:"service_binding"`
	BaseScore      float64        `json:"base_score"`
	MemoryScore    float64        `json:"memory_score"`
	CompositeScore float64        `json:"composite_score"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	Maturity       Maturity       `json:"maturity"`
	RequiredLayer  string         `json:"required_layer"`
	RequiredInputs []ParamSpec    `json:"required_inputs,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

// Plan is the ordered candidate sequence produced by the ranker for one run.
type Plan struct {
	RunID      string              `json:"run_id"`
	Candidates []StrategyCandidate `json:"candidates"`
	Ambiguous  bool                `json:"ambiguous,omitempty"`
	TopGap     float64             `json:"top_gap"`
	CreatedAt  time.Time           `json:"created_at"`
}

// AttemptStatus is the lifecycle outcome of one candidate invocation.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptSkipped   AttemptStatus = "skipped"
	AttemptAborted   AttemptStatus = "aborted"
)

// AttemptTelemetry captures per-attempt counters.
type AttemptTelemetry struct {
	LatencyMS     int64 `json:"latency_ms"`
	Retries       int   `json:"retries"`
	FallbacksUsed int   `json:"fallbacks_used"`
}

// LoopClosure is the structured plan/execute/verify/improve record appended
// with every attempt for post-hoc analysis.
type LoopClosure struct {
	Plan    string `json:"plan"`
	Execute string `json:"execute"`
	Verify  string `json:"verify"`
	Improve string `json:"improve,omitempty"`
}

// ArtifactRef is an immutable reference into the content-addressed store.
type ArtifactRef struct {
	URI        string `json:"uri"`
	Kind       string `json:"kind"` // json | md | html | binary
	SHA256     string `json:"sha256"`
	SizeBytes  int64  `json:"size_bytes"`
	ProducedBy string `json:"produced_by"`
	Advisory   bool   `json:"advisory,omitempty"`
}

// Attempt records one candidate's invocation within a run.
type Attempt struct {
	AttemptID    string           `json:"attempt_id"`
	RunID        string           `json:"run_id"`
	StrategyID   string           `json:"strategy_id"`
	Seq          int              `json:"seq"`
	StartedAt    time.Time        `json:"started_at"`
	EndedAt      time.Time        `json:"ended_at"`
	Status       AttemptStatus    `json:"status"`
	ErrorKind    ErrorKind        `json:"error_kind,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Artifacts    []ArtifactRef    `json:"artifacts,omitempty"`
	Telemetry    AttemptTelemetry `json:"telemetry"`
	Closure      LoopClosure      `json:"closure"`
}

// Outcome is the terminal classification of a run.
type Outcome string

const (
	OutcomeSucceeded     Outcome = "succeeded"
	OutcomeDegraded      Outcome = "degraded"
	OutcomeFailed        Outcome = "failed"
	OutcomeAborted       Outcome = "aborted"
	OutcomeClarification Outcome = "clarification_needed"
)

// RetryOption labels a preset the operator can pick after a non-success run.
type RetryOption string

const (
	RetryStrict            RetryOption = "strict"
	RetryAdaptive          RetryOption = "adaptive"
	RetryAllowHighRiskOnce RetryOption = "allow_high_risk_once"
)

// DeliveryBundle is the user-facing payload sealed with a RunSummary.
type DeliveryBundle struct {
	RunID                  string        `json:"run_id"`
	Headline               string        `json:"headline"`
	WhyFailed              string        `json:"why_failed,omitempty"`
	ClarificationQuestions []string      `json:"clarification_questions,omitempty"` // at most 2
	Assumptions            []string      `json:"assumptions,omitempty"`
	PrimaryArtifact        *ArtifactRef  `json:"primary_artifact,omitempty"`
	SupportingArtifacts    []ArtifactRef `json:"supporting_artifacts,omitempty"`
	RetryOptions           []RetryOption `json:"retry_options,omitempty"` // at most 3
}

// Summary is the final terminal record of a run.
type Summary struct {
	RunID          string          `json:"run_id"`
	TaskID         string          `json:"task_id"`
	Outcome        Outcome         `json:"outcome"`
	ChosenStrategy string          `json:"chosen_strategy,omitempty"`
	AttemptsCount  int             `json:"attempts_count"`
	TotalLatencyMS int64           `json:"total_latency_ms"`
	Bundle         *DeliveryBundle `json:"delivery_bundle,omitempty"`
	SealedAt       time.Time       `json:"sealed_at"`
}

// FeedbackRecord is an operator rating for a completed run.
type FeedbackRecord struct {
	RunID       string    `json:"run_id"`
	Rating      int       `json:"rating"` // +1 | -1
	Note        string    `json:"note,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	Processed   bool      `json:"processed"`
}

// Recommendation classifies a strategy's periodic evaluation.
type Recommendation string

const (
	RecommendPromote  Recommendation = "promote"
	RecommendDemote   Recommendation = "demote"
	RecommendMoreData Recommendation = "collect-more-data"
)

// EvaluationRecord is a strategy-level aggregate over one window.
type EvaluationRecord struct {
	StrategyID     string         `json:"strategy_id"`
	TaskKind       TaskKind       `json:"task_kind,omitempty"`
	WindowStart    time.Time      `json:"window_start"`
	WindowEnd      time.Time      `json:"window_end"`
	Samples        int            `json:"samples"`
	SuccessRate    float64        `json:"success_rate"`
	P95LatencyMS   int64          `json:"p95_latency_ms"`
	FallbackRate   float64        `json:"fallback_rate"`
	HealthScore    float64        `json:"health_score"`
	Recommendation Recommendation `json:"recommendation"`
}

// OverrideScope names what a policy override applies to.
type OverrideScope string

const (
	ScopeProfile  OverrideScope = "profile"
	ScopeStrategy OverrideScope = "strategy"
	ScopeTaskKind OverrideScope = "task_kind"
)

// PolicyOverride is one tuned setting in the reversible override log.
type PolicyOverride struct {
	Scope      OverrideScope `json:"scope"`
	Key        string        `json:"key"`
	Value      string        `json:"value"`
	SnapshotID string        `json:"snapshot_id,omitempty"`
	AppliedAt  time.Time     `json:"applied_at,omitempty"`
	ApprovedBy string        `json:"approved_by,omitempty"`
}

// Snapshot is an immutable, addressable point in the override log. Each
// snapshot carries the full active override set so rollback is a pure append.
type Snapshot struct {
	SnapshotID string           `json:"snapshot_id"`
	AppliedAt  time.Time        `json:"applied_at"`
	ApprovedBy string           `json:"approved_by,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Active     []PolicyOverride `json:"active"`
}

// TelemetryEvent is the unified event emitted for every significant action.
type TelemetryEvent struct {
	TS        time.Time `json:"ts"`
	Module    string    `json:"module"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	TraceID   string    `json:"trace_id,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	LatencyMS int64     `json:"latency_ms,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
}
