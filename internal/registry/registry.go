// Package registry provides uniform invocation of leaf capability services.
// Every service is a data record (ServiceDescriptor) whose behavior is an
// injected handler function; the registry lints the contract at registration
// and wraps every call with gate evaluation and acceptance checks.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agentos/internal/domain/run"
	"agentos/internal/shared/errors"
	"agentos/internal/shared/logging"
)

// ExecutionMode separates read-only services from ones that mutate external
// state.
type ExecutionMode string

const (
	ModeAdvisor  ExecutionMode = "advisor"
	ModeOperator ExecutionMode = "operator"
)

// GateVerdict is the outcome of one decision gate.
type GateVerdict string

const (
	GateTrigger  GateVerdict = "trigger"
	GateReject   GateVerdict = "reject"
	GateEscalate GateVerdict = "escalate"
)

// DecisionGate is a pure predicate over bound inputs. Reject means the
// service is not eligible for this call; the attempt records as skipped.
type DecisionGate struct {
	Name     string
	Evaluate func(params map[string]string) GateVerdict
}

// ServiceResult is what a capability returns on success.
type ServiceResult struct {
	Artifacts []run.ArtifactRef
	Summary   string
	Partial   bool // advisory partial; lets the run end degraded instead of failed
}

// Acceptance is a machine-checkable post-condition over the result.
type Acceptance struct {
	Name  string
	Check func(result ServiceResult) error
}

// Handler is the injected behavior of a service.
type Handler func(ctx context.Context, params map[string]string, rctx run.Context) (ServiceResult, error)

// ServiceDescriptor is the registered capability contract plus its handler.
type ServiceDescriptor struct {
	Name          string
	Version       string
	Layer         string // builtin | mcp | pack name
	Mode          ExecutionMode
	Maturity      run.Maturity
	RiskLevel     run.RiskLevel
	SideEffects   []string
	Inputs        []run.ParamSpec
	DecisionGates []DecisionGate
	Fallback      string // next-best service name, empty = none
	Outputs       []string
	Acceptance    []Acceptance
	AvgCost       float64 // relative cost hint for routing
	Handler       Handler
}

// LintError reports a contract defect found at registration.
type LintError struct {
	Service string
	Field   string
	Reason  string
}

func (e *LintError) Error() string {
	return fmt.Sprintf("service %s: contract field %s: %s", e.Service, e.Field, e.Reason)
}

// lint validates the capability contract. Every registered service must
// declare inputs, a mode, at least one output kind, and at least one
// acceptance check; operator-mode services must name their side effects.
func lint(desc ServiceDescriptor) error {
	if desc.Name == "" {
		return &LintError{Service: "(unnamed)", Field: "name", Reason: "required"}
	}
	if desc.Handler == nil {
		return &LintError{Service: desc.Name, Field: "handler", Reason: "required"}
	}
	if desc.Mode != ModeAdvisor && desc.Mode != ModeOperator {
		return &LintError{Service: desc.Name, Field: "execution_mode", Reason: "must be advisor or operator"}
	}
	if desc.Mode == ModeOperator && len(desc.SideEffects) == 0 {
		return &LintError{Service: desc.Name, Field: "side_effects", Reason: "operator-mode services must declare side effects"}
	}
	if len(desc.Outputs) == 0 {
		return &LintError{Service: desc.Name, Field: "outputs", Reason: "at least one artifact kind required"}
	}
	if len(desc.Acceptance) == 0 {
		return &LintError{Service: desc.Name, Field: "acceptance", Reason: "at least one post-condition required"}
	}
	for _, input := range desc.Inputs {
		if input.Name == "" {
			return &LintError{Service: desc.Name, Field: "inputs", Reason: "input with empty name"}
		}
	}
	for _, gate := range desc.DecisionGates {
		if gate.Evaluate == nil {
			return &LintError{Service: desc.Name, Field: "decision_gates", Reason: fmt.Sprintf("gate %s has no predicate", gate.Name)}
		}
	}
	return nil
}

// Registry maps service names to descriptors with a uniform call surface.
type Registry struct {
	mu       sync.RWMutex
	services map[string]ServiceDescriptor
	strict   bool
	logger   logging.Logger
}

// New creates an empty registry. In strict mode any lint failure is fatal to
// the caller; otherwise the defective service is rejected and registration of
// others continues.
func New(strict bool, logger logging.Logger) *Registry {
	return &Registry{
		services: map[string]ServiceDescriptor{},
		strict:   strict,
		logger:   logging.OrNop(logger),
	}
}

// Register lints and installs a service descriptor.
func (r *Registry) Register(desc ServiceDescriptor) error {
	if err := lint(desc); err != nil {
		if r.strict {
			return err
		}
		r.logger.Warn("rejecting service: %v", err)
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[desc.Name]; exists {
		return fmt.Errorf("service %s: already registered", desc.Name)
	}
	r.services[desc.Name] = desc
	r.logger.Debug("registered service %s (layer=%s mode=%s)", desc.Name, desc.Layer, desc.Mode)
	return nil
}

// Get returns a descriptor by name.
func (r *Registry) Get(name string) (ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.services[name]
	return desc, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceDescriptor, 0, len(r.services))
	for _, desc := range r.services {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BindParams merges explicit parameters over declared defaults and validates
// required inputs and value domains. A missing required input is
// missing_input; the caller decides whether that means clarification or skip.
func BindParams(desc ServiceDescriptor, explicit map[string]string) (map[string]string, error) {
	bound := map[string]string{}
	for _, input := range desc.Inputs {
		value, ok := explicit[input.Name]
		if !ok || value == "" {
			if input.Default != "" {
				bound[input.Name] = input.Default
				continue
			}
			if input.Required {
				return nil, errors.Newf(run.ErrMissingInput, "service %s: required input %q is missing", desc.Name, input.Name)
			}
			continue
		}
		if len(input.Domain) > 0 {
			valid := false
			for _, allowed := range input.Domain {
				if value == allowed {
					valid = true
					break
				}
			}
			if !valid {
				return nil, errors.Newf(run.ErrMissingInput, "service %s: input %q value %q outside allowed domain", desc.Name, input.Name, value)
			}
		}
		bound[input.Name] = value
	}
	// pass through extras the contract does not declare
	for k, v := range explicit {
		if _, declared := bound[k]; !declared {
			bound[k] = v
		}
	}
	return bound, nil
}

// Call invokes a service through its full contract: bind inputs, evaluate
// decision gates, run the handler, check acceptance. Gate rejection returns
// governance_block (eligibility, recorded as skipped); a failed acceptance
// check returns contract_violation (not retried, falls back).
func (r *Registry) Call(ctx context.Context, name string, params map[string]string, rctx run.Context) (ServiceResult, error) {
	desc, ok := r.Get(name)
	if !ok {
		return ServiceResult{}, errors.Newf(run.ErrServiceUnavailable, "service %s: not registered", name)
	}

	bound, err := BindParams(desc, params)
	if err != nil {
		return ServiceResult{}, err
	}

	for _, gate := range desc.DecisionGates {
		switch gate.Evaluate(bound) {
		case GateReject:
			return ServiceResult{}, errors.Newf(run.ErrGovernanceBlock, "service %s: decision gate %s rejected", name, gate.Name)
		case GateEscalate:
			return ServiceResult{}, errors.Newf(run.ErrApprovalRequired, "service %s: decision gate %s escalated to operator", name, gate.Name)
		}
	}

	started := time.Now()
	result, err := desc.Handler(ctx, bound, rctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, errors.Timeout(err)
		}
		return result, err
	}
	r.logger.Debug("service %s completed in %s", name, time.Since(started))

	for _, check := range desc.Acceptance {
		if err := check.Check(result); err != nil {
			return result, errors.Newf(run.ErrContractViolation, "service %s: acceptance %s failed: %v", name, check.Name, err)
		}
	}
	return result, nil
}
