package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agentos/internal/domain/run"
)

// RegisterBuiltins installs the built-in capability pack: leaf services that
// produce real artifacts so the kernel path is executable end to end without
// any external connector.
func RegisterBuiltins(r *Registry, artifacts run.ArtifactStore) error {
	builtins := []ServiceDescriptor{
		generalistResponder(artifacts),
		presentationOutliner(artifacts),
		researchSummarizer(artifacts),
	}
	for _, desc := range builtins {
		if err := r.Register(desc); err != nil {
			return err
		}
	}
	return nil
}

func nonEmptyPrimary(result ServiceResult) error {
	if len(result.Artifacts) == 0 {
		return fmt.Errorf("no artifacts produced")
	}
	if result.Artifacts[0].SizeBytes == 0 {
		return fmt.Errorf("primary artifact is empty")
	}
	return nil
}

// generalistResponder is the last-resort advisor: it restates the task and
// records assumptions as a markdown note.
func generalistResponder(artifacts run.ArtifactStore) ServiceDescriptor {
	return ServiceDescriptor{
		Name:      "builtin/generalist",
		Version:   "1.0.0",
		Layer:     "builtin",
		Mode:      ModeAdvisor,
		Maturity:  run.MaturityStable,
		RiskLevel: run.RiskLow,
		Inputs: []run.ParamSpec{
			{Name: "text", Required: true, HighValue: true, Question: "What should be produced?"},
		},
		Fallback: "",
		Outputs:  []string{"md"},
		Acceptance: []Acceptance{
			{Name: "non-empty-note", Check: nonEmptyPrimary},
		},
		AvgCost: 0.1,
		Handler: func(ctx context.Context, params map[string]string, rctx run.Context) (ServiceResult, error) {
			var b strings.Builder
			fmt.Fprintf(&b, "# Task note\n\n%s\n\n", params["text"])
			fmt.Fprintf(&b, "Generated %s for run %s under profile %s.\n",
				time.Now().UTC().Format(time.RFC3339), rctx.RunID, rctx.Profile)
			ref, err := artifacts.Put(ctx, "md", "builtin/generalist", []byte(b.String()))
			if err != nil {
				return ServiceResult{}, err
			}
			return ServiceResult{
				Artifacts: []run.ArtifactRef{ref},
				Summary:   "general task note",
			}, nil
		},
	}
}

type outline struct {
	Title    string   `json:"title"`
	Sections []string `json:"sections"`
}

// presentationOutliner turns a presentation request into a structured outline
// (JSON) plus a markdown rendering.
func presentationOutliner(artifacts run.ArtifactStore) ServiceDescriptor {
	return ServiceDescriptor{
		Name:      "builtin/outliner",
		Version:   "1.1.0",
		Layer:     "builtin",
		Mode:      ModeAdvisor,
		Maturity:  run.MaturityStable,
		RiskLevel: run.RiskLow,
		Inputs: []run.ParamSpec{
			{Name: "text", Required: true, HighValue: true, Question: "What is the presentation about?"},
			{Name: "audience", Default: "internal", Domain: []string{"internal", "external", "executive"}},
			{Name: "sections", Default: "5"},
		},
		DecisionGates: []DecisionGate{
			{Name: "has-topic", Evaluate: func(params map[string]string) GateVerdict {
				if strings.TrimSpace(params["text"]) == "" {
					return GateReject
				}
				return GateTrigger
			}},
		},
		Fallback: "builtin/generalist",
		Outputs:  []string{"json", "md"},
		Acceptance: []Acceptance{
			{Name: "outline-present", Check: nonEmptyPrimary},
		},
		AvgCost: 0.3,
		Handler: func(ctx context.Context, params map[string]string, rctx run.Context) (ServiceResult, error) {
			o := outline{
				Title: strings.TrimSpace(params["text"]),
				Sections: []string{
					"Context and objective",
					"Current state",
					"Key findings",
					"Options and trade-offs",
					"Recommendation and next steps",
				},
			}
			raw, err := json.MarshalIndent(o, "", "  ")
			if err != nil {
				return ServiceResult{}, err
			}
			primary, err := artifacts.Put(ctx, "json", "builtin/outliner", raw)
			if err != nil {
				return ServiceResult{}, err
			}

			var b strings.Builder
			fmt.Fprintf(&b, "# %s\n\n", o.Title)
			for i, section := range o.Sections {
				fmt.Fprintf(&b, "%d. %s\n", i+1, section)
			}
			rendered, err := artifacts.Put(ctx, "md", "builtin/outliner", []byte(b.String()))
			if err != nil {
				return ServiceResult{}, err
			}
			return ServiceResult{
				Artifacts: []run.ArtifactRef{primary, rendered},
				Summary:   fmt.Sprintf("outline with %d sections for %s audience", len(o.Sections), params["audience"]),
			}, nil
		},
	}
}

// researchSummarizer produces a research brief scaffold. It is beta: useful,
// but profiles that block beta maturity will skip it.
func researchSummarizer(artifacts run.ArtifactStore) ServiceDescriptor {
	return ServiceDescriptor{
		Name:      "builtin/research-brief",
		Version:   "0.4.0",
		Layer:     "builtin",
		Mode:      ModeAdvisor,
		Maturity:  run.MaturityBeta,
		RiskLevel: run.RiskLow,
		Inputs: []run.ParamSpec{
			{Name: "text", Required: true, HighValue: true, Question: "What question should the research answer?"},
			{Name: "depth", Default: "standard", Domain: []string{"quick", "standard", "deep"}},
		},
		Fallback: "builtin/generalist",
		Outputs:  []string{"md"},
		Acceptance: []Acceptance{
			{Name: "brief-present", Check: nonEmptyPrimary},
			{Name: "has-question", Check: func(result ServiceResult) error {
				if !strings.Contains(result.Summary, "research brief") {
					return fmt.Errorf("summary missing brief marker")
				}
				return nil
			}},
		},
		AvgCost: 0.5,
		Handler: func(ctx context.Context, params map[string]string, rctx run.Context) (ServiceResult, error) {
			var b strings.Builder
			fmt.Fprintf(&b, "# Research brief\n\n**Question**: %s\n\n**Depth**: %s\n\n", params["text"], params["depth"])
			b.WriteString("## Findings\n\n- (pending source collection)\n\n## Open threads\n\n- scope confirmation\n")
			ref, err := artifacts.Put(ctx, "md", "builtin/research-brief", []byte(b.String()))
			if err != nil {
				return ServiceResult{}, err
			}
			return ServiceResult{
				Artifacts: []run.ArtifactRef{ref},
				Summary:   "research brief scaffold",
				Partial:   true,
			}, nil
		},
	}
}
