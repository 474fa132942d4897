package mcprt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"agentos/internal/shared/logging"
)

// PipelineStep is one declarative step: a tool (or intent) with bound params
// and an error policy.
type PipelineStep struct {
	Name    string            `json:"name" toml:"name" yaml:"name"`
	Service string            `json:"service" toml:"service" yaml:"service"`
	Params  map[string]string `json:"params" toml:"params" yaml:"params"`
	OnError string            `json:"on_error" toml:"on_error" yaml:"on_error"` // abort | continue
}

// Pipeline is an ordered step list loaded from JSON, TOML or YAML.
type Pipeline struct {
	Name  string         `json:"name" toml:"name" yaml:"name"`
	Steps []PipelineStep `json:"steps" toml:"steps" yaml:"steps"`
}

// LoadPipeline parses a pipeline file; the serialization is chosen by
// extension (.json, .toml, .yaml/.yml).
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	var p Pipeline
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &p)
	case ".toml":
		err = toml.Unmarshal(data, &p)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("pipeline %s: unsupported serialization %q", path, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse pipeline %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", path, err)
	}
	return &p, nil
}

func (p *Pipeline) validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("no steps declared")
	}
	for i, step := range p.Steps {
		if step.Service == "" {
			return fmt.Errorf("step %d: service is required", i+1)
		}
		switch step.OnError {
		case "", "abort", "continue":
		default:
			return fmt.Errorf("step %d: on_error must be abort or continue, got %q", i+1, step.OnError)
		}
	}
	return nil
}

// StepResult is one executed pipeline step.
type StepResult struct {
	Step      PipelineStep
	Result    ToolResult
	Err       error
	LatencyMS int64
}

// RunPipeline executes the steps in order through the connector runtime.
// on_error=abort (the default) stops the pipeline at the failing step;
// continue records the failure and moves on.
func RunPipeline(ctx context.Context, rt *Runtime, runID string, p *Pipeline, opts InvokeOptions, logger logging.Logger) ([]StepResult, error) {
	logger = logging.OrNop(logger)
	results := make([]StepResult, 0, len(p.Steps))

	for i, step := range p.Steps {
		stepRunID := fmt.Sprintf("%s.s%d", runID, i+1)
		started := time.Now()
		result, err := rt.Invoke(ctx, stepRunID, step.Service, step.Params, opts)
		results = append(results, StepResult{
			Step:      step,
			Result:    result,
			Err:       err,
			LatencyMS: time.Since(started).Milliseconds(),
		})
		if err != nil {
			if step.OnError == "continue" {
				logger.Warn("pipeline %s step %d (%s) failed, continuing: %v", p.Name, i+1, step.Service, err)
				continue
			}
			return results, fmt.Errorf("pipeline %s aborted at step %d (%s): %w", p.Name, i+1, step.Service, err)
		}
	}
	return results, nil
}
