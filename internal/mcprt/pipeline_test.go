package mcprt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePipeline(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPipelineJSON(t *testing.T) {
	path := writePipeline(t, "p.json", `{
		"name": "nightly",
		"steps": [
			{"name": "grab", "service": "fetch", "params": {"url": "https://example.com"}},
			{"name": "note", "service": "echo", "on_error": "continue"}
		]
	}`)
	p, err := LoadPipeline(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", p.Name)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "https://example.com", p.Steps[0].Params["url"])
	assert.Equal(t, "continue", p.Steps[1].OnError)
}

func TestLoadPipelineYAMLAndTOML(t *testing.T) {
	yamlPath := writePipeline(t, "p.yaml", `
name: nightly
steps:
  - name: grab
    service: fetch
`)
	p, err := LoadPipeline(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "fetch", p.Steps[0].Service)

	tomlPath := writePipeline(t, "p.toml", `
name = "nightly"

[[steps]]
name = "grab"
service = "fetch"
`)
	p, err = LoadPipeline(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "fetch", p.Steps[0].Service)
}

func TestLoadPipelineValidation(t *testing.T) {
	_, err := LoadPipeline(writePipeline(t, "empty.json", `{"name":"x","steps":[]}`))
	assert.ErrorContains(t, err, "no steps")

	_, err = LoadPipeline(writePipeline(t, "svc.json", `{"steps":[{"name":"a"}]}`))
	assert.ErrorContains(t, err, "service is required")

	_, err = LoadPipeline(writePipeline(t, "policy.json", `{"steps":[{"service":"x","on_error":"retry"}]}`))
	assert.ErrorContains(t, err, "on_error must be abort or continue")

	_, err = LoadPipeline(writePipeline(t, "p.ini", "steps="))
	assert.ErrorContains(t, err, "unsupported serialization")
}

func TestRunPipelineAbortsByDefault(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(failingTool("broken", []string{"broken"})))
	require.NoError(t, registry.Register(flakyTool("fine", []string{"fine"}, 0)))
	rt := newTestRuntime(t, registry)

	p := &Pipeline{Name: "nightly", Steps: []PipelineStep{
		{Name: "first", Service: "broken"},
		{Name: "second", Service: "fine"},
	}}
	results, err := RunPipeline(context.Background(), rt, "run-1", p, InvokeOptions{}, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "aborted at step 1")
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestRunPipelineContinuesOnPolicy(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(failingTool("broken", []string{"broken"})))
	require.NoError(t, registry.Register(flakyTool("fine", []string{"fine"}, 0)))
	rt := newTestRuntime(t, registry)

	p := &Pipeline{Name: "nightly", Steps: []PipelineStep{
		{Name: "first", Service: "broken", OnError: "continue"},
		{Name: "second", Service: "fine"},
	}}
	results, err := RunPipeline(context.Background(), rt, "run-1", p, InvokeOptions{}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, "fine ok", results[1].Result.Content)
}
