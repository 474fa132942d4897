package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(key string) (string, bool) { return "", false }

func envMap(vars map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	home := t.TempDir()
	cfg, meta, err := Load(WithEnv(noEnv), WithHomeDir(func() (string, error) { return home, nil }))
	require.NoError(t, err)

	assert.Empty(t, meta.Path)
	assert.Equal(t, "auto", cfg.DefaultProfile)
	assert.Equal(t, filepath.Join(home, ".agentos"), cfg.StateRoot) // ~ expanded
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.InDelta(t, 0.5, cfg.Ranker.PriorRate, 1e-9) // neutral memory prior

	strict, ok := cfg.Profiles["strict"]
	require.True(t, ok)
	assert.False(t, strict.LearningEnabled)
	assert.Equal(t, 1, strict.MaxFallbackSteps)
}

func TestLoadLayersFileThenEnvThenOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
state_root = "/var/lib/agentos"
default_profile = "strict"
`), 0o644))

	cfg, meta, err := Load(
		WithPath(path),
		WithEnv(envMap(map[string]string{"AGENTOS_DEFAULT_PROFILE": "adaptive"})),
		WithHomeDir(func() (string, error) { return dir, nil }),
		WithOverride(func(c *Config) { c.Pool.Workers = 4 }),
	)
	require.NoError(t, err)

	assert.Equal(t, path, meta.Path)
	assert.Equal(t, SourceFile, meta.Sources["file"])
	assert.Equal(t, SourceEnv, meta.Sources["AGENTOS_DEFAULT_PROFILE"])
	assert.Equal(t, SourceOverride, meta.Sources["override"])

	assert.Equal(t, "/var/lib/agentos", cfg.StateRoot)
	assert.Equal(t, "adaptive", cfg.DefaultProfile) // env wins over file
	assert.Equal(t, 4, cfg.Pool.Workers)
}

func TestLoadDiscoversConfigViaEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alt.toml")
	require.NoError(t, os.WriteFile(path, []byte(`default_profile = "strict"`), 0o644))

	cfg, meta, err := Load(
		WithEnv(envMap(map[string]string{"AGENTOS_CONFIG": path})),
		WithHomeDir(func() (string, error) { return dir, nil }),
	)
	require.NoError(t, err)
	assert.Equal(t, path, meta.Path)
	assert.Equal(t, "strict", cfg.DefaultProfile)
}

// Test risk and approval settings cannot be moved through the environment
func TestLoadRejectsGuardedEnvKeys(t *testing.T) {
	_, _, err := Load(
		WithEnv(envMap(map[string]string{"AGENTOS_MAX_RISK_LEVEL": "high"})),
		WithHomeDir(func() (string, error) { return t.TempDir(), nil }),
	)
	assert.ErrorContains(t, err, "AGENTOS_MAX_RISK_LEVEL")
	assert.ErrorContains(t, err, "file-only")
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("state_root = [broken"), 0o644))

	_, _, err := Load(WithPath(path), WithEnv(noEnv))
	assert.ErrorContains(t, err, "parse config")
}

func TestNormalizeRepairsDegenerateValues(t *testing.T) {
	cfg, _, err := Load(
		WithEnv(noEnv),
		WithHomeDir(func() (string, error) { return t.TempDir(), nil }),
		WithOverride(func(c *Config) {
			c.Pool.Workers = 0
			c.Pool.QueueDepth = -1
			c.Profiles["custom"] = ProfileConfig{AllowedLayers: []string{"*"}}
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Pool.Workers)
	assert.Equal(t, 1, cfg.Pool.QueueDepth)

	custom := cfg.Profiles["custom"]
	assert.InDelta(t, 0.7, custom.BaseWeight, 1e-9)
	assert.InDelta(t, 0.3, custom.MemoryWeight, 1e-9)
	assert.Equal(t, 3, custom.MaxFallbackSteps)
}
