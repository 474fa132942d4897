package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerFileRoundTrip(t *testing.T) {
	root := t.TempDir()
	file := NewBreakerFile(root)

	states, err := file.Load()
	require.NoError(t, err)
	assert.Empty(t, states)

	opened := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, file.Save(map[string]BreakerState{
		"mcp/fetch": {State: "open", Failures: 3, OpenedAt: opened},
		"mcp/echo":  {State: "closed"},
	}))

	states, err = file.Load()
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "open", states["mcp/fetch"].State)
	assert.Equal(t, 3, states["mcp/fetch"].Failures)
	assert.True(t, states["mcp/fetch"].OpenedAt.Equal(opened))
}

func TestBreakerFileRejectsCorruptState(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "mcp", "breaker.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := NewBreakerFile(root).Load()
	assert.ErrorContains(t, err, "parse breaker state")
}
