package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentos/internal/domain/run"
)

func TestOverrideLogLatestAndByID(t *testing.T) {
	ctx := context.Background()
	log := NewOverrideLog(t.TempDir(), nil)

	latest, err := log.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := run.Snapshot{
		SnapshotID: "snap-1",
		AppliedAt:  time.Now().UTC(),
		ApprovedBy: "operator",
		Active: []run.PolicyOverride{
			{Scope: run.ScopeStrategy, Key: "mcp/fetch.demoted", Value: "true"},
		},
	}
	require.NoError(t, log.Append(ctx, first))
	require.NoError(t, log.Append(ctx, run.Snapshot{SnapshotID: "snap-2", AppliedAt: time.Now().UTC()}))

	latest, err = log.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "snap-2", latest.SnapshotID)

	found, err := log.ByID(ctx, "snap-1")
	require.NoError(t, err)
	require.Len(t, found.Active, 1)
	assert.Equal(t, "mcp/fetch.demoted", found.Active[0].Key)

	_, err = log.ByID(ctx, "snap-404")
	assert.ErrorContains(t, err, "not found")
}

func TestOverrideLogHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	log := NewOverrideLog(t.TempDir(), nil)

	for _, id := range []string{"snap-1", "snap-2", "snap-3"} {
		require.NoError(t, log.Append(ctx, run.Snapshot{SnapshotID: id}))
	}

	history, err := log.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "snap-3", history[0].SnapshotID)
	assert.Equal(t, "snap-2", history[1].SnapshotID)
}

func TestOverrideLogRequiresID(t *testing.T) {
	log := NewOverrideLog(t.TempDir(), nil)
	err := log.Append(context.Background(), run.Snapshot{})
	assert.ErrorContains(t, err, "requires an id")
}
