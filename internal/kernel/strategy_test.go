package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentos/internal/domain/run"
)

func TestBaseScore(t *testing.T) {
	s := Strategy{Keywords: []string{"research", "analyze", "summary"}}

	// no overlap floors at 0.3, never zero for a covering strategy
	assert.InDelta(t, 0.3, s.BaseScore("draw me a picture"), 1e-9)
	assert.InDelta(t, 0.3+0.7/3, s.BaseScore("research the market"), 1e-9)
	assert.InDelta(t, 1.0, s.BaseScore("research analyze summary"), 1e-9)

	// no vocabulary means a neutral score
	assert.InDelta(t, 0.5, Strategy{}.BaseScore("anything"), 1e-9)
}

func TestCatalogRegisterValidation(t *testing.T) {
	c := NewCatalog()
	assert.ErrorContains(t, c.Register(Strategy{}), "requires an id")
	assert.ErrorContains(t, c.Register(Strategy{StrategyID: "x"}), "must declare task kinds")

	valid := Strategy{StrategyID: "x", TaskKinds: []run.TaskKind{run.KindOther}}
	require.NoError(t, c.Register(valid))
	assert.ErrorContains(t, c.Register(valid), "already registered")
}

func TestCatalogForKindDeterministic(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.RegisterDefaults())

	research := c.ForKind(run.KindResearch)
	ids := make([]string, 0, len(research))
	for _, s := range research {
		ids = append(ids, s.StrategyID)
	}
	assert.Equal(t, []string{"generalist", "mcp/brave-search", "mcp/fetch", "research-brief"}, ids)

	other := c.ForKind(run.KindOther)
	require.Len(t, other, 1)
	assert.Equal(t, "generalist", other[0].StrategyID)
}
