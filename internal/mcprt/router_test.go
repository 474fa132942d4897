package mcprt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentos/internal/config"
)

func testRouterConfig() config.RouterConfig {
	return config.RouterConfig{
		IntentWeight:      0.45,
		ReliabilityWeight: 0.30,
		LatencyWeight:     0.15,
		CostWeight:        0.10,
		HitBonus:          0.05,
		ReliabilityPrior:  0.7,
		PriorWeight:       20,
	}
}

func staticTool(name string, keywords []string, latencyMS int64, cost float64) Tool {
	return Tool{
		Name:         name,
		Description:  name,
		Keywords:     keywords,
		AvgLatencyMS: latencyMS,
		CostHint:     cost,
		Call: func(ctx context.Context, params map[string]string) (ToolResult, error) {
			return ToolResult{Content: name}, nil
		},
	}
}

func TestRouterPrefersIntentMatch(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(staticTool("web/fetch", []string{"fetch", "url"}, 800, 0.2)))
	require.NoError(t, registry.Register(staticTool("local/echo", []string{"echo"}, 1, 0)))

	router := NewRouter(testRouterConfig(), registry, nil)
	ranked := router.Rank("fetch the release notes url", nil)

	// zero-intent tools drop out when anything matches
	require.Len(t, ranked, 1)
	assert.Equal(t, "web/fetch", ranked[0].Tool.Name)
	assert.Equal(t, 1.0, ranked[0].Intent)
}

func TestRouterFallsBackToFullCatalog(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(staticTool("web/fetch", []string{"fetch"}, 800, 0.2)))
	require.NoError(t, registry.Register(staticTool("local/echo", []string{"echo"}, 1, 0)))

	router := NewRouter(testRouterConfig(), registry, nil)
	ranked := router.Rank("translate this paragraph", nil)
	assert.Len(t, ranked, 2) // nothing matched, keep a last resort
}

func TestRouterReliabilitySmoothing(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(staticTool("lucky", []string{"job"}, 100, 0)))
	require.NoError(t, registry.Register(staticTool("proven", []string{"job"}, 100, 0)))

	// two lucky calls vs a long track record
	registry.Record("lucky", true, time.Millisecond)
	registry.Record("lucky", true, time.Millisecond)
	for i := 0; i < 100; i++ {
		registry.Record("proven", true, time.Millisecond)
	}

	router := NewRouter(testRouterConfig(), registry, nil)
	ranked := router.Rank("job", nil)
	require.Len(t, ranked, 2)
	assert.Equal(t, "proven", ranked[0].Tool.Name)
	assert.Greater(t, ranked[0].Reliability, ranked[1].Reliability)
}

// Test a tripped breaker pushes its tool to the bottom without removing it
func TestRouterPenalizesOpenBreaker(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(staticTool("primary", []string{"report"}, 100, 0)))
	require.NoError(t, registry.Register(staticTool("backup", []string{"report"}, 2000, 0.5)))

	breakers, _ := newTestBreakers(t, nil)
	for i := 0; i < 3; i++ {
		breakers.Mark("primary", errors.New("down"))
	}

	router := NewRouter(testRouterConfig(), registry, breakers)
	ranked := router.Rank("report", nil)
	require.Len(t, ranked, 2)
	assert.Equal(t, "backup", ranked[0].Tool.Name)
	assert.True(t, ranked[1].Penalized)
}

func TestTokenizeHandlesMixedDelimiters(t *testing.T) {
	tokens := tokenize("Fetch, the URL。抓取/网页")
	assert.Equal(t, []string{"fetch", "the", "url", "抓取", "网页"}, tokens)
}
