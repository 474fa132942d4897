package mcprt

import (
	"sort"
	"strings"

	"agentos/internal/config"
)

// RoutedTool is one router candidate with its score breakdown.
type RoutedTool struct {
	Tool        Tool
	Score       float64
	Intent      float64
	Reliability float64
	Latency     float64
	Cost        float64
	Penalized   bool // breaker not closed at ranking time
}

// Router ranks connector candidates for an intent. The composite is
// intent_weight·intent + reliability_weight·reliability +
// latency_weight·inv_latency + cost_weight·inv_cost, plus a keyword hit
// bonus, minus a penalty while the tool's breaker is not closed.
type Router struct {
	cfg      config.RouterConfig
	registry *ToolRegistry
	breakers *BreakerManager
}

// NewRouter binds the router to the catalog and breaker map.
func NewRouter(cfg config.RouterConfig, registry *ToolRegistry, breakers *BreakerManager) *Router {
	return &Router{cfg: cfg, registry: registry, breakers: breakers}
}

// breakerPenalty is subtracted from the composite while a tool's circuit is
// not closed, pushing it to the bottom without removing it from the plan.
const breakerPenalty = 0.5

// Rank scores every registered tool against the intent and returns them
// best-first. Tools with zero intent overlap are excluded unless nothing
// matches, in which case the full catalog is returned so the chain always
// has a last resort.
func (r *Router) Rank(intent string, params map[string]string) []RoutedTool {
	tokens := tokenize(intent)
	tools := r.registry.List()

	scored := make([]RoutedTool, 0, len(tools))
	for _, tool := range tools {
		rt := r.score(tool, tokens)
		scored = append(scored, rt)
	}

	matched := scored[:0:0]
	for _, rt := range scored {
		if rt.Intent > 0 {
			matched = append(matched, rt)
		}
	}
	if len(matched) == 0 {
		matched = scored
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		return matched[i].Tool.Name < matched[j].Tool.Name
	})
	return matched
}

func (r *Router) score(tool Tool, tokens []string) RoutedTool {
	rt := RoutedTool{Tool: tool}

	hits := 0
	for _, kw := range tool.Keywords {
		for _, tok := range tokens {
			if tok == kw || strings.Contains(tok, kw) || strings.Contains(kw, tok) {
				hits++
				break
			}
		}
	}
	if len(tool.Keywords) > 0 {
		rt.Intent = float64(hits) / float64(len(tool.Keywords))
	}

	rt.Reliability = r.reliability(tool.Name)

	latency := tool.AvgLatencyMS
	if _, _, observed := r.registry.Stats(tool.Name); observed > 0 {
		latency = observed
	}
	rt.Latency = 1.0 / (1.0 + float64(latency)/1000.0)
	rt.Cost = 1.0 - tool.CostHint

	rt.Score = r.cfg.IntentWeight*rt.Intent +
		r.cfg.ReliabilityWeight*rt.Reliability +
		r.cfg.LatencyWeight*rt.Latency +
		r.cfg.CostWeight*rt.Cost
	if hits > 0 {
		rt.Score += r.cfg.HitBonus
	}
	if r.breakers != nil && r.breakers.State(tool.Name) != StateClosed {
		rt.Score -= breakerPenalty
		rt.Penalized = true
	}
	return rt
}

// reliability smooths the observed success rate toward the configured prior
// so a tool with two lucky calls does not outrank a proven one: the prior
// carries prior_weight virtual calls.
func (r *Router) reliability(tool string) float64 {
	calls, successes, _ := r.registry.Stats(tool)
	prior := r.cfg.ReliabilityPrior
	weight := r.cfg.PriorWeight
	if weight <= 0 {
		weight = 20
	}
	return (prior*weight + float64(successes)) / (weight + float64(calls))
}

func tokenize(intent string) []string {
	fields := strings.FieldsFunc(strings.ToLower(intent), func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', ',', '.', ';', ':', '/', '?', '!', '，', '。', '、':
			return true
		}
		return false
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
