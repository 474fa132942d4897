package kernel

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"agentos/internal/domain/run"
)

// StrategyKind tells the engine how to execute a strategy.
type StrategyKind string

const (
	// StrategyService delegates to a registered capability service.
	StrategyService StrategyKind = "service"
	// StrategyMCP routes the task through the connector runtime.
	StrategyMCP StrategyKind = "mcp"
)

// Strategy is one registered way to satisfy a class of tasks.
type Strategy struct {
	StrategyID     string
	Kind           StrategyKind
	TaskKinds      []run.TaskKind
	Binding        run.ServiceBinding // service name, or MCP intent hint
	Keywords       []string           // base-score vocabulary
	RiskLevel      run.RiskLevel
	Maturity       run.Maturity
	RequiredLayer  string
	RequiredInputs []run.ParamSpec
	SideEffects    []string
}

// Matches reports whether the strategy covers a task kind.
func (s Strategy) Matches(kind run.TaskKind) bool {
	for _, k := range s.TaskKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// BaseScore is the deterministic textual fit in [0,1]: the matched share of
// the strategy's vocabulary, floored at 0.3 for a kind match with no keyword
// overlap so a covering strategy is never scored out of the plan entirely.
func (s Strategy) BaseScore(text string) float64 {
	if len(s.Keywords) == 0 {
		return 0.5
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range s.Keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	if hits == 0 {
		return 0.3
	}
	score := 0.3 + 0.7*float64(hits)/float64(len(s.Keywords))
	if score > 1 {
		score = 1
	}
	return score
}

// Catalog is the registered strategy set.
type Catalog struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewCatalog creates an empty strategy catalog.
func NewCatalog() *Catalog {
	return &Catalog{strategies: map[string]Strategy{}}
}

// Register installs a strategy.
func (c *Catalog) Register(s Strategy) error {
	if s.StrategyID == "" {
		return fmt.Errorf("strategy requires an id")
	}
	if len(s.TaskKinds) == 0 {
		return fmt.Errorf("strategy %s: must declare task kinds", s.StrategyID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.strategies[s.StrategyID]; exists {
		return fmt.Errorf("strategy %s: already registered", s.StrategyID)
	}
	c.strategies[s.StrategyID] = s
	return nil
}

// Get returns a strategy by id.
func (c *Catalog) Get(id string) (Strategy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.strategies[id]
	return s, ok
}

// ForKind returns every strategy covering the task kind, sorted by id for
// deterministic enumeration.
func (c *Catalog) ForKind(kind run.TaskKind) []Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Strategy
	for _, s := range c.strategies {
		if s.Matches(kind) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyID < out[j].StrategyID })
	return out
}

// RegisterDefaults installs the built-in strategy set covering every task
// kind, bound to the built-in capability pack and the connector runtime.
func (c *Catalog) RegisterDefaults() error {
	defaults := []Strategy{
		{
			StrategyID:    "mckinsey-ppt",
			Kind:          StrategyService,
			TaskKinds:     []run.TaskKind{run.KindPresentation},
			Binding:       run.ServiceBinding{Name: "builtin/outliner", Version: "1.1.0"},
			Keywords:      []string{"presentation", "slide", "deck", "outline", "框架", "复盘", "汇报"},
			RiskLevel:     run.RiskLow,
			Maturity:      run.MaturityStable,
			RequiredLayer: "builtin",
			RequiredInputs: []run.ParamSpec{
				{Name: "text", Required: true, HighValue: true, Question: "What is the presentation about?"},
			},
		},
		{
			StrategyID:    "research-brief",
			Kind:          StrategyService,
			TaskKinds:     []run.TaskKind{run.KindResearch},
			Binding:       run.ServiceBinding{Name: "builtin/research-brief", Version: "0.4.0"},
			Keywords:      []string{"research", "analyze", "summary", "研究", "调研", "分析"},
			RiskLevel:     run.RiskLow,
			Maturity:      run.MaturityBeta,
			RequiredLayer: "builtin",
			RequiredInputs: []run.ParamSpec{
				{Name: "text", Required: true, HighValue: true, Question: "What question should the research answer?"},
			},
		},
		{
			StrategyID:    "mcp/fetch",
			Kind:          StrategyMCP,
			TaskKinds:     []run.TaskKind{run.KindResearch, run.KindDataQuery, run.KindAutomation},
			Binding:       run.ServiceBinding{Name: "fetch url http 抓取"},
			Keywords:      []string{"fetch", "url", "http", "scrape", "抓取", "网页"},
			RiskLevel:     run.RiskMedium,
			Maturity:      run.MaturityStable,
			RequiredLayer: "mcp",
		},
		{
			StrategyID:    "mcp/brave-search",
			Kind:          StrategyMCP,
			TaskKinds:     []run.TaskKind{run.KindResearch},
			Binding:       run.ServiceBinding{Name: "search web 搜索 摘要"},
			Keywords:      []string{"search", "web", "find", "摘要", "搜索"},
			RiskLevel:     run.RiskMedium,
			Maturity:      run.MaturityStable,
			RequiredLayer: "mcp",
		},
		{
			StrategyID:    "generalist",
			Kind:          StrategyService,
			TaskKinds:     []run.TaskKind{run.KindPresentation, run.KindResearch, run.KindDataQuery, run.KindImage, run.KindAutomation, run.KindOther},
			Binding:       run.ServiceBinding{Name: "builtin/generalist", Version: "1.0.0"},
			Keywords:      nil,
			RiskLevel:     run.RiskLow,
			Maturity:      run.MaturityStable,
			RequiredLayer: "builtin",
			RequiredInputs: []run.ParamSpec{
				{Name: "text", Required: true, HighValue: true, Question: "What should be produced?"},
			},
		},
	}
	for _, s := range defaults {
		if err := c.Register(s); err != nil {
			return err
		}
	}
	return nil
}
