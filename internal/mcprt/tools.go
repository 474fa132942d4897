package mcprt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// ToolResult is one tool call's output.
type ToolResult struct {
	Content   string            `json:"content"`
	MediaType string            `json:"media_type,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Partial   bool              `json:"partial,omitempty"`
}

// Caller is the injected behavior of a tool.
type Caller func(ctx context.Context, params map[string]string) (ToolResult, error)

// Tool describes one external connector.
type Tool struct {
	Name         string
	Description  string
	Keywords     []string // intent-matching vocabulary
	AvgLatencyMS int64    // advertised latency hint
	CostHint     float64  // relative cost in [0,1]
	Call         Caller
}

// toolStats accumulates observed outcomes for reliability scoring.
type toolStats struct {
	calls     int
	successes int
	latencyMS int64
}

// ToolRegistry holds the connector catalog plus observed stats.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	stats map[string]*toolStats
}

// NewToolRegistry creates an empty connector catalog.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: map[string]Tool{},
		stats: map[string]*toolStats{},
	}
}

// Register installs a tool. Re-registering a name replaces it but keeps the
// accumulated stats.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool requires a name")
	}
	if tool.Call == nil {
		return fmt.Errorf("tool %s: caller is required", tool.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
	if _, ok := r.stats[tool.Name]; !ok {
		r.stats[tool.Name] = &toolStats{}
	}
	return nil
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns every tool sorted by name.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Record feeds an observed call outcome into the reliability stats.
func (r *ToolRegistry) Record(name string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[name]
	if !ok {
		s = &toolStats{}
		r.stats[name] = s
	}
	s.calls++
	if success {
		s.successes++
	}
	s.latencyMS += latency.Milliseconds()
}

// Stats returns (calls, successes, mean latency ms) for a tool.
func (r *ToolRegistry) Stats(name string) (int, int, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[name]
	if !ok || s.calls == 0 {
		return 0, 0, 0
	}
	return s.calls, s.successes, s.latencyMS / int64(s.calls)
}

// RegisterDefaults installs the built-in connector set: an HTTP fetcher and
// a local echo tool that doubles as the router's last resort.
func RegisterDefaults(r *ToolRegistry, client *http.Client) error {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	defaults := []Tool{
		{
			Name:         "mcp/fetch",
			Description:  "fetch a URL and return the raw body",
			Keywords:     []string{"fetch", "url", "http", "scrape", "抓取", "网页"},
			AvgLatencyMS: 800,
			CostHint:     0.2,
			Call: func(ctx context.Context, params map[string]string) (ToolResult, error) {
				url := strings.TrimSpace(params["url"])
				if url == "" {
					return ToolResult{}, fmt.Errorf("fetch: url parameter required")
				}
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				if err != nil {
					return ToolResult{}, fmt.Errorf("fetch: build request: %w", err)
				}
				resp, err := client.Do(req)
				if err != nil {
					return ToolResult{}, fmt.Errorf("fetch %s: %w", url, err)
				}
				defer resp.Body.Close()
				if resp.StatusCode >= 500 {
					return ToolResult{}, fmt.Errorf("fetch %s: upstream status %d", url, resp.StatusCode)
				}
				body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
				if err != nil {
					return ToolResult{}, fmt.Errorf("fetch %s: read body: %w", url, err)
				}
				return ToolResult{
					Content:   string(body),
					MediaType: resp.Header.Get("Content-Type"),
					Meta:      map[string]string{"status": fmt.Sprintf("%d", resp.StatusCode)},
				}, nil
			},
		},
		{
			Name:         "mcp/echo",
			Description:  "return the input unchanged; diagnostic last resort",
			Keywords:     []string{"echo", "test", "ping"},
			AvgLatencyMS: 1,
			CostHint:     0.0,
			Call: func(ctx context.Context, params map[string]string) (ToolResult, error) {
				return ToolResult{Content: params["text"], MediaType: "text/plain"}, nil
			},
		},
	}
	for _, tool := range defaults {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}
