package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// BreakerState is the durable snapshot of one tool's circuit breaker.
type BreakerState struct {
	State         string    `json:"state"` // closed | open | half_open
	Failures      int       `json:"failures"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
	OpenedAt      time.Time `json:"opened_at,omitempty"`
	ProbeInFlight bool      `json:"probe_in_flight,omitempty"`
}

// BreakerFile persists breaker states to <root>/mcp/breaker.json so open
// circuits survive process restarts. Writes are whole-file tempfile+rename.
type BreakerFile struct {
	path string
	mu   sync.Mutex
}

// NewBreakerFile opens the persisted breaker map.
func NewBreakerFile(root string) *BreakerFile {
	return &BreakerFile{path: filepath.Join(root, "mcp", "breaker.json")}
}

// Load reads the persisted state map. A missing file yields an empty map.
func (b *BreakerFile) Load() (map[string]BreakerState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]BreakerState{}, nil
		}
		return nil, fmt.Errorf("read breaker state: %w", err)
	}
	states := map[string]BreakerState{}
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("parse breaker state: %w", err)
	}
	return states, nil
}

// Save replaces the persisted state map.
func (b *BreakerFile) Save(states map[string]BreakerState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("encode breaker state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("ensure breaker dir: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write breaker state: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit breaker state: %w", err)
	}
	return nil
}
