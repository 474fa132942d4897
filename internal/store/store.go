package store

import (
	"fmt"
	"os"
	"path/filepath"

	"agentos/internal/shared/logging"
)

// Store bundles the evidence layer under one state root.
type Store struct {
	Root      string
	Events    *EventLog
	Artifacts *Artifacts
	Index     *SQLIndex
	Overrides *OverrideLog
	Breaker   *BreakerFile
}

// Open prepares the state root and every store inside it.
func Open(root string, logger logging.Logger) (*Store, error) {
	logger = logging.OrNop(logger)
	if root == "" {
		return nil, fmt.Errorf("state root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create state root: %w", err)
	}

	artifacts, err := NewArtifacts(root)
	if err != nil {
		return nil, err
	}
	index, err := NewSQLIndex(filepath.Join(root, "index.db"))
	if err != nil {
		return nil, err
	}

	logger.Debug("state store opened at %s", root)
	return &Store{
		Root:      root,
		Events:    NewEventLog(root, logger),
		Artifacts: artifacts,
		Index:     index,
		Overrides: NewOverrideLog(root, logger),
		Breaker:   NewBreakerFile(root),
	}, nil
}

// Close releases store resources.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.Index.Close()
}
