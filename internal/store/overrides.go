package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"agentos/internal/domain/run"
	"agentos/internal/shared/logging"
)

// OverrideLog is the ordered, append-only snapshot log for policy overrides.
// Every snapshot carries the complete active override set, so rollback is a
// plain append of an older snapshot's contents under a new id.
type OverrideLog struct {
	log *appendLog
}

const eventSnapshot = "override_snapshot"

// NewOverrideLog opens the snapshot log under root/overrides.
func NewOverrideLog(root string, logger logging.Logger) *OverrideLog {
	return &OverrideLog{
		log: newAppendLog(filepath.Join(root, "overrides", "snapshots.jsonl"), logger),
	}
}

func (o *OverrideLog) Append(ctx context.Context, snap run.Snapshot) error {
	if snap.SnapshotID == "" {
		return fmt.Errorf("snapshot requires an id")
	}
	return o.log.append(eventSnapshot, snap)
}

func (o *OverrideLog) Latest(ctx context.Context) (*run.Snapshot, error) {
	var latest *run.Snapshot
	err := o.log.scan(func(env eventEnvelope) error {
		var s run.Snapshot
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil
		}
		latest = &s
		return nil
	})
	return latest, err
}

func (o *OverrideLog) ByID(ctx context.Context, snapshotID string) (*run.Snapshot, error) {
	var found *run.Snapshot
	err := o.log.scan(func(env eventEnvelope) error {
		var s run.Snapshot
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil
		}
		if s.SnapshotID == snapshotID {
			found = &s
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("snapshot %s: not found", snapshotID)
	}
	return found, nil
}

func (o *OverrideLog) History(ctx context.Context, limit int) ([]run.Snapshot, error) {
	var all []run.Snapshot
	err := o.log.scan(func(env eventEnvelope) error {
		var s run.Snapshot
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil
		}
		all = append(all, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
