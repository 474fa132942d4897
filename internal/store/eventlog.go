// Package store is the evidence layer: append-only JSON Lines event logs, a
// content-addressed artifact store, a sqlite index, the override snapshot
// log, persisted breaker state, and backup/restore. All durable writes go
// through here; each log has a single writer and readers see point-in-time
// snapshots.
package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agentos/internal/domain/run"
	"agentos/internal/shared/logging"
)

// SchemaVersion is stamped on every event line so readers can migrate.
const SchemaVersion = 1

type eventEnvelope struct {
	Schema int             `json:"schema"`
	Type   string          `json:"type"`
	TS     time.Time       `json:"ts"`
	Data   json.RawMessage `json:"data"`
}

// appendLog is one JSONL file with a serialized writer. Lines are
// LF-terminated and fsynced before Append returns.
type appendLog struct {
	path   string
	mu     sync.Mutex
	logger logging.Logger
}

func newAppendLog(path string, logger logging.Logger) *appendLog {
	return &appendLog{path: path, logger: logging.OrNop(logger)}
}

func (l *appendLog) append(eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	line, err := json.Marshal(eventEnvelope{
		Schema: SchemaVersion,
		Type:   eventType,
		TS:     time.Now().UTC(),
		Data:   payload,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("ensure log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", l.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append log %s: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync log %s: %w", l.path, err)
	}
	return nil
}

// scan replays the log, handing each envelope to fn. Malformed lines are
// skipped with a warning so one bad write never poisons the whole log.
func (l *appendLog) scan(fn func(env eventEnvelope) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open log %s: %w", l.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		var env eventEnvelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			l.logger.Warn("skipping malformed line %d in %s: %v", lineNo, l.path, err)
			continue
		}
		if err := fn(env); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// EventLog implements run.EventStore over three JSONL files under
// <root>/events.
type EventLog struct {
	runs      *appendLog
	telemetry *appendLog
	feedback  *appendLog
}

const (
	eventAttempt   = "attempt"
	eventSummary   = "run_summary"
	eventTelemetry = "telemetry"
	eventFeedback  = "feedback"
)

// NewEventLog opens the event logs under root/events.
func NewEventLog(root string, logger logging.Logger) *EventLog {
	dir := filepath.Join(root, "events")
	return &EventLog{
		runs:      newAppendLog(filepath.Join(dir, "runs.jsonl"), logger),
		telemetry: newAppendLog(filepath.Join(dir, "telemetry.jsonl"), logger),
		feedback:  newAppendLog(filepath.Join(dir, "feedback.jsonl"), logger),
	}
}

func (e *EventLog) AppendAttempt(ctx context.Context, attempt run.Attempt) error {
	return e.runs.append(eventAttempt, attempt)
}

func (e *EventLog) AppendSummary(ctx context.Context, summary run.Summary) error {
	return e.runs.append(eventSummary, summary)
}

func (e *EventLog) AppendTelemetry(ctx context.Context, event run.TelemetryEvent) error {
	return e.telemetry.append(eventTelemetry, event)
}

func (e *EventLog) AppendFeedback(ctx context.Context, record run.FeedbackRecord) error {
	return e.feedback.append(eventFeedback, record)
}

func (e *EventLog) Summary(ctx context.Context, runID string) (*run.Summary, error) {
	var found *run.Summary
	err := e.runs.scan(func(env eventEnvelope) error {
		if env.Type != eventSummary {
			return nil
		}
		var s run.Summary
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil
		}
		if s.RunID == runID {
			found = &s
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("run %s: not found", runID)
	}
	return found, nil
}

func (e *EventLog) Attempts(ctx context.Context, runID string) ([]run.Attempt, error) {
	var attempts []run.Attempt
	err := e.runs.scan(func(env eventEnvelope) error {
		if env.Type != eventAttempt {
			return nil
		}
		var a run.Attempt
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil
		}
		if a.RunID == runID {
			attempts = append(attempts, a)
		}
		return nil
	})
	return attempts, err
}

func (e *EventLog) Feedback(ctx context.Context, since time.Time) ([]run.FeedbackRecord, error) {
	var records []run.FeedbackRecord
	err := e.feedback.scan(func(env eventEnvelope) error {
		var r run.FeedbackRecord
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil
		}
		if r.SubmittedAt.After(since) || r.SubmittedAt.Equal(since) {
			records = append(records, r)
		}
		return nil
	})
	return records, err
}

func (e *EventLog) Telemetry(ctx context.Context, since time.Time) ([]run.TelemetryEvent, error) {
	var events []run.TelemetryEvent
	err := e.telemetry.scan(func(env eventEnvelope) error {
		var ev run.TelemetryEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil
		}
		if ev.TS.After(since) || ev.TS.Equal(since) {
			events = append(events, ev)
		}
		return nil
	})
	return events, err
}

// Summaries replays every sealed RunSummary in append order.
func (e *EventLog) Summaries(ctx context.Context) ([]run.Summary, error) {
	var summaries []run.Summary
	err := e.runs.scan(func(env eventEnvelope) error {
		if env.Type != eventSummary {
			return nil
		}
		var s run.Summary
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil
		}
		summaries = append(summaries, s)
		return nil
	})
	return summaries, err
}
