package run

import (
	"context"
	"time"
)

// EventStore is the append-only evidence log for runs, attempts, telemetry
// and feedback. Appends are durable before return; reads see a consistent
// snapshot taken at call time.
type EventStore interface {
	AppendAttempt(ctx context.Context, attempt Attempt) error
	AppendSummary(ctx context.Context, summary Summary) error
	AppendTelemetry(ctx context.Context, event TelemetryEvent) error
	AppendFeedback(ctx context.Context, record FeedbackRecord) error

	Summary(ctx context.Context, runID string) (*Summary, error)
	Summaries(ctx context.Context) ([]Summary, error)
	Attempts(ctx context.Context, runID string) ([]Attempt, error)
	Feedback(ctx context.Context, since time.Time) ([]FeedbackRecord, error)
	Telemetry(ctx context.Context, since time.Time) ([]TelemetryEvent, error)
}

// ArtifactStore persists artifact bytes under their content address and
// resolves references back to bytes.
type ArtifactStore interface {
	Put(ctx context.Context, kind, producedBy string, data []byte) (ArtifactRef, error)
	Get(ctx context.Context, ref ArtifactRef) ([]byte, error)
	Exists(ctx context.Context, sha256 string) bool
}

// IndexQuery is the windowed filter handed to index lookups.
type IndexQuery struct {
	TaskKind   TaskKind
	StrategyID string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// StrategyWindow is the per-strategy aggregate the ranker and tuner read.
type StrategyWindow struct {
	StrategyID   string
	TaskKind     TaskKind
	Samples      int
	Successes    int
	Failures     int
	FallbackRuns int
	P95LatencyMS int64
	LastOutcome  Outcome
	LastSeen     time.Time
}

// Hotspot is one entry of the failure leaderboard.
type Hotspot struct {
	StrategyID string
	ErrorKind  ErrorKind
	Count      int
}

// Index is the relational projection over the event log used for fast
// lookups. It is derivative: rebuildable from the logs at any time.
type Index interface {
	RecordAttempt(ctx context.Context, attempt Attempt, kind TaskKind) error
	RecordSummary(ctx context.Context, summary Summary, kind TaskKind) error

	LatestRun(ctx context.Context, kind TaskKind) (*Summary, error)
	StrategyWindows(ctx context.Context, q IndexQuery) ([]StrategyWindow, error)
	Hotspots(ctx context.Context, q IndexQuery) ([]Hotspot, error)
	RecentRuns(ctx context.Context, limit int) ([]Summary, error)
}

// OverrideStore is the append-only snapshot log for policy overrides.
type OverrideStore interface {
	Append(ctx context.Context, snap Snapshot) error
	Latest(ctx context.Context) (*Snapshot, error)
	ByID(ctx context.Context, snapshotID string) (*Snapshot, error)
	History(ctx context.Context, limit int) ([]Snapshot, error)
}
