// Package feedback ingests operator ratings and turns evidence into policy:
// windowed evaluation per strategy, promote/demote watermarks, override
// proposals, reversible snapshots, and rollback.
package feedback

import (
	"context"
	"fmt"
	"time"

	"agentos/internal/domain/run"
	"agentos/internal/shared/logging"
)

// Service records and aggregates operator feedback.
type Service struct {
	events run.EventStore
	logger logging.Logger
}

// NewService wires the feedback ingress.
func NewService(events run.EventStore, logger logging.Logger) *Service {
	return &Service{events: events, logger: logging.OrNop(logger)}
}

// Add appends a rating for a completed run. Rating must be +1 or -1; the run
// must already have a sealed summary.
func (s *Service) Add(ctx context.Context, runID string, rating int, note string) error {
	if rating != 1 && rating != -1 {
		return fmt.Errorf("rating must be +1 or -1, got %d", rating)
	}
	if _, err := s.events.Summary(ctx, runID); err != nil {
		return fmt.Errorf("feedback for %s: %w", runID, err)
	}
	record := run.FeedbackRecord{
		RunID:       runID,
		Rating:      rating,
		Note:        note,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.events.AppendFeedback(ctx, record); err != nil {
		return err
	}
	s.logger.Info("feedback recorded for %s: %+d", runID, rating)
	return nil
}

// Stats is the aggregate view over a feedback window.
type Stats struct {
	Window    time.Duration
	Total     int
	Positive  int
	Negative  int
	WithNotes int
}

// PositiveShare is the Laplace-smoothed positive ratio, usable as a quality
// proxy even on tiny samples.
func (s Stats) PositiveShare() float64 {
	return float64(s.Positive+1) / float64(s.Total+2)
}

// StatsSince aggregates feedback submitted in the window.
func (s *Service) StatsSince(ctx context.Context, window time.Duration) (Stats, error) {
	records, err := s.events.Feedback(ctx, time.Now().Add(-window))
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Window: window, Total: len(records)}
	for _, r := range records {
		if r.Rating > 0 {
			stats.Positive++
		} else {
			stats.Negative++
		}
		if r.Note != "" {
			stats.WithNotes++
		}
	}
	return stats, nil
}
