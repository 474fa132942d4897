package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"

	"agentos/internal/observability"
	"agentos/internal/shared/logging"
)

// Scheduler runs the tuner on its configured cron cadence. Proposals are
// written to a plan file for human review; nothing is applied automatically.
type Scheduler struct {
	tuner    *Tuner
	planPath string
	logger   logging.Logger
	tracer   *observability.TracerProvider

	schedule cron.Schedule
	stop     chan struct{}
}

// SetTracer attaches the trace sink. A nil provider yields noop spans.
func (s *Scheduler) SetTracer(tracer *observability.TracerProvider) {
	s.tracer = tracer
}

// NewScheduler parses the cadence (standard 5-field cron) and binds the
// tuner.
func NewScheduler(tuner *Tuner, cadence, planPath string, logger logging.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(cadence)
	if err != nil {
		return nil, fmt.Errorf("parse tuner cadence %q: %w", cadence, err)
	}
	return &Scheduler{
		tuner:    tuner,
		planPath: planPath,
		logger:   logging.OrNop(logger),
		schedule: schedule,
		stop:     make(chan struct{}),
	}, nil
}

// Start launches the cadence loop. It returns immediately; Stop ends it.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		for {
			next := s.schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				s.tick(ctx)
			case <-s.stop:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanTunerCycle)
	defer span.End()

	proposals, err := s.tuner.Proposals(ctx)
	span.SetAttributes(attribute.Int("agentos.tuner.proposals", len(proposals)))
	if err != nil {
		s.logger.Error("tuner cadence: %v", err)
		return
	}
	if len(proposals) == 0 {
		s.logger.Debug("tuner cadence: no proposals")
		return
	}
	if err := s.tuner.WritePlan(proposals, s.planPath); err != nil {
		s.logger.Error("tuner cadence: %v", err)
		return
	}
	s.logger.Info("tuner cadence: %d proposals written to %s", len(proposals), s.planPath)
}

// Stop ends the cadence loop.
func (s *Scheduler) Stop() {
	close(s.stop)
}
