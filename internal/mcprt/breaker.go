// Package mcprt is the connector runtime: a registry of external tools, a
// smart router scoring candidates by intent fit, reliability, latency and
// cost, a bounded retry chain with tool fallback, per-tool persisted circuit
// breakers, replayable run records, and declarative pipelines.
package mcprt

import (
	"sync"
	"time"

	"agentos/internal/config"
	"agentos/internal/domain/run"
	"agentos/internal/shared/errors"
	"agentos/internal/shared/logging"
	"agentos/internal/store"
)

// CircuitState is the breaker's lifecycle state.
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

// breaker tracks one tool. Failures are counted within the rolling window;
// crossing the threshold opens the circuit for the cooldown, after which
// exactly one probe is allowed through in half_open.
type breaker struct {
	state         CircuitState
	failures      int
	lastFailure   time.Time
	openedAt      time.Time
	probeInFlight bool
}

// BreakerManager holds the process-wide breaker map and mirrors every state
// change to the persistence file so open circuits survive restarts.
type BreakerManager struct {
	cfg    config.BreakerConfig
	file   *store.BreakerFile
	logger logging.Logger

	mu           sync.Mutex
	breakers     map[string]*breaker
	now          func() time.Time
	onTransition func(tool, state string)
}

// OnTransition registers a hook fired on every state change. The hook runs
// with the manager locked, so it must not call back into the manager.
func (m *BreakerManager) OnTransition(fn func(tool, state string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

func (m *BreakerManager) transitionLocked(tool, state string) {
	if m.onTransition != nil {
		m.onTransition(tool, state)
	}
}

// NewBreakerManager loads persisted breaker state and resumes from it.
func NewBreakerManager(cfg config.BreakerConfig, file *store.BreakerFile, logger logging.Logger) (*BreakerManager, error) {
	m := &BreakerManager{
		cfg:      cfg,
		file:     file,
		logger:   logging.OrNop(logger),
		breakers: map[string]*breaker{},
		now:      time.Now,
	}
	if file != nil {
		persisted, err := file.Load()
		if err != nil {
			return nil, err
		}
		for name, s := range persisted {
			m.breakers[name] = &breaker{
				state:       CircuitState(s.State),
				failures:    s.Failures,
				lastFailure: s.LastFailure,
				openedAt:    s.OpenedAt,
			}
		}
	}
	return m, nil
}

func (m *BreakerManager) get(tool string) *breaker {
	b, ok := m.breakers[tool]
	if !ok {
		b = &breaker{state: StateClosed}
		m.breakers[tool] = b
	}
	return b
}

// Allow reports whether a call to the tool may proceed. An open breaker past
// its cooldown transitions to half_open and admits a single probe; further
// callers are rejected until the probe resolves.
func (m *BreakerManager) Allow(tool string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.get(tool)
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if m.now().Sub(b.openedAt) >= m.cfg.Cooldown {
			b.state = StateHalfOpen
			b.probeInFlight = true
			m.logger.Info("breaker %s half-open, admitting probe", tool)
			m.transitionLocked(tool, string(StateHalfOpen))
			m.persistLocked()
			return nil
		}
		remaining := m.cfg.Cooldown - m.now().Sub(b.openedAt)
		return errors.Newf(run.ErrServiceUnavailable, "tool %s circuit open, %s of cooldown remaining", tool, remaining.Round(time.Second))
	case StateHalfOpen:
		if b.probeInFlight {
			return errors.Newf(run.ErrServiceUnavailable, "tool %s circuit half-open, probe already in flight", tool)
		}
		b.probeInFlight = true
		return nil
	default:
		return errors.Newf(run.ErrInternal, "tool %s breaker in unknown state %q", tool, b.state)
	}
}

// Mark records the outcome of an admitted call. Success closes the circuit;
// failure in half_open reopens it, failure in closed counts toward the
// threshold within the rolling window.
func (m *BreakerManager) Mark(tool string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.get(tool)
	if err == nil {
		if b.state != StateClosed {
			m.logger.Info("breaker %s closed after successful probe", tool)
			m.transitionLocked(tool, string(StateClosed))
		}
		b.state = StateClosed
		b.failures = 0
		b.probeInFlight = false
		m.persistLocked()
		return
	}

	now := m.now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.lastFailure = now
		b.probeInFlight = false
		m.logger.Warn("breaker %s reopened, probe failed", tool)
		m.transitionLocked(tool, string(StateOpen))
	case StateClosed:
		if m.cfg.FailureWindow > 0 && !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > m.cfg.FailureWindow {
			b.failures = 0
		}
		b.failures++
		b.lastFailure = now
		if b.failures >= m.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = now
			m.logger.Warn("breaker %s opened after %d failures", tool, b.failures)
			m.transitionLocked(tool, string(StateOpen))
		}
	case StateOpen:
		b.lastFailure = now
	}
	m.persistLocked()
}

// State returns the tool's current state, resolving an elapsed cooldown to
// half_open for display.
func (m *BreakerManager) State(tool string) CircuitState {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[tool]
	if !ok {
		return StateClosed
	}
	if b.state == StateOpen && m.now().Sub(b.openedAt) >= m.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot returns a copy of every tracked breaker for dashboards.
func (m *BreakerManager) Snapshot() map[string]store.BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]store.BreakerState, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = store.BreakerState{
			State:         string(b.state),
			Failures:      b.failures,
			LastFailure:   b.lastFailure,
			OpenedAt:      b.openedAt,
			ProbeInFlight: b.probeInFlight,
		}
	}
	return out
}

// Reset force-closes one tool's breaker.
func (m *BreakerManager) Reset(tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, tool)
	m.persistLocked()
}

func (m *BreakerManager) persistLocked() {
	if m.file == nil {
		return
	}
	states := make(map[string]store.BreakerState, len(m.breakers))
	for name, b := range m.breakers {
		states[name] = store.BreakerState{
			State:         string(b.state),
			Failures:      b.failures,
			LastFailure:   b.lastFailure,
			OpenedAt:      b.openedAt,
			ProbeInFlight: b.probeInFlight,
		}
	}
	if err := m.file.Save(states); err != nil {
		m.logger.Error("persist breaker state: %v", err)
	}
}
