package errors

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentos/internal/domain/run"
)

// Test classified errors keep their kind through wrapping
func TestKindOf(t *testing.T) {
	assert.Equal(t, run.ErrNone, KindOf(nil))
	assert.Equal(t, run.ErrMissingInput, KindOf(New(run.ErrMissingInput, "topic is required")))
	assert.Equal(t, run.ErrPolicyViolation, KindOf(fmt.Errorf("outer: %w", New(run.ErrPolicyViolation, "sensitive param"))))

	// unclassified errors report internal_error unless they look transient
	assert.Equal(t, run.ErrInternal, KindOf(errors.New("boom")))
	assert.Equal(t, run.ErrServiceUnavailable, KindOf(errors.New("dial tcp: connection refused")))
}

func TestClassifiedMessage(t *testing.T) {
	withMessage := New(run.ErrGovernanceBlock, "layer not allowed")
	assert.Equal(t, "layer not allowed", withMessage.Error())

	cause := errors.New("deadline")
	wrapped := Wrap(run.ErrToolTimeout, cause)
	assert.Equal(t, "tool_timeout: deadline", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)

	assert.NoError(t, Wrap(run.ErrToolTimeout, nil))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(syscall.ECONNREFUSED))
	assert.True(t, IsTransient(errors.New("read: connection reset by peer")))
	assert.False(t, IsTransient(errors.New("invalid argument")))

	// classified errors answer from their kind, not their text
	assert.True(t, IsTransient(New(run.ErrServiceUnavailable, "down")))
	assert.True(t, IsTransient(New(run.ErrToolTimeout, "slow")))
	assert.False(t, IsTransient(New(run.ErrPolicyViolation, "connection refused")))
}

// Test the CLI exit code contract stays stable
func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitGovernanceBlock, ExitCode(New(run.ErrGovernanceBlock, "")))
	assert.Equal(t, ExitMissingInput, ExitCode(New(run.ErrMissingInput, "")))
	assert.Equal(t, ExitServiceFailure, ExitCode(New(run.ErrServiceUnavailable, "")))
	assert.Equal(t, ExitServiceFailure, ExitCode(New(run.ErrToolTimeout, "")))
	assert.Equal(t, ExitServiceFailure, ExitCode(New(run.ErrContractViolation, "")))
	assert.Equal(t, ExitApprovalRequired, ExitCode(New(run.ErrApprovalRequired, "")))
	assert.Equal(t, ExitPolicyViolation, ExitCode(New(run.ErrPolicyViolation, "")))
	assert.Equal(t, ExitBackpressure, ExitCode(New(run.ErrBackpressure, "")))
	assert.Equal(t, 1, ExitCode(errors.New("unexpected")))
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	config := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0
	result, err := RetryWithResult(context.Background(), config, nil, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", New(run.ErrServiceUnavailable, "warming up")
		}
		return "ready", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ready", result)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	config := RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), config, nil, func(ctx context.Context) error {
		calls++
		return New(run.ErrPolicyViolation, "forbidden")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, run.ErrPolicyViolation, KindOf(err))
}

func TestRetryExhaustsBudget(t *testing.T) {
	config := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond}

	calls := 0
	err := Retry(context.Background(), config, nil, func(ctx context.Context) error {
		calls++
		return New(run.ErrToolTimeout, "still slow")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // first attempt plus two retries
	assert.Equal(t, run.ErrToolTimeout, KindOf(err))
}

// Test a failing fn's result survives alongside the error
func TestRetryKeepsLastResultOnFailure(t *testing.T) {
	config := RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond}

	calls := 0
	result, err := RetryWithResult(context.Background(), config, nil, func(ctx context.Context) (string, error) {
		calls++
		return fmt.Sprintf("draft %d", calls), New(run.ErrToolTimeout, "still slow")
	})
	require.Error(t, err)
	assert.Equal(t, "draft 3", result)

	result, err = RetryWithResult(context.Background(), config, nil, func(ctx context.Context) (string, error) {
		return "half a report", New(run.ErrPolicyViolation, "forbidden")
	})
	require.Error(t, err)
	assert.Equal(t, "half a report", result)
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), nil, func(ctx context.Context) error {
		t.Fatal("fn must not run after cancellation")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffCapped(t *testing.T) {
	config := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	for attempt := 0; attempt < 8; attempt++ {
		delay := backoff(attempt, config)
		assert.LessOrEqual(t, delay, config.MaxDelay)
		assert.Greater(t, delay, time.Duration(0))
	}
}

func TestTimeoutAndUnavailableWrappers(t *testing.T) {
	assert.NoError(t, Timeout(nil))
	assert.NoError(t, Unavailable(nil))
	assert.Equal(t, run.ErrToolTimeout, KindOf(Timeout(errors.New("deadline"))))
	assert.Equal(t, run.ErrServiceUnavailable, KindOf(Unavailable(errors.New("down"))))
}
