package errors

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"agentos/internal/domain/run"
)

// IsTransient reports whether an error is worth retrying in place. Classified
// errors answer from their kind; everything else falls back to network-shaped
// heuristics.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var classified *Classified
	if errors.As(err, &classified) {
		return classified.Kind.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if isNetworkError(err) || isSyscallError(err) {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"deadline exceeded",
		"temporarily unavailable",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

// Timeout wraps a deadline failure as tool_timeout, keeping the cause.
func Timeout(err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: run.ErrToolTimeout, Err: err}
}

// Unavailable wraps a connectivity failure as service_unavailable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Kind: run.ErrServiceUnavailable, Err: err}
}
