package resilience

import (
	"context"
	"errors"
	"os"
	"syscall"
)

// PermanentError wraps an error to mark it as non-retryable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps an error to indicate it should not be retried.
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanentError checks if an error is marked as permanent (non-retryable).
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var permErr *PermanentError
	if errors.As(err, &permErr) {
		return true
	}

	// Context errors are permanent.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return classifyError(err)
}

// classifyError determines if an error is permanent based on its type.
// Warden retries shell-outs and file reads; a missing binary or a
// permission failure will not heal between attempts.
func classifyError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errors.Is(pathErr.Err, syscall.EACCES) || errors.Is(pathErr.Err, syscall.EPERM) {
			return true
		}
		if errors.Is(pathErr.Err, syscall.ENOENT) {
			return true
		}
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.EACCES, syscall.EPERM, syscall.ENOENT, syscall.ENOTDIR:
			return true
		}
	}

	// Default: assume transient (allow retry).
	return false
}
