package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrBackendCallFailed matches every failed generation call, whichever
// backend produced it.
var ErrBackendCallFailed = errors.New("backend call failed")

// CallError wraps provider errors with backend and status metadata.
type CallError struct {
	Backend   string
	Model     string
	Status    int
	Temporary bool
	Err       error
}

func (e *CallError) Error() string {
	if e == nil {
		return ErrBackendCallFailed.Error()
	}
	prefix := e.Backend
	if e.Model != "" {
		prefix = fmt.Sprintf("%s/%s", e.Backend, e.Model)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", prefix, e.Err.Error())
	}
	return fmt.Sprintf("%s: call failed (status=%d)", prefix, e.Status)
}

func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is(err, ErrBackendCallFailed) match any CallError.
func (e *CallError) Is(target error) bool {
	return target == ErrBackendCallFailed
}

// WrapCallError converts err into a *CallError for the given backend. Errors
// that already are call errors are returned unchanged.
func WrapCallError(backend, model string, err error) error {
	if err == nil {
		return nil
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return err
	}
	return &CallError{Backend: backend, Model: model, Err: err}
}

// IsTransient reports whether an error looks like a passing condition
// (timeouts, 429, 5xx). It is recorded in reports; it never triggers a retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		if callErr.Temporary {
			return true
		}
		if callErr.Status == 429 || (callErr.Status >= 500 && callErr.Status <= 599) {
			return true
		}
	}
	return false
}
