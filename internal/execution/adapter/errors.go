package adapter

import (
	"errors"
	"fmt"
	"strings"
)

// Code is the adapter error taxonomy (spec.md §4.6). Adapter implementers
// must classify every failure into one of these; Executor retry logic
// switches on Code, never on the wrapped error's text.
type Code string

const (
	CodeOK          Code = "OK"
	CodeParams      Code = "E.PARAMS"
	CodeRateLimit   Code = "E.RATE.LIMIT"
	CodeNet         Code = "E.NET"
	CodeTimeout     Code = "E.TIMEOUT"
	CodeRejectBiz   Code = "E.REJECT.BIZ"
	CodeAuth        Code = "E.AUTH"
	CodeInternal    Code = "E.INTERNAL"
)

// Error wraps a venue failure with its taxonomy code.
type Error struct {
	Code Code
	Op   string // e.g. "submit", "cancel", "fetch_fills"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("adapter: %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with code for operation op.
func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the taxonomy code from err, defaulting to E.INTERNAL for
// an unclassified error.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Retryable reports whether an Executor may retry a call that failed with
// code. E.PARAMS and E.REJECT.BIZ are never retried: a malformed request or
// a venue business rejection (insufficient balance, position limit) will
// not succeed on replay (original_source/executors/idempotency.py
// RetryPolicy.should_retry draws the same line: local param/risk rejections
// never retry).
func Retryable(code Code) bool {
	switch code {
	case CodeParams, CodeRejectBiz, CodeAuth:
		return false
	case CodeRateLimit, CodeNet, CodeTimeout, CodeInternal:
		return true
	default:
		return false
	}
}

// ClassifyHTTPLike maps a raw error message to a taxonomy Code when a
// venue client only exposes an error string (many lightweight REST
// clients do). Concrete Adapter implementations that get structured
// errors from their SDK should classify directly instead of going through
// this heuristic.
func ClassifyHTTPLike(err error) Code {
	if err == nil {
		return CodeOK
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return CodeRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return CodeTimeout
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return CodeAuth
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "bad request") || strings.Contains(msg, "400"):
		return CodeParams
	case strings.Contains(msg, "rejected") || strings.Contains(msg, "denied") || strings.Contains(msg, "insufficient"):
		return CodeRejectBiz
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "dns") || strings.Contains(msg, "socket"):
		return CodeNet
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return CodeNet
	default:
		return CodeInternal
	}
}
