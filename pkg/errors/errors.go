package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind classifies failures by how the crawl loop reacts to them
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindNavigation        Kind = "navigation"
	KindParse             Kind = "parse"
	KindInvalidTransition Kind = "invalid_transition"
	KindFatal             Kind = "fatal"
	KindUnknown           Kind = "unknown"
)

// ErrInvalidTransition is returned when a partition is moved out of a terminal state
var ErrInvalidTransition = stderrors.New("invalid state transition")

// Error is a classified crawl error
type Error struct {
	Kind      Kind
	Op        string
	Partition string
	Page      int
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Partition != "" {
		msg = fmt.Sprintf("%s (partition %s, page %d)", msg, e.Partition, e.Page)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout wraps err as a timeout error
func Timeout(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

// Navigation wraps err as a transient navigation failure
func Navigation(op string, err error) *Error {
	return &Error{Kind: KindNavigation, Op: op, Err: err}
}

// Parse wraps err as a structural failure of a fetched page
func Parse(op string, err error) *Error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

// Fatal wraps err as an error that must abort the run
func Fatal(op string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// At returns a copy of e annotated with the partition and page it happened on
func (e *Error) At(partition string, page int) *Error {
	cp := *e
	cp.Partition = partition
	cp.Page = page
	return &cp
}

// KindOf extracts the Kind of err. A bare context deadline is a timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	if stderrors.Is(err, ErrInvalidTransition) {
		return KindInvalidTransition
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsTransient checks if an error kind is expected to clear on retry
func IsTransient(kind Kind) bool {
	switch kind {
	case KindTimeout, KindNavigation:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err must stop the whole run
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}
