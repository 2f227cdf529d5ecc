package domain

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindNetworkFailure ErrorKind = "network_failure"
	KindConflict       ErrorKind = "conflict"
	KindRejected       ErrorKind = "rejected"
	KindInvalid        ErrorKind = "invalid"
)

var (
	ErrNetworkFailure = errors.New("network failure")
	ErrConflict       = errors.New("mutation already pending")
	ErrRejected       = errors.New("rejected by server")
	ErrInvalid        = errors.New("invalid request")
)

// Error is the failure value returned across the gateway and sync engine.
// errors.Is matches it against the sentinel for its kind.
type Error struct {
	Kind    ErrorKind
	Op      string
	JobID   string
	Message string
	Err     error
}

func NewError(kind ErrorKind, op, jobID, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, JobID: jobID, Message: message, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.JobID != "" {
		fmt.Fprintf(&b, " job_id=%s", e.JobID)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(sentinelFor(e.Kind).Error())
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := []error{sentinelFor(e.Kind)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindConflict:
		return ErrConflict
	case KindRejected:
		return ErrRejected
	case KindInvalid:
		return ErrInvalid
	default:
		return ErrNetworkFailure
	}
}

// KindOf classifies err. Errors that carry no kind are treated as network
// failures, since the only unclassified failures come from the transport.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrRejected):
		return KindRejected
	case errors.Is(err, ErrInvalid):
		return KindInvalid
	default:
		return KindNetworkFailure
	}
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
