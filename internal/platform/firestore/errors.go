package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrVersionMismatch is returned when a guarded write finds a different stored version.
var ErrVersionMismatch = errors.New("firestore: document version mismatch")

type failure int

const (
	failureOther failure = iota
	failureNotFound
	failureConflict
	failureUnavailable
)

var failureByCode = map[codes.Code]failure{
	codes.NotFound:           failureNotFound,
	codes.AlreadyExists:      failureConflict,
	codes.FailedPrecondition: failureConflict,
	codes.Aborted:            failureConflict,
	codes.Unavailable:        failureUnavailable,
	codes.ResourceExhausted:  failureUnavailable,
	codes.Internal:           failureUnavailable,
	codes.DeadlineExceeded:   failureUnavailable,
}

// Error is the repositories.RepositoryError produced by the Firestore repositories.
type Error struct {
	op    string
	cause error
	kind  failure
}

func (e *Error) Error() string {
	if e.op == "" {
		return e.cause.Error()
	}
	return e.op + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == failureNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == failureConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == failureUnavailable }

// WrapError tags err with op and its repository meaning. Cancellation is returned as the
// plain context error so callers can match it, and an already wrapped error keeps its op.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var wrapped *Error
	if errors.As(err, &wrapped) {
		if wrapped.op == "" {
			wrapped.op = op
		}
		return wrapped
	}

	kind := failureByCode[status.Code(err)]
	if errors.Is(err, ErrVersionMismatch) {
		kind = failureConflict
	}
	return &Error{op: op, cause: err, kind: kind}
}
