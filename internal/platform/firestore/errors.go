package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorClass uint8

const (
	classOther errorClass = iota
	classNotFound
	classConflict
	classUnavailable
)

// Error annotates a Firestore failure with the operation that raised it and a coarse class the
// service layer maps onto HTTP statuses.
type Error struct {
	op    string
	err   error
	class errorClass
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.class == classNotFound }

// IsConflict reports a write that lost against existing or concurrent data.
func (e *Error) IsConflict() bool { return e != nil && e.class == classConflict }

// IsDuplicate reports a create that found the document already present. Inside a transaction this
// surfaces from the commit, not from the queued Create.
func (e *Error) IsDuplicate() bool {
	return e != nil && status.Code(e.err) == codes.AlreadyExists
}

// IsUnavailable reports a transient backend failure worth retrying.
func (e *Error) IsUnavailable() bool { return e != nil && e.class == classUnavailable }

func classify(err error) errorClass {
	if errors.Is(err, ErrProviderClosed) {
		return classUnavailable
	}
	switch status.Code(err) {
	case codes.NotFound:
		return classNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return classConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return classUnavailable
	}
	return classOther
}

// WrapError tags err with op. Cancellation is returned as the plain context error so callers can
// test it with errors.Is; an already wrapped error keeps its original op.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return context.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}

	var wrapped *Error
	if errors.As(err, &wrapped) {
		if wrapped.op == "" {
			wrapped.op = op
		}
		return wrapped
	}
	return &Error{op: op, err: err, class: classify(err)}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
