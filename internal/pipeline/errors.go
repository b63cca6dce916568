package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind is the error taxonomy stages and adapters classify every
// failure into. The orchestrator uses it only to decide the job's terminal
// status and the first sentence of error_message; retry behavior for
// RateLimited/Transient/Internal is decided earlier, inside the retry
// executor and each adapter's classifier.
type ErrorKind string

const (
	KindValidation   ErrorKind = "ValidationError"
	KindNotFound     ErrorKind = "NotFound"
	KindForbidden    ErrorKind = "Forbidden"
	KindRateLimited  ErrorKind = "RateLimited"
	KindTransient    ErrorKind = "Transient"
	KindSizeExceeded ErrorKind = "SizeExceeded"
	KindCancelled    ErrorKind = "Cancelled"
	KindInternal     ErrorKind = "Internal"
)

// StageError is the typed error every stage and adapter returns. The
// orchestrator never inspects anything but Kind and Error() — no stage
// partially commits on a StageError, per spec.md §7.
type StageError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError constructs a StageError of the given kind.
func NewStageError(kind ErrorKind, msg string, err error) *StageError {
	return &StageError{Kind: kind, Msg: msg, Err: err}
}

// Validationf, NotFoundf, ... are convenience constructors mirroring the
// taxonomy; used at adapter call sites to keep classification terse.
func Validationf(format string, args ...any) *StageError {
	return &StageError{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *StageError {
	return &StageError{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) *StageError {
	return &StageError{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

func RateLimitedf(format string, args ...any) *StageError {
	return &StageError{Kind: KindRateLimited, Msg: fmt.Sprintf(format, args...)}
}

func Transientf(err error, format string, args ...any) *StageError {
	return &StageError{Kind: KindTransient, Msg: fmt.Sprintf(format, args...), Err: err}
}

func SizeExceededf(format string, args ...any) *StageError {
	return &StageError{Kind: KindSizeExceeded, Msg: fmt.Sprintf(format, args...)}
}

func Cancelledf(format string, args ...any) *StageError {
	return &StageError{Kind: KindCancelled, Msg: fmt.Sprintf(format, args...)}
}

func Internalf(err error, format string, args ...any) *StageError {
	return &StageError{Kind: KindInternal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *StageError,
// defaulting to KindInternal for anything unclassified.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// Retryable reports whether the retry executor's default classifier
// should retry an error of this kind. RateLimited and Transient are
// retryable; everything else is terminal for the current attempt.
func Retryable(kind ErrorKind) bool {
	return kind == KindRateLimited || kind == KindTransient
}
