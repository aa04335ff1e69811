// Package errors defines the error kinds shared by the log, the registry,
// the dispatcher and the session gateway.
// Every kind has a sentinel root so callers can match with errors.Is,
// and a typed error carrying details for errors.As.
package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrValidation         = fmt.Errorf("validation error")
	ErrAuth               = fmt.Errorf("auth error")
	ErrInvalidState       = fmt.Errorf("invalid state")
	ErrReplayGap          = fmt.Errorf("replay gap")
	ErrSubscriberOverflow = fmt.Errorf("subscriber overflow")

	ErrEmptyDisplayName   = fmt.Errorf("%w: display name is empty", ErrAuth)
	ErrRateLimited        = fmt.Errorf("%w: send rate exceeded", ErrValidation)
	ErrSubscriberClosed   = fmt.Errorf("subscriber closed")
	ErrSubscriberReplaced = fmt.Errorf("subscriber replaced by a new registration")
	ErrSessionLeft        = fmt.Errorf("session left")
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrUnknownBackend     = fmt.Errorf("unknown storage backend")
)

// Kind names, as reported to clients and in logs.
const (
	KindValidation         = "validation"
	KindAuth               = "auth"
	KindInvalidState       = "invalid_state"
	KindReplayGap          = "replay_gap"
	KindSubscriberOverflow = "subscriber_overflow"
	KindInternal           = "internal"
)

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type InvalidStateError struct {
	Op    string
	State string
}

func NewInvalidStateError(op, state string) *InvalidStateError {
	return &InvalidStateError{Op: op, State: state}
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ReplayGapError is returned when a reader asks for messages that were
// already evicted. Floor is the lowest sequence number still retained:
// the caller re-reads from Floor-1.
type ReplayGapError struct {
	Floor     uint64
	Requested uint64
}

func (e *ReplayGapError) Error() string {
	return fmt.Sprintf("replay gap: requested messages after %d, retained floor is %d", e.Requested, e.Floor)
}

func (e *ReplayGapError) Unwrap() error { return ErrReplayGap }

// SubscriberOverflowError is the end-of-stream reason of a subscriber that
// fell too far behind. It never reaches the sender of a message.
type SubscriberOverflowError struct {
	SubscriberID string
	Lag          uint64
}

func (e *SubscriberOverflowError) Error() string {
	return fmt.Sprintf("subscriber %s dropped: lagging %d messages behind", e.SubscriberID, e.Lag)
}

func (e *SubscriberOverflowError) Unwrap() error { return ErrSubscriberOverflow }

// Kind classifies any error into one of the kinds above.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrValidation):
		return KindValidation
	case stderrors.Is(err, ErrAuth):
		return KindAuth
	case stderrors.Is(err, ErrInvalidState):
		return KindInvalidState
	case stderrors.Is(err, ErrReplayGap):
		return KindReplayGap
	case stderrors.Is(err, ErrSubscriberOverflow):
		return KindSubscriberOverflow
	default:
		return KindInternal
	}
}

// Floor extracts the retained floor from a replay gap, if err is one.
func Floor(err error) (uint64, bool) {
	var gap *ReplayGapError
	if stderrors.As(err, &gap) {
		return gap.Floor, true
	}
	return 0, false
}
