package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalid           = errors.New("invalid")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrCommandBusy       = errors.New("command busy")
	ErrStaleTelemetry    = errors.New("stale telemetry")
	ErrCommandTimedOut   = errors.New("command timed out")
	ErrDroneLost         = errors.New("drone lost")
	ErrRejected          = errors.New("rejected")
	ErrOverloaded        = errors.New("overloaded")
	ErrClosed            = errors.New("closed")
)

// RejectedError carries the reason a mission operation was refused.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "rejected: " + e.Reason
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

func Rejected(reason string) error {
	return &RejectedError{Reason: reason}
}
