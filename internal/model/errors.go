package model

import "errors"

var (
	// ErrInvalidRecurrence marks a definition whose recurrence rule could
	// not be parsed. The definition is skipped for the cycle.
	ErrInvalidRecurrence = errors.New("invalid recurrence expression")
	// ErrInvalidInstant marks a malformed or inverted start/end.
	ErrInvalidInstant = errors.New("invalid instant")
	// ErrTimezoneResolution marks an unknown IANA zone. It is a warning:
	// the default zone is used instead.
	ErrTimezoneResolution = errors.New("timezone resolution failure")
	// ErrInvalidWindow is returned when the window end is not after its start.
	ErrInvalidWindow = errors.New("invalid window")
)

// ValidationError reports a problem with a single event definition.
type ValidationError struct {
	EventID string
	Err     error
}

func (e *ValidationError) Error() string {
	return "event " + e.EventID + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

var (
	// ErrMissingID marks a definition without an id.
	ErrMissingID = errors.New("missing id")
	// ErrDuplicateID marks a definition whose id was already seen in the
	// same update; the later definition wins.
	ErrDuplicateID = errors.New("duplicate id")
)
