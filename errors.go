package fanout

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

var (
	// ErrEventNotFound is returned when an event id does not resolve to a
	// row visible to the caller.
	ErrEventNotFound = errors.New("event not found", j.C("ERR_1f6c2a90be57d4a3"))

	// ErrInvalidPayload is returned by handlers when an event payload does
	// not decode into the typed variant for its event type.
	ErrInvalidPayload = errors.New("invalid event payload", j.C("ERR_8d02c4e1f3ab7956"))

	// ErrStopped is returned by the sweeper when its context is cancelled.
	ErrStopped = errors.New("the event sweeper has been stopped", j.C("ERR_43ab9e02c1d67f88"))
)

func IsNotFoundErr(err error) bool {
	return errors.Is(err, ErrEventNotFound)
}

func IsInvalidPayloadErr(err error) bool {
	return errors.Is(err, ErrInvalidPayload)
}
