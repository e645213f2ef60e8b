package recorder

import "fmt"

// Reason is why a microphone could not be acquired.
type Reason int

const (
	ReasonUnavailable Reason = iota
	ReasonDenied
	ReasonNoDevice
	ReasonBusy
	ReasonCanceled
)

func (r Reason) String() string {
	switch r {
	case ReasonDenied:
		return "permission denied"
	case ReasonNoDevice:
		return "no input device"
	case ReasonBusy:
		return "device busy"
	case ReasonCanceled:
		return "canceled"
	}
	return "unavailable"
}

// AcquireError reports a failed Start.
type AcquireError struct {
	Reason Reason
	Err    error
}

func (e *AcquireError) Error() string {
	var msg string
	switch e.Reason {
	case ReasonDenied:
		msg = "microphone access was denied"
	case ReasonNoDevice:
		msg = "no microphone was found"
	case ReasonBusy:
		msg = "the microphone is in use by another application"
	case ReasonCanceled:
		msg = "recording was stopped before it started"
	default:
		msg = "the microphone could not be opened"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AcquireError) Unwrap() error { return e.Err }
