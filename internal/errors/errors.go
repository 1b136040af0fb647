// Package errors defines the error taxonomy of the mDNS engine.
//
// Protocol-level failures never escalate: a malformed datagram is dropped,
// a failed send is retried at the next scheduled deadline, and a suspicious
// legacy query is ignored. Only configuration mistakes are returned to the
// caller of the public API.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors, compared with errors.Is.
var (
	// ErrLabelTooLong reports a label longer than 63 bytes.
	ErrLabelTooLong = errors.New("label too long")

	// ErrDomainTooLong reports a domain whose encoded form exceeds 255 bytes.
	ErrDomainTooLong = errors.New("domain name too long")

	// ErrAllocationFailed reports that a message or record could not be built
	// within its size limit.
	ErrAllocationFailed = errors.New("allocation failed")

	// ErrSendFailed reports that the transport refused a datagram.
	ErrSendFailed = errors.New("send failed")

	// ErrSpoofSuspected reports a legacy unicast query from outside every
	// locally connected subnet.
	ErrSpoofSuspected = errors.New("legacy query from non-local source")

	// ErrClosed reports a call on a closed responder.
	ErrClosed = errors.New("responder closed")
)

// MalformedMessageError reports a truncated or invalid datagram.
type MalformedMessageError struct {
	Offset int
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message at offset %d: %s", e.Offset, e.Reason)
}

// NetworkError represents a transport failure.
type NetworkError struct {
	Operation string // "send", "receive", "join group", ...
	Err       error
	Details   string
}

func (e *NetworkError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("network error during %s: %v (%s)", e.Operation, e.Err, e.Details)
	}
	return fmt.Sprintf("network error during %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ValidationError represents an invalid argument passed to the public API.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}
