package responder

import (
	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/state"
)

// Errors returned or logged by the responder, compared with errors.Is.
var (
	ErrClosed           = errors.ErrClosed
	ErrLabelTooLong     = errors.ErrLabelTooLong
	ErrDomainTooLong    = errors.ErrDomainTooLong
	ErrAllocationFailed = errors.ErrAllocationFailed
	ErrSendFailed       = errors.ErrSendFailed
	ErrSpoofSuspected   = errors.ErrSpoofSuspected
)

// Error types, matched with errors.As.
type (
	ValidationError       = errors.ValidationError
	NetworkError          = errors.NetworkError
	MalformedMessageError = errors.MalformedMessageError
)

// Status is the probe status of the host or a service.
type Status = state.Status

const (
	StatusWaitingForData = state.WaitingForData
	StatusReadyToStart   = state.ReadyToStart
	StatusInProgress     = state.InProgress
	StatusDone           = state.Done
)
