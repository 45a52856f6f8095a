package backend

import (
	"errors"
	"fmt"

	"github.com/parosapp/paros-go/token"
)

// Error kinds of the SDK. Callers branch with errors.Is / errors.As; the
// message text is for humans only.
var (
	// Auth errors
	ErrChallengeDelivery = errors.New("challenge could not be delivered")
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrChallengeNotFound = errors.New("no outstanding challenge")
	ErrRefreshInvalid    = token.ErrRefreshInvalid
	ErrSessionExpired    = errors.New("session expired")

	// Realtime errors
	ErrNotConnected  = errors.New("realtime channel not connected")
	ErrConnectFailed = errors.New("realtime connect failed")
	ErrSendTimeout   = errors.New("send not acknowledged in time")
	ErrSendRejected  = errors.New("send rejected by remote")

	// Query errors
	ErrInvalidQuery = errors.New("invalid query")
)

// UnsupportedQueryError reports a filter operator the selected backend cannot
// evaluate with the same semantics as the others. Rejecting loudly here is
// the contract; a backend must never drop a filter it does not understand.
type UnsupportedQueryError struct {
	Op Operator
}

func (e *UnsupportedQueryError) Error() string {
	return fmt.Sprintf("query operator %q is not supported by this backend", e.Op)
}

// TransportError is any non-success response from the api backend that does
// not map to a more specific kind. Code carries the machine-readable value
// of the error envelope when the server provided one.
type TransportError struct {
	Status  int
	Code    string
	Message string
}

func (e *TransportError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend request failed: status %d code %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend request failed: status %d: %s", e.Status, e.Message)
}

func errorsWrapInvalidQuery(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, detail)
}
