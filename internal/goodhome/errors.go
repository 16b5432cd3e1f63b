package goodhome

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure classes. Exported operations never return these: they are logged
// and collapsed into a boolean or empty result at the client boundary.
var (
	// ErrAuthFailure means login and refresh were both exhausted, or a retried
	// request was rejected again.
	ErrAuthFailure = errors.New("goodhome: authentication failed")

	// ErrTransport covers timeouts and connection errors.
	ErrTransport = errors.New("goodhome: transport failure")

	// ErrProtocol covers a missing handshake session id, unexpected status
	// codes and payloads that do not decode.
	ErrProtocol = errors.New("goodhome: protocol failure")

	// ErrNotConfirmed means a write was accepted but the backend never
	// reported the requested value within the poll budget.
	ErrNotConfirmed = errors.New("goodhome: change not confirmed")
)

// HTTPStatusError is returned for non-success responses from the vendor API
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("goodhome http %d", e.Status)
	}
	return fmt.Sprintf("goodhome http %d: %s", e.Status, e.Body)
}

// Is lets callers match a status error against the failure classes
func (e *HTTPStatusError) Is(target error) bool {
	switch target {
	case ErrAuthFailure:
		return e.Status == http.StatusUnauthorized
	case ErrProtocol:
		return e.Status != http.StatusUnauthorized
	}
	return false
}

// failureClass names the class of err for logs and metric labels
func failureClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAuthFailure):
		return "auth"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "error"
	}
}
