package transport

import (
	"errors"
	"fmt"

	"github.com/minefleet/asicscan/pkg/miner"
)

var (
	// ErrAuthenticationFailed indicates a login or unlock attempt was rejected.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrEmptyResponse indicates the device accepted the connection but sent
	// nothing back.
	ErrEmptyResponse = errors.New("empty response")
)

// NoTransportError indicates a command kind no transport in the set handles.
type NoTransportError struct {
	Kind miner.CommandKind
}

func (e *NoTransportError) Error() string {
	return fmt.Sprintf("no transport for %s commands", e.Kind)
}

// APIError represents an HTTP-level error returned by a device web API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (HTTP %d) at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("api error (HTTP %d) at %s", e.StatusCode, e.Endpoint)
}

// IsUnauthorized returns true if the error indicates authentication is needed.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsAuthError returns true if the error indicates failed authentication or
// authorization.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return errors.Is(err, ErrAuthenticationFailed)
}
