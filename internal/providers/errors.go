package providers

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse is returned when a provider answers 2xx with an
	// unusable payload
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrNoTransport is returned when no transport is registered for a provider
	ErrNoTransport = errors.New("no transport registered")
)

// TransportError describes a failed dispatch attempt
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

// NewTransportError wraps err as a transport failure of provider
func NewTransportError(provider string, statusCode int, err error) *TransportError {
	return &TransportError{Provider: provider, StatusCode: statusCode, Err: err}
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a TransportError
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
