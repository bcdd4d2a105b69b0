package routing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSuitableProvider means no catalog entry can take the request right now
	ErrNoSuitableProvider = errors.New("no suitable provider")

	// ErrAllProvidersExhausted means every candidate in the cascade failed
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)

// Attempt is one failed dispatch inside a cascade
type Attempt struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Err      error  `json:"-"`
}

// ExhaustedError carries every failed attempt of a cascade, in order
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s/%s: %v", a.Provider, a.Model, a.Err))
	}
	return fmt.Sprintf("%s after %d attempts [%s]", ErrAllProvidersExhausted, len(e.Attempts), strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrAllProvidersExhausted) hold
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// Providers lists the attempted provider types in cascade order
func (e *ExhaustedError) Providers() []string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Provider
	}
	return names
}
