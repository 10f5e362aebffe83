package registry

import (
	"errors"
	"fmt"
)

var (
	ErrAggregationCycle   = errors.New("registry: aggregation cycle")
	ErrUnknownSignal      = errors.New("registry: unknown signal")
	ErrInvalidDefinition  = errors.New("registry: invalid definition")
	ErrMalformedDocument  = errors.New("registry: malformed document")
	ErrUnsupportedVersion = errors.New("registry: unsupported version")
)

// ValidationError pins a validation failure to one signal.
type ValidationError struct {
	Kind     error
	SignalID string
	Detail   string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: signal %q", e.Kind, e.SignalID)
	}
	return fmt.Sprintf("%v: signal %q: %s", e.Kind, e.SignalID, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// LoadError reports a failed registry update. The previously active snapshot
// is still in place when it is returned.
type LoadError struct {
	Hash    string
	Version string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("registry load %s@%s: %v", e.Hash, e.Version, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
