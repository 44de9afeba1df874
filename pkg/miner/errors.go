package miner

import (
	"errors"
	"fmt"
)

var (
	// ErrNoResponse indicates the device did not answer a resolution query.
	ErrNoResponse = errors.New("no response from device")

	// ErrUnexpectedResponse indicates the device answered with a shape the
	// resolver could not interpret.
	ErrUnexpectedResponse = errors.New("unexpected response from device")

	// ErrUnsupportedDevice indicates a resolved identity has no backend.
	// Scans treat this as "no miner found", not a failure.
	ErrUnsupportedDevice = errors.New("unsupported device")
)

// UnknownModelError indicates the device reported a model string that is not
// in the model tables. The raw string is kept so operators can report it.
type UnknownModelError struct {
	Raw string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q", e.Raw)
}

// IsUnknownModel reports whether err is an UnknownModelError.
func IsUnknownModel(err error) bool {
	var ume *UnknownModelError
	return errors.As(err, &ume)
}
