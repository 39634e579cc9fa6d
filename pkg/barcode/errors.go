package barcode

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDeviceFound is returned by AutoConnect when discovery turned up
	// no usable scanner.
	ErrNoDeviceFound = errors.New("no scanner device found")

	// ErrProductNotFound is returned by ProductLookup implementations and
	// Resolve when no product carries the code.
	ErrProductNotFound = errors.New("product not found")

	// ErrNoLookup is returned by Resolve when no ProductLookup was injected.
	ErrNoLookup = errors.New("no product lookup configured")
)

// ValidationError reports a completed read that failed format validation.
// It is surfaced per scan and never stops a listening loop.
type ValidationError struct {
	Raw    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid barcode %q: %s", e.Raw, e.Reason)
}
