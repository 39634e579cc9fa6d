package device

import "errors"

var (
	// ErrDeviceNotFound is returned for ids that no discovered device carries,
	// typically because the unit was unplugged and aged out of the registry.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceBusy is returned when connecting to a device this process
	// already holds a handle for.
	ErrDeviceBusy = errors.New("device already connected")

	// ErrReadTimeout signals that no data arrived within the handle's read
	// timeout. It is the normal "no scan yet" result, not a failure.
	ErrReadTimeout = errors.New("read timeout")
)
