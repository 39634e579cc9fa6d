package device

import "time"

// Handle is an open connection to one physical device. At most one reader
// may use a handle at a time; the registry enforces this by refusing a
// second Connect for the same id.
//
// Read blocks for at most the read timeout the handle was opened with and
// returns ErrReadTimeout when no data arrived in that window. Any other
// error is a hardware-level failure.
type Handle interface {
	Read(p []byte) (int, error)
	Close() error
	Device() Device
}

// Platform abstracts one OS-level device namespace (USB HID, serial ports)
// behind enumeration and open operations so the registry can be exercised
// against fakes in tests.
type Platform interface {
	Kind() Kind
	Enumerate() ([]Device, error)
	Open(d Device, readTimeout time.Duration) (Handle, error)
}
