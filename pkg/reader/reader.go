// Package reader turns the raw byte streams of connected scanner devices
// into discrete scanned-code strings.
package reader

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dstanziola/copypoint-scanner/pkg/device"
)

// ErrCancelled is returned by ReadOne when the caller's context is
// cancelled before a complete code arrived.
var ErrCancelled = errors.New("read cancelled")

// Reader produces one complete scanned code per call.
//
// ReadOne blocks until a terminator is observed or timeout elapses with no
// complete code, in which case it returns device.ErrReadTimeout. Context
// cancellation returns ErrCancelled within one handle read timeout. Any
// other error is a hardware-level failure and the handle should be
// considered dead.
type Reader interface {
	ReadOne(ctx context.Context, timeout time.Duration) (string, error)
}

// Config carries the tunable framing constants.
type Config struct {
	// InterCharTimeout is the largest gap allowed between characters of one
	// scan. Partial input older than this is discarded as a stale attempt.
	InterCharTimeout time.Duration
	// Terminators are the bytes that end a scan on character streams.
	Terminators []byte
}

func (c Config) withDefaults() Config {
	if c.InterCharTimeout <= 0 {
		c.InterCharTimeout = 50 * time.Millisecond
	}
	if len(c.Terminators) == 0 {
		c.Terminators = []byte{'\r', '\n'}
	}
	return c
}

func (c Config) isTerminator(b byte) bool {
	for _, t := range c.Terminators {
		if b == t {
			return true
		}
	}
	return false
}

// New selects the reader implementation for the handle's device kind:
// raw HID report decoding for USB HID units, plain character framing for
// serial keyboard-wedge units.
func New(h device.Handle, cfg Config, logger *logrus.Logger) Reader {
	if h.Device().Kind == device.KindUSBHID {
		return NewRawHIDReader(h, cfg, logger)
	}
	return NewFocusedInputReader(h, cfg, logger)
}
