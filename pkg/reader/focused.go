package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dstanziola/copypoint-scanner/pkg/device"
)

// FocusedInputReader frames devices that already deliver decoded ASCII:
// serial scanners and HID units configured for keyboard-wedge mode. Bytes
// accumulate until a terminator; a terminator on an empty buffer is
// ignored so trailing CRLF pairs do not produce empty codes.
type FocusedInputReader struct {
	handle device.Handle
	cfg    Config
	logger *logrus.Logger

	buffer       []byte
	lastActivity time.Time
}

// NewFocusedInputReader wraps handle with character-stream framing.
func NewFocusedInputReader(h device.Handle, cfg Config, logger *logrus.Logger) *FocusedInputReader {
	return &FocusedInputReader{
		handle: h,
		cfg:    cfg.withDefaults(),
		logger: logger,
		buffer: make([]byte, 0, 64),
	}
}

// ReadOne implements Reader.
func (r *FocusedInputReader) ReadOne(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 64)

	for {
		select {
		case <-ctx.Done():
			return "", ErrCancelled
		default:
		}
		if !time.Now().Before(deadline) {
			return "", device.ErrReadTimeout
		}
		r.dropStaleInput()

		n, err := r.handle.Read(chunk)
		if err != nil {
			if errors.Is(err, device.ErrReadTimeout) {
				continue
			}
			return "", fmt.Errorf("scan read: %w", err)
		}

		// The gap may have opened while Read was blocked, so re-check
		// before folding the new bytes in.
		r.dropStaleInput()
		if code, done := r.consume(chunk[:n]); done {
			return code, nil
		}
	}
}

// consume folds freshly read bytes into the buffer and reports a completed
// code when a terminator is reached.
func (r *FocusedInputReader) consume(data []byte) (string, bool) {
	for i, b := range data {
		if r.cfg.isTerminator(b) {
			if len(r.buffer) == 0 {
				continue
			}
			code := string(r.buffer)
			r.buffer = r.buffer[:0]
			// Anything after the terminator belongs to the next scan and is
			// dropped; genuine scanners do not batch codes in one burst.
			if rest := len(data) - i - 1; rest > 0 {
				r.logger.Debugf("Discarding %d bytes trailing a terminator", rest)
			}
			return code, true
		}
		if b < 0x20 || b > 0x7e {
			// Control bytes such as STX/ETX framing from POS-configured
			// units carry no code content.
			continue
		}
		r.buffer = append(r.buffer, b)
		r.lastActivity = time.Now()
	}
	return "", false
}

// dropStaleInput resets partial input whose last character is older than
// the inter-character timeout, so a half-delivered scan cannot corrupt the
// next genuine one.
func (r *FocusedInputReader) dropStaleInput() {
	if len(r.buffer) > 0 && time.Since(r.lastActivity) > r.cfg.InterCharTimeout {
		r.logger.Debugf("Discarding %d bytes of stale partial input", len(r.buffer))
		r.buffer = r.buffer[:0]
	}
}
