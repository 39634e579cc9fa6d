package reader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dstanziola/copypoint-scanner/pkg/device"
)

// hidReportSize is the standard boot-protocol keyboard report:
// [modifier, reserved, key1..key6].
const hidReportSize = 8

// RawHIDReader frames devices that deliver raw HID keyboard reports
// instead of a character stream, decoding usage ids through the US keymap.
type RawHIDReader struct {
	handle device.Handle
	cfg    Config
	logger *logrus.Logger

	buffer       []byte
	lastActivity time.Time
}

// NewRawHIDReader wraps handle with HID report decoding and framing.
func NewRawHIDReader(h device.Handle, cfg Config, logger *logrus.Logger) *RawHIDReader {
	return &RawHIDReader{
		handle: h,
		cfg:    cfg.withDefaults(),
		logger: logger,
		buffer: make([]byte, 0, 64),
	}
}

// ReadOne implements Reader.
func (r *RawHIDReader) ReadOne(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	report := make([]byte, 64)

	for {
		select {
		case <-ctx.Done():
			return "", ErrCancelled
		default:
		}
		if !time.Now().Before(deadline) {
			return "", device.ErrReadTimeout
		}

		n, err := r.handle.Read(report)
		if err != nil {
			if errors.Is(err, device.ErrReadTimeout) {
				r.dropStaleInput()
				continue
			}
			return "", fmt.Errorf("hid scan read: %w", err)
		}
		r.dropStaleInput()

		if code, done := r.decodeReport(report[:n]); done {
			return code, nil
		}
	}
}

// decodeReport extracts characters from one keyboard report and reports a
// completed code when an Enter/Tab usage ends the scan. Key-release
// reports (all zero) carry nothing and are skipped.
func (r *RawHIDReader) decodeReport(report []byte) (string, bool) {
	if len(report) < 3 || isAllZeros(report) {
		return "", false
	}

	modifier := report[0]
	end := min(len(report), hidReportSize)
	for i := 2; i < end; i++ {
		keyCode := report[i]
		if keyCode == 0 {
			continue
		}
		if isTerminatorKey(keyCode) {
			if len(r.buffer) == 0 {
				continue
			}
			code := string(r.buffer)
			r.buffer = r.buffer[:0]
			return code, true
		}
		if char := keyCodeToChar(keyCode, modifier); char != 0 {
			r.buffer = append(r.buffer, char)
			r.lastActivity = time.Now()
		}
	}
	return "", false
}

func (r *RawHIDReader) dropStaleInput() {
	if len(r.buffer) > 0 && time.Since(r.lastActivity) > r.cfg.InterCharTimeout {
		r.logger.Debugf("Discarding %d chars of stale partial input", len(r.buffer))
		r.buffer = r.buffer[:0]
	}
}

func isAllZeros(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
