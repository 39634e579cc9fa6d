package reader

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dstanziola/copypoint-scanner/pkg/device"
)

type step struct {
	delay time.Duration
	data  []byte
	err   error
}

// scriptedHandle replays a fixed sequence of reads and then times out
// forever, imitating an idle device.
type scriptedHandle struct {
	device device.Device
	mutex  sync.Mutex
	steps  []step
	index  int
}

func newScriptedHandle(kind device.Kind, steps ...step) *scriptedHandle {
	return &scriptedHandle{
		device: device.Device{ID: "dev_test", Kind: kind},
		steps:  steps,
	}
}

func (h *scriptedHandle) Device() device.Device { return h.device }

func (h *scriptedHandle) Read(p []byte) (int, error) {
	h.mutex.Lock()
	if h.index >= len(h.steps) {
		h.mutex.Unlock()
		time.Sleep(5 * time.Millisecond)
		return 0, device.ErrReadTimeout
	}
	s := h.steps[h.index]
	h.index++
	h.mutex.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return 0, s.err
	}
	return copy(p, s.data), nil
}

func (h *scriptedHandle) Close() error { return nil }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestFocusedInputReader_FramesCodeAndStripsTerminator(t *testing.T) {
	h := newScriptedHandle(device.KindSerial, step{data: []byte("ABC123\r")})
	r := NewFocusedInputReader(h, Config{}, testLogger())

	code, err := r.ReadOne(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if code != "ABC123" {
		t.Errorf("Expected 'ABC123', got '%s'", code)
	}
}

func TestFocusedInputReader_CodeSplitAcrossReads(t *testing.T) {
	h := newScriptedHandle(device.KindSerial,
		step{data: []byte("400")},
		step{delay: 2 * time.Millisecond, data: []byte("6381")},
		step{delay: 2 * time.Millisecond, data: []byte("333931\r")},
	)
	r := NewFocusedInputReader(h, Config{InterCharTimeout: 50 * time.Millisecond}, testLogger())

	code, err := r.ReadOne(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if code != "4006381333931" {
		t.Errorf("Expected '4006381333931', got '%s'", code)
	}
}

func TestFocusedInputReader_TerminatorOnEmptyBufferIgnored(t *testing.T) {
	h := newScriptedHandle(device.KindSerial,
		step{data: []byte("\r\n")},
		step{data: []byte("ABC\r\n")},
	)
	r := NewFocusedInputReader(h, Config{}, testLogger())

	code, err := r.ReadOne(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if code != "ABC" {
		t.Errorf("Expected 'ABC', got '%s'", code)
	}
}

func TestFocusedInputReader_IdleYieldsTimeoutNotIOError(t *testing.T) {
	h := newScriptedHandle(device.KindSerial)
	r := NewFocusedInputReader(h, Config{}, testLogger())

	_, err := r.ReadOne(context.Background(), 30*time.Millisecond)
	if !errors.Is(err, device.ErrReadTimeout) {
		t.Fatalf("Expected ErrReadTimeout, got: %v", err)
	}
}

func TestFocusedInputReader_IOErrorPropagates(t *testing.T) {
	h := newScriptedHandle(device.KindSerial, step{err: io.ErrUnexpectedEOF})
	r := NewFocusedInputReader(h, Config{}, testLogger())

	_, err := r.ReadOne(context.Background(), time.Second)
	if err == nil {
		t.Fatal("Expected an error")
	}
	if errors.Is(err, device.ErrReadTimeout) {
		t.Fatal("Expected a hardware error, got a timeout")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Expected wrapped io error, got: %v", err)
	}
}

func TestFocusedInputReader_StalePartialInputDiscarded(t *testing.T) {
	h := newScriptedHandle(device.KindSerial,
		step{data: []byte("OLD")},
		step{delay: 60 * time.Millisecond, data: []byte("NEW\r")},
	)
	r := NewFocusedInputReader(h, Config{InterCharTimeout: 20 * time.Millisecond}, testLogger())

	code, err := r.ReadOne(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if code != "NEW" {
		t.Errorf("Expected stale partial input to be dropped, got '%s'", code)
	}
}

func TestFocusedInputReader_GapSeparatedScansAreNotConcatenated(t *testing.T) {
	h := newScriptedHandle(device.KindSerial,
		step{data: []byte("111\r")},
		step{delay: 60 * time.Millisecond, data: []byte("222\r")},
	)
	r := NewFocusedInputReader(h, Config{InterCharTimeout: 20 * time.Millisecond}, testLogger())

	first, err := r.ReadOne(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.ReadOne(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if first != "111" || second != "222" {
		t.Errorf("Expected codes '111' and '222', got '%s' and '%s'", first, second)
	}
}

func TestFocusedInputReader_CancelReturnsPromptly(t *testing.T) {
	h := newScriptedHandle(device.KindSerial)
	r := NewFocusedInputReader(h, Config{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.ReadOne(ctx, 10*time.Second)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Expected prompt cancellation, took %v", elapsed)
	}
}

func TestNew_SelectsReaderByKind(t *testing.T) {
	serial := newScriptedHandle(device.KindSerial)
	if _, ok := New(serial, Config{}, testLogger()).(*FocusedInputReader); !ok {
		t.Error("Expected FocusedInputReader for serial devices")
	}

	hid := newScriptedHandle(device.KindUSBHID)
	if _, ok := New(hid, Config{}, testLogger()).(*RawHIDReader); !ok {
		t.Error("Expected RawHIDReader for USB HID devices")
	}
}
