package barcode

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dstanziola/copypoint-scanner/pkg/device"
	"github.com/dstanziola/copypoint-scanner/pkg/reader"
)

// pipeHandle is a device handle fed from the test goroutine. An empty pipe
// behaves like an idle scanner and reports read timeouts.
type pipeHandle struct {
	dev  device.Device
	data chan []byte
	errs chan error

	mutex  sync.Mutex
	closed bool
}

func newPipeHandle(dev device.Device) *pipeHandle {
	return &pipeHandle{
		dev:  dev,
		data: make(chan []byte, 16),
		errs: make(chan error, 1),
	}
}

func (h *pipeHandle) Device() device.Device { return h.dev }

func (h *pipeHandle) Read(p []byte) (int, error) {
	select {
	case b := <-h.data:
		return copy(p, b), nil
	case err := <-h.errs:
		return 0, err
	case <-time.After(5 * time.Millisecond):
		return 0, device.ErrReadTimeout
	}
}

func (h *pipeHandle) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.closed = true
	return nil
}

func (h *pipeHandle) isClosed() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.closed
}

type fakePlatform struct {
	mutex     sync.Mutex
	devices   []device.Device
	handles   map[string]*pipeHandle
	openErr   error
	openDelay time.Duration
}

func newFakePlatform(devices ...device.Device) *fakePlatform {
	return &fakePlatform{
		devices: devices,
		handles: make(map[string]*pipeHandle),
	}
}

func (p *fakePlatform) Kind() device.Kind { return device.KindSerial }

func (p *fakePlatform) Enumerate() ([]device.Device, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	out := make([]device.Device, len(p.devices))
	copy(out, p.devices)
	return out, nil
}

func (p *fakePlatform) Open(d device.Device, _ time.Duration) (device.Handle, error) {
	p.mutex.Lock()
	delay := p.openDelay
	openErr := p.openErr
	p.mutex.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if openErr != nil {
		return nil, openErr
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	h := newPipeHandle(d)
	p.handles[d.ID] = h
	return h, nil
}

func (p *fakePlatform) handleFor(id string) *pipeHandle {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.handles[id]
}

type fakeLookup struct {
	products map[string]*Product
}

func (l *fakeLookup) FindByCode(_ context.Context, code string) (*Product, error) {
	if p, ok := l.products[code]; ok {
		return p, nil
	}
	return nil, ErrProductNotFound
}

func serialDevice(id string) device.Device {
	return device.Device{
		ID:       id,
		Kind:     device.KindSerial,
		VendorID: 0x05E0,
		Product:  "Test Scanner",
		Path:     "/dev/ttyUSB0",
		State:    device.StateDiscovered,
	}
}

func newTestCoordinator(t *testing.T, lookup ProductLookup, devices ...device.Device) (*Coordinator, *fakePlatform) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	platform := newFakePlatform(devices...)
	registry := device.NewRegistry(logger, device.Options{
		ReadTimeout: 20 * time.Millisecond,
		GracePeriod: time.Second,
	}, platform)
	if _, err := registry.Discover(); err != nil {
		t.Fatalf("discover: %v", err)
	}

	c := NewCoordinator(registry, lookup, Config{
		ReadTimeout:      50 * time.Millisecond,
		InterCharTimeout: 30 * time.Millisecond,
	}, logger)
	t.Cleanup(c.StopAll)
	return c, platform
}

func waitForScan(t *testing.T, scans <-chan ScannedCode) ScannedCode {
	t.Helper()
	select {
	case code := <-scans:
		return code
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a scan")
		return ScannedCode{}
	}
}

func waitForError(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for an error")
		return nil
	}
}

func TestStartListening_DeliversValidatedScans(t *testing.T) {
	c, platform := newTestCoordinator(t, nil, serialDevice("dev_1"))

	scans := make(chan ScannedCode, 4)
	require.NoError(t, c.StartListening("dev_1", func(code ScannedCode) { scans <- code }, nil))
	assert.True(t, c.ListeningOn("dev_1"))

	platform.handleFor("dev_1").data <- []byte("4006381333931\r")
	code := waitForScan(t, scans)
	assert.Equal(t, FormatEAN13, code.Format)
	assert.Equal(t, "4006381333931", code.Normalized)
	assert.Equal(t, "dev_1", code.DeviceID)
}

func TestStartListening_RejectsInvalidCodeAndKeepsListening(t *testing.T) {
	c, platform := newTestCoordinator(t, nil, serialDevice("dev_1"))

	scans := make(chan ScannedCode, 4)
	errs := make(chan error, 4)
	require.NoError(t, c.StartListening("dev_1",
		func(code ScannedCode) { scans <- code },
		func(err error) { errs <- err },
	))

	h := platform.handleFor("dev_1")
	h.data <- []byte("4006381333932\r") // bad check digit

	var verr *ValidationError
	require.ErrorAs(t, waitForError(t, errs), &verr)
	assert.Equal(t, "checksum", verr.Reason)

	// The loop survives the rejection.
	h.data <- []byte("96385074\r")
	code := waitForScan(t, scans)
	assert.Equal(t, FormatEAN8, code.Format)
}

func TestStartListening_IOErrorEndsSessionOnce(t *testing.T) {
	c, platform := newTestCoordinator(t, nil, serialDevice("dev_1"))

	scans := make(chan ScannedCode, 4)
	errs := make(chan error, 4)
	require.NoError(t, c.StartListening("dev_1",
		func(code ScannedCode) { scans <- code },
		func(err error) { errs <- err },
	))

	h := platform.handleFor("dev_1")
	h.errs <- io.ErrUnexpectedEOF

	err := waitForError(t, errs)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// Exactly one error, no scans, session gone, device parked in ERROR.
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, errs)
	assert.Empty(t, scans)
	assert.False(t, c.ListeningOn("dev_1"))
	assert.True(t, h.isClosed())

	d, getErr := c.registry.Get("dev_1")
	require.NoError(t, getErr)
	assert.Equal(t, device.StateError, d.State)
}

func TestStartListening_SecondSessionIsBusy(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"))

	require.NoError(t, c.StartListening("dev_1", func(ScannedCode) {}, nil))
	err := c.StartListening("dev_1", func(ScannedCode) {}, nil)
	assert.ErrorIs(t, err, device.ErrDeviceBusy)
}

func TestStartListening_RequiresScanCallback(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"))
	assert.Error(t, c.StartListening("dev_1", nil, nil))
	assert.False(t, c.ListeningOn("dev_1"))
}

func TestStopListening_ReturnsWithinReadTimeout(t *testing.T) {
	c, platform := newTestCoordinator(t, nil, serialDevice("dev_1"))

	scans := make(chan ScannedCode, 4)
	require.NoError(t, c.StartListening("dev_1", func(code ScannedCode) { scans <- code }, nil))

	start := time.Now()
	c.StopListening("dev_1")
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.False(t, c.ListeningOn("dev_1"))

	// Data arriving after the stop must not surface.
	platform.handleFor("dev_1").data <- []byte("96385074\r")
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, scans)
}

func TestStopListening_DuringSlowConnectIsSafe(t *testing.T) {
	c, platform := newTestCoordinator(t, nil, serialDevice("dev_1"))
	platform.mutex.Lock()
	platform.openDelay = 200 * time.Millisecond
	platform.mutex.Unlock()

	scans := make(chan ScannedCode, 4)
	startDone := make(chan error, 1)
	go func() {
		startDone <- c.StartListening("dev_1", func(code ScannedCode) { scans <- code }, nil)
	}()

	// Hit the window where the session exists but the connect is still
	// in flight.
	time.Sleep(50 * time.Millisecond)
	c.StopListening("dev_1")

	select {
	case err := <-startDone:
		if err != nil {
			t.Fatalf("Expected StartListening to succeed, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StartListening did not return")
	}

	assert.False(t, c.ListeningOn("dev_1"))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, scans)
}

func TestStopListening_DuringFailedConnectDoesNotHang(t *testing.T) {
	c, platform := newTestCoordinator(t, nil, serialDevice("dev_1"))
	platform.mutex.Lock()
	platform.openDelay = 200 * time.Millisecond
	platform.openErr = io.ErrUnexpectedEOF
	platform.mutex.Unlock()

	startDone := make(chan error, 1)
	go func() {
		startDone <- c.StartListening("dev_1", func(ScannedCode) {}, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	stopDone := make(chan struct{})
	go func() {
		c.StopListening("dev_1")
		close(stopDone)
	}()

	select {
	case err := <-startDone:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StartListening did not return")
	}
	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("StopListening did not return")
	}
	assert.False(t, c.ListeningOn("dev_1"))
}

func TestStopListening_AbortsSyncRead(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"))

	readDone := make(chan error, 1)
	go func() {
		_, err := c.ReadSync(context.Background(), "dev_1", 10*time.Second)
		readDone <- err
	}()

	// Wait for the sync read's session to appear, then stop it.
	deadline := time.Now().Add(time.Second)
	for !c.ListeningOn("dev_1") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, c.ListeningOn("dev_1"))

	start := time.Now()
	c.StopListening("dev_1")

	select {
	case err := <-readDone:
		assert.ErrorIs(t, err, reader.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadSync still blocked after StopListening")
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, c.ListeningOn("dev_1"))
}

func TestStopListening_WithoutSessionIsNoop(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"))
	c.StopListening("dev_1")
	c.StopListening("does_not_exist")
}

func TestStopAll_EndsEverySession(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"), serialDevice("dev_2"))

	require.NoError(t, c.StartListening("dev_1", func(ScannedCode) {}, nil))
	require.NoError(t, c.StartListening("dev_2", func(ScannedCode) {}, nil))
	assert.Len(t, c.ActiveSessions(), 2)

	c.StopAll()
	assert.Empty(t, c.ActiveSessions())
}

func TestReadSync_ReturnsOneValidatedCode(t *testing.T) {
	c, platform := newTestCoordinator(t, nil, serialDevice("dev_1"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		platform.handleFor("dev_1").data <- []byte("012345678905\r")
	}()

	code, err := c.ReadSync(context.Background(), "dev_1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, FormatUPCA, code.Format)
	assert.Equal(t, "dev_1", code.DeviceID)
	assert.False(t, c.ListeningOn("dev_1"))
}

func TestReadSync_WhileListeningIsBusy(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"))

	require.NoError(t, c.StartListening("dev_1", func(ScannedCode) {}, nil))
	_, err := c.ReadSync(context.Background(), "dev_1", 50*time.Millisecond)
	assert.ErrorIs(t, err, device.ErrDeviceBusy)
}

func TestReadSync_IdleDeviceTimesOut(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"))

	_, err := c.ReadSync(context.Background(), "dev_1", 50*time.Millisecond)
	assert.ErrorIs(t, err, device.ErrReadTimeout)
	assert.False(t, c.ListeningOn("dev_1"))
}

func TestReadSync_CancelAbortsWait(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.ReadSync(ctx, "dev_1", 10*time.Second)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestReadSync_UnknownDevice(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"))

	_, err := c.ReadSync(context.Background(), "dev_unknown", 50*time.Millisecond)
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)
}

func TestAutoConnect_PicksFirstAvailableDevice(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"))

	d, err := c.AutoConnect()
	require.NoError(t, err)
	assert.Equal(t, "dev_1", d.ID)
	assert.Equal(t, device.StateConnected, d.State)

	// A second call reuses the connected device.
	again, err := c.AutoConnect()
	require.NoError(t, err)
	assert.Equal(t, d.ID, again.ID)
}

func TestAutoConnect_NoHardware(t *testing.T) {
	c, _ := newTestCoordinator(t, nil)

	_, err := c.AutoConnect()
	assert.ErrorIs(t, err, ErrNoDeviceFound)
}

func TestResolve_LookupOutcomes(t *testing.T) {
	lookup := &fakeLookup{products: map[string]*Product{
		"4006381333931": {Code: "4006381333931", Name: "Stabilo Pen", Price: 1.95},
	}}
	c, _ := newTestCoordinator(t, lookup, serialDevice("dev_1"))

	product, err := c.Resolve(context.Background(), ScannedCode{Normalized: "4006381333931"})
	require.NoError(t, err)
	assert.Equal(t, "Stabilo Pen", product.Name)

	_, err = c.Resolve(context.Background(), ScannedCode{Normalized: "96385074"})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestResolve_WithoutLookup(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"))

	_, err := c.Resolve(context.Background(), ScannedCode{Normalized: "96385074"})
	assert.ErrorIs(t, err, ErrNoLookup)
}

func TestReadAndResolve_ScanAndLookUp(t *testing.T) {
	lookup := &fakeLookup{products: map[string]*Product{
		"96385074": {Code: "96385074", Name: "Copy Paper A4", Price: 4.50},
	}}
	c, platform := newTestCoordinator(t, lookup, serialDevice("dev_1"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		platform.handleFor("dev_1").data <- []byte("96385074\r")
	}()

	code, product, err := c.ReadAndResolve(context.Background(), "dev_1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, FormatEAN8, code.Format)
	require.NotNil(t, product)
	assert.Equal(t, "Copy Paper A4", product.Name)
}

func TestValidateAndFormat_Method(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, serialDevice("dev_1"))

	code, err := c.ValidateAndFormat("012345678905")
	require.NoError(t, err)
	assert.Equal(t, FormatUPCA, code.Format)

	_, err = c.ValidateAndFormat("")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}
