package barcode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dstanziola/copypoint-scanner/pkg/device"
	"github.com/dstanziola/copypoint-scanner/pkg/reader"
)

// Config carries the scan-loop tunables.
type Config struct {
	// ReadTimeout bounds one ReadOne attempt of a scan worker.
	ReadTimeout time.Duration
	// InterCharTimeout is the largest allowed gap inside one scan.
	InterCharTimeout time.Duration
	// Terminators are the bytes ending a scan on character streams.
	Terminators []byte
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 200 * time.Millisecond
	}
	if c.InterCharTimeout <= 0 {
		c.InterCharTimeout = 50 * time.Millisecond
	}
	return c
}

// session is one device being actively read, either by a background listen
// worker or a synchronous read. It exclusively owns the device's handle.
type session struct {
	device device.Device
	cancel context.CancelFunc
	done   chan struct{}
}

// Coordinator is the façade business logic talks to. It owns at most one
// scan session per connected device; the session map is the only shared
// state and its mutex is never held across a blocking read.
type Coordinator struct {
	registry *device.Registry
	lookup   ProductLookup
	cfg      Config
	logger   *logrus.Logger

	mutex    sync.Mutex
	sessions map[string]*session
}

// NewCoordinator wires the coordinator to its collaborators. lookup may be
// nil when the composition root provides no product catalog; Resolve then
// fails with ErrNoLookup.
func NewCoordinator(registry *device.Registry, lookup ProductLookup, cfg Config, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		registry: registry,
		lookup:   lookup,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// AutoConnect discovers devices and connects the first available one,
// unless one is already connected. Callers that do not care which physical
// scanner is used start here.
func (c *Coordinator) AutoConnect() (device.Device, error) {
	for _, d := range c.registry.List() {
		if d.State == device.StateConnected {
			return d, nil
		}
	}

	devices, err := c.registry.Discover()
	if err != nil {
		return device.Device{}, err
	}
	for _, d := range devices {
		if d.State != device.StateDiscovered && d.State != device.StateDisconnected {
			continue
		}
		if _, err := c.registry.Connect(d.ID); err != nil {
			c.logger.Debugf("Auto-connect skipping %s: %v", d.ID, err)
			continue
		}
		connected, err := c.registry.Get(d.ID)
		if err != nil {
			continue
		}
		c.logger.Infof("Auto-connected to scanner %s", connected.String())
		return connected, nil
	}
	return device.Device{}, ErrNoDeviceFound
}

// StartListening launches the background scan loop for the device. Each
// validated read is delivered to onScan in physical order; validation
// failures and the single fatal I/O error go to onError. An I/O error ends
// the loop; the caller may start again once the registry reports the
// device back.
func (c *Coordinator) StartListening(deviceID string, onScan func(ScannedCode), onError func(error)) error {
	if onScan == nil {
		return fmt.Errorf("start listening on %s: onScan callback is required", deviceID)
	}
	handle, s, ctx, err := c.acquire(context.Background(), deviceID)
	if err != nil {
		return err
	}

	rd := reader.New(handle, c.readerConfig(), c.logger)

	go c.listen(ctx, s, rd, onScan, onError)
	c.logger.Infof("Listening for scans on device %s", deviceID)
	return nil
}

func (c *Coordinator) listen(ctx context.Context, s *session, rd reader.Reader, onScan func(ScannedCode), onError func(error)) {
	defer close(s.done)

	for {
		raw, err := rd.ReadOne(ctx, c.cfg.ReadTimeout)
		switch {
		case err == nil:
			code, verr := c.validateFor(s.device.ID, raw)
			if verr != nil {
				c.logger.Debugf("Rejected scan from %s: %v", s.device.ID, verr)
				if onError != nil {
					onError(verr)
				}
				continue
			}
			onScan(code)

		case errors.Is(err, device.ErrReadTimeout):
			// Normal idle poll, keep listening.

		case errors.Is(err, reader.ErrCancelled) || ctx.Err() != nil:
			return

		default:
			// Hardware failure: report once, park the device in ERROR and
			// end this session. The registry watch notices reconnection.
			c.logger.Errorf("Scan loop failed on %s: %v", s.device.ID, err)
			c.registry.Fail(s.device.ID)
			c.release(s.device.ID, s)
			if onError != nil {
				onError(err)
			}
			return
		}
	}
}

// StopListening ends the device's scan loop and releases the session. It
// is safe to call when nothing is listening. The worker's pending read
// finishes first, so returning takes up to one read timeout; afterwards no
// further onScan calls occur.
func (c *Coordinator) StopListening(deviceID string) {
	c.mutex.Lock()
	s, ok := c.sessions[deviceID]
	if ok {
		delete(c.sessions, deviceID)
	}
	c.mutex.Unlock()
	if !ok {
		return
	}

	s.cancel()
	<-s.done
	c.logger.Infof("Stopped listening on device %s", deviceID)
}

// StopAll ends every active session, typically during shutdown.
func (c *Coordinator) StopAll() {
	c.mutex.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mutex.Unlock()

	for _, id := range ids {
		c.StopListening(id)
	}
}

// ListeningOn reports whether a scan loop is active for the device.
func (c *Coordinator) ListeningOn(deviceID string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.sessions[deviceID]
	return ok
}

// ActiveSessions returns the ids of devices with running sessions.
func (c *Coordinator) ActiveSessions() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ReadSync performs one blocking validated read, for call sites like a
// "scan now" button. Cancelling ctx aborts the wait promptly with
// reader.ErrCancelled, as does StopListening on the same device; an idle
// device yields device.ErrReadTimeout.
func (c *Coordinator) ReadSync(ctx context.Context, deviceID string, timeout time.Duration) (ScannedCode, error) {
	handle, s, readCtx, err := c.acquire(ctx, deviceID)
	if err != nil {
		return ScannedCode{}, err
	}
	defer func() {
		s.cancel()
		close(s.done)
		c.release(deviceID, s)
	}()

	rd := reader.New(handle, c.readerConfig(), c.logger)
	raw, err := rd.ReadOne(readCtx, timeout)
	if err != nil {
		if !errors.Is(err, device.ErrReadTimeout) && !errors.Is(err, reader.ErrCancelled) {
			c.registry.Fail(deviceID)
		}
		return ScannedCode{}, err
	}
	return c.validateFor(deviceID, raw)
}

// ValidateAndFormat exposes validation for codes that arrive outside the
// hardware path, such as manual entry.
func (c *Coordinator) ValidateAndFormat(raw string) (ScannedCode, error) {
	return ValidateAndFormat(raw)
}

// Resolve forwards to the injected ProductLookup. It performs no hardware
// I/O and is safe from any goroutine.
func (c *Coordinator) Resolve(ctx context.Context, code ScannedCode) (*Product, error) {
	if c.lookup == nil {
		return nil, ErrNoLookup
	}
	product, err := c.lookup.FindByCode(ctx, code.Normalized)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", code.Normalized, err)
	}
	return product, nil
}

// ReadAndResolve combines ReadSync and Resolve, mirroring the common
// "scan and look up" flow of sales and inventory entry.
func (c *Coordinator) ReadAndResolve(ctx context.Context, deviceID string, timeout time.Duration) (ScannedCode, *Product, error) {
	code, err := c.ReadSync(ctx, deviceID, timeout)
	if err != nil {
		return ScannedCode{}, nil, err
	}
	product, err := c.Resolve(ctx, code)
	if err != nil {
		return code, nil, err
	}
	return code, product, nil
}

// acquire registers a session for the device and returns its handle and
// read context, connecting first if needed. The session guarantees
// exclusive use of the handle; a second acquire fails with
// device.ErrDeviceBusy. The session is published fully armed: its cancel
// is set before it enters the map, so a StopListening racing the connect
// finds a working session, never a nil cancel.
func (c *Coordinator) acquire(parent context.Context, deviceID string) (device.Handle, *session, context.Context, error) {
	c.mutex.Lock()
	if _, busy := c.sessions[deviceID]; busy {
		c.mutex.Unlock()
		return nil, nil, nil, fmt.Errorf("session for %s: %w", deviceID, device.ErrDeviceBusy)
	}
	// Reserve the slot before touching hardware so a concurrent acquire
	// cannot slip in while the connect is in flight.
	ctx, cancel := context.WithCancel(parent)
	s := &session{cancel: cancel, done: make(chan struct{})}
	c.sessions[deviceID] = s
	c.mutex.Unlock()

	handle, ok := c.registry.Handle(deviceID)
	if !ok {
		var err error
		handle, err = c.registry.Connect(deviceID)
		if err != nil {
			c.abort(deviceID, s)
			return nil, nil, nil, err
		}
	}

	d, err := c.registry.Get(deviceID)
	if err != nil {
		c.abort(deviceID, s)
		return nil, nil, nil, err
	}
	s.device = d
	return handle, s, ctx, nil
}

// abort releases a session whose read loop never started. Closing done
// wakes a StopListening that raced in while the connect was in flight.
func (c *Coordinator) abort(deviceID string, s *session) {
	s.cancel()
	close(s.done)
	c.release(deviceID, s)
}

// release removes the session if it is still the registered one.
func (c *Coordinator) release(deviceID string, s *session) {
	c.mutex.Lock()
	if current, ok := c.sessions[deviceID]; ok && current == s {
		delete(c.sessions, deviceID)
	}
	c.mutex.Unlock()
}

func (c *Coordinator) validateFor(deviceID, raw string) (ScannedCode, error) {
	code, err := ValidateAndFormat(raw)
	if err != nil {
		return ScannedCode{}, err
	}
	code.DeviceID = deviceID
	return code, nil
}

func (c *Coordinator) readerConfig() reader.Config {
	return reader.Config{
		InterCharTimeout: c.cfg.InterCharTimeout,
		Terminators:      c.cfg.Terminators,
	}
}
