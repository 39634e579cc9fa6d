package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures registry behavior.
type Options struct {
	// ReadTimeout bounds a single Read on handles opened by Connect.
	ReadTimeout time.Duration
	// GracePeriod is how long a discovered but unconnected device may stay
	// absent from discovery before it is dropped from the registry.
	GracePeriod time.Duration
}

// Registry tracks scanning hardware across both platforms: it discovers
// devices, assigns stable ids, owns the open handles and enforces that each
// device is connected at most once by this process.
type Registry struct {
	platforms []Platform
	opts      Options
	logger    *logrus.Logger

	mutex   sync.RWMutex
	devices map[string]*Device
	handles map[string]Handle
}

// NewRegistry creates a registry over the given platforms.
func NewRegistry(logger *logrus.Logger, opts Options, platforms ...Platform) *Registry {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 200 * time.Millisecond
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 5 * time.Second
	}
	return &Registry{
		platforms: platforms,
		opts:      opts,
		logger:    logger,
		devices:   make(map[string]*Device),
		handles:   make(map[string]Handle),
	}
}

// Discover re-enumerates every platform and reconciles the registry:
// new devices enter as DISCOVERED, connected devices that vanished are
// marked ERROR, and unconnected devices absent longer than the grace
// period are dropped. No connections are opened.
func (r *Registry) Discover() ([]Device, error) {
	seen := make(map[string]Device)
	for _, platform := range r.platforms {
		devices, err := platform.Enumerate()
		if err != nil {
			r.logger.Warnf("Enumeration failed for %s devices: %v", platform.Kind(), err)
			continue
		}
		for _, d := range devices {
			seen[d.ID] = d
		}
	}

	now := time.Now()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	for id, found := range seen {
		if existing, ok := r.devices[id]; ok {
			existing.LastSeen = now
			if existing.State == StateError && !r.isConnectedLocked(id) {
				// The unit came back after a failure; it can be reconnected.
				existing.State = StateDiscovered
			}
			continue
		}
		d := found
		d.State = StateDiscovered
		d.LastSeen = now
		r.devices[id] = &d
		r.logger.Infof("Discovered scanner device: %s", d.String())
	}

	for id, d := range r.devices {
		if _, ok := seen[id]; ok {
			continue
		}
		if r.isConnectedLocked(id) {
			if d.State != StateError {
				d.State = StateError
				r.logger.Warnf("Connected device vanished: %s", d.String())
			}
			continue
		}
		if now.Sub(d.LastSeen) > r.opts.GracePeriod {
			delete(r.devices, id)
			r.logger.Debugf("Dropped stale device %s (%s)", id, d.Product)
		}
	}

	return r.snapshotLocked(), nil
}

// Connect opens a handle for the device. It fails with ErrDeviceBusy if
// this process already holds one, and ErrDeviceNotFound for stale ids.
func (r *Registry) Connect(id string) (Handle, error) {
	r.mutex.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mutex.Unlock()
		return nil, fmt.Errorf("connect %s: %w", id, ErrDeviceNotFound)
	}
	if _, connected := r.handles[id]; connected {
		r.mutex.Unlock()
		return nil, fmt.Errorf("connect %s: %w", id, ErrDeviceBusy)
	}
	target := *d
	platform, err := r.platformFor(target.Kind)
	r.mutex.Unlock()
	if err != nil {
		return nil, err
	}

	// The open itself happens outside the lock: it can take hardware time.
	handle, err := platform.Open(target, r.opts.ReadTimeout)
	if err != nil {
		r.setState(id, StateError)
		return nil, fmt.Errorf("connect %s: %w", id, err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, connected := r.handles[id]; connected {
		// Lost the race against a concurrent Connect.
		_ = handle.Close()
		return nil, fmt.Errorf("connect %s: %w", id, ErrDeviceBusy)
	}
	r.handles[id] = handle
	if d, ok := r.devices[id]; ok {
		d.State = StateConnected
	}
	r.logger.Infof("Connected to device %s", target.String())
	return handle, nil
}

// Disconnect closes the device's handle. Calling it for a device that is
// not connected is not an error.
func (r *Registry) Disconnect(id string) error {
	r.mutex.Lock()
	handle, ok := r.handles[id]
	delete(r.handles, id)
	if d, exists := r.devices[id]; exists && d.State == StateConnected {
		d.State = StateDisconnected
	}
	r.mutex.Unlock()

	if !ok {
		return nil
	}
	if err := handle.Close(); err != nil {
		r.logger.Warnf("Error closing device %s: %v", id, err)
		return fmt.Errorf("disconnect %s: %w", id, err)
	}
	r.logger.Infof("Disconnected device %s", id)
	return nil
}

// DisconnectAll closes every open handle, typically during shutdown.
func (r *Registry) DisconnectAll() {
	r.mutex.RLock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mutex.RUnlock()

	for _, id := range ids {
		_ = r.Disconnect(id)
	}
}

// Fail records a hardware-level failure: the handle is closed and the
// device is parked in ERROR until discovery sees it again.
func (r *Registry) Fail(id string) {
	r.mutex.Lock()
	handle, ok := r.handles[id]
	delete(r.handles, id)
	if d, exists := r.devices[id]; exists {
		d.State = StateError
	}
	r.mutex.Unlock()

	if ok {
		_ = handle.Close()
	}
	r.logger.Warnf("Device %s marked failed", id)
}

// Handle returns the open handle for a connected device.
func (r *Registry) Handle(id string) (Handle, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	handle, ok := r.handles[id]
	return handle, ok
}

// IsConnected reports whether this process holds a handle for the device.
func (r *Registry) IsConnected(id string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.isConnectedLocked(id)
}

// List returns a snapshot of every tracked device. Safe to call
// concurrently with Discover and Connect.
func (r *Registry) List() []Device {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.snapshotLocked()
}

// Get returns the tracked device for id.
func (r *Registry) Get(id string) (Device, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return *d, nil
}

// Stats summarizes the registry for diagnostics.
type Stats struct {
	TotalDetected  int
	TotalConnected int
	Manufacturers  map[string]int
}

func (r *Registry) Stats() Stats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := Stats{
		TotalDetected:  len(r.devices),
		TotalConnected: len(r.handles),
		Manufacturers:  make(map[string]int),
	}
	for _, d := range r.devices {
		manufacturer := d.Manufacturer
		if manufacturer == "" {
			manufacturer = "Unknown"
		}
		stats.Manufacturers[manufacturer]++
	}
	return stats
}

func (r *Registry) setState(id string, state State) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if d, ok := r.devices[id]; ok {
		d.State = state
	}
}

func (r *Registry) platformFor(kind Kind) (Platform, error) {
	for _, platform := range r.platforms {
		if platform.Kind() == kind {
			return platform, nil
		}
	}
	return nil, fmt.Errorf("no platform for device kind %q", kind)
}

func (r *Registry) isConnectedLocked(id string) bool {
	_, ok := r.handles[id]
	return ok
}

func (r *Registry) snapshotLocked() []Device {
	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, *d)
	}
	return devices
}
