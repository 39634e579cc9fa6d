package device

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/karalabe/hid"
)

const (
	usagePageGenericDesktop = 0x01
	usageKeyboard           = 0x06
)

// hidPlatform enumerates and opens USB HID devices. With an empty
// allow-list it accepts every keyboard-class device, which is how
// keyboard-wedge scanners present themselves.
type hidPlatform struct {
	allowList []VendorProduct
}

// NewHIDPlatform returns the USB HID platform filtered by allowList.
func NewHIDPlatform(allowList []VendorProduct) Platform {
	return &hidPlatform{allowList: allowList}
}

func (p *hidPlatform) Kind() Kind { return KindUSBHID }

func (p *hidPlatform) Enumerate() ([]Device, error) {
	infos := hid.Enumerate(0, 0)

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if !p.accepts(&info) {
			continue
		}
		devices = append(devices, Device{
			ID:           deviceID(KindUSBHID, info.VendorID, info.ProductID, info.Serial, info.Path),
			Kind:         KindUSBHID,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Manufacturer: strings.TrimSpace(info.Manufacturer),
			Product:      strings.TrimSpace(info.Product),
			Serial:       strings.TrimSpace(info.Serial),
			Path:         info.Path,
		})
	}
	return devices, nil
}

func (p *hidPlatform) accepts(info *hid.DeviceInfo) bool {
	if len(p.allowList) == 0 {
		return info.UsagePage == usagePageGenericDesktop && info.Usage == usageKeyboard
	}
	for _, vp := range p.allowList {
		if vp.Matches(info.VendorID, info.ProductID) {
			return true
		}
	}
	return false
}

func (p *hidPlatform) Open(d Device, readTimeout time.Duration) (Handle, error) {
	for _, info := range hid.Enumerate(d.VendorID, d.ProductID) {
		if info.Path != d.Path {
			continue
		}
		dev, err := info.Open()
		if err != nil {
			return nil, fmt.Errorf("open hid device %s: %w", d.Path, err)
		}
		return newHIDHandle(d, dev, readTimeout), nil
	}
	return nil, ErrDeviceNotFound
}

// blockingDevice is what hidapi gives us: reads block until a report
// arrives and only Close unblocks a pending read.
type blockingDevice interface {
	Read(b []byte) (int, error)
	Close() error
}

// hidHandle adapts hidapi's blocking reads to the Handle timeout contract.
// A dedicated goroutine performs the blocking reads and Read selects
// against its channels, so an idle scanner yields ErrReadTimeout instead
// of hanging the caller.
type hidHandle struct {
	device      Device
	dev         blockingDevice
	readTimeout time.Duration

	data   chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newHIDHandle(d Device, dev blockingDevice, readTimeout time.Duration) *hidHandle {
	h := &hidHandle{
		device:      d,
		dev:         dev,
		readTimeout: readTimeout,
		data:        make(chan []byte, 4),
		errs:        make(chan error, 1),
		closed:      make(chan struct{}),
	}
	go h.pump()
	return h
}

// pump runs the blocking hid reads until Close or a hardware error.
func (h *hidHandle) pump() {
	buffer := make([]byte, 64)
	for {
		n, err := h.dev.Read(buffer)
		if err != nil {
			// Some hidapi backends surface expired internal deadlines as
			// plain errors; those are idle polls, not failures.
			if strings.Contains(err.Error(), "timeout") {
				continue
			}
			select {
			case h.errs <- err:
			case <-h.closed:
			}
			return
		}
		if n == 0 {
			continue
		}
		report := make([]byte, n)
		copy(report, buffer[:n])
		select {
		case h.data <- report:
		case <-h.closed:
			return
		}
	}
}

func (h *hidHandle) Device() Device { return h.device }

func (h *hidHandle) Read(p []byte) (int, error) {
	select {
	case report := <-h.data:
		return copy(p, report), nil
	case err := <-h.errs:
		return 0, fmt.Errorf("hid read %s: %w", h.device.Path, err)
	case <-h.closed:
		return 0, fmt.Errorf("hid read %s: device closed", h.device.Path)
	case <-time.After(h.readTimeout):
		return 0, ErrReadTimeout
	}
}

// Close unblocks the pending hid read; the pump goroutine exits on the
// resulting error.
func (h *hidHandle) Close() error {
	var err error
	h.once.Do(func() {
		close(h.closed)
		err = h.dev.Close()
	})
	return err
}
