package device

import (
	"fmt"
	"strconv"

	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// serialPlatform enumerates USB serial adapters, which is how RS-232
// scanners show up. Non-USB ports are skipped: without vendor/product
// metadata there is no way to tell a scanner from a modem.
type serialPlatform struct {
	allowList []VendorProduct
	baudRate  int
}

// NewSerialPlatform returns the serial-port platform filtered by allowList
// and opening ports at baudRate.
func NewSerialPlatform(allowList []VendorProduct, baudRate int) Platform {
	return &serialPlatform{allowList: allowList, baudRate: baudRate}
}

func (p *serialPlatform) Kind() Kind { return KindSerial }

func (p *serialPlatform) Enumerate() ([]Device, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	devices := make([]Device, 0, len(ports))
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		vendorID := parseUSBID(port.VID)
		productID := parseUSBID(port.PID)
		if !p.accepts(vendorID, productID) {
			continue
		}
		devices = append(devices, Device{
			ID:        deviceID(KindSerial, vendorID, productID, port.SerialNumber, port.Name),
			Kind:      KindSerial,
			VendorID:  vendorID,
			ProductID: productID,
			Serial:    port.SerialNumber,
			Path:      port.Name,
		})
	}
	return devices, nil
}

func (p *serialPlatform) accepts(vendorID, productID uint16) bool {
	if len(p.allowList) == 0 {
		return true
	}
	for _, vp := range p.allowList {
		if vp.Matches(vendorID, productID) {
			return true
		}
	}
	return false
}

func (p *serialPlatform) Open(d Device, readTimeout time.Duration) (Handle, error) {
	mode := &serial.Mode{BaudRate: p.baudRate}
	port, err := serial.Open(d.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.Path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", d.Path, err)
	}
	return &serialHandle{device: d, port: port}, nil
}

// parseUSBID converts the enumerator's hex VID/PID strings.
func parseUSBID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

type serialHandle struct {
	device Device
	port   serial.Port
}

func (h *serialHandle) Device() Device { return h.device }

func (h *serialHandle) Read(p []byte) (int, error) {
	n, err := h.port.Read(p)
	if err != nil {
		return 0, fmt.Errorf("serial read %s: %w", h.device.Path, err)
	}
	// go.bug.st/serial reports an expired read timeout as (0, nil).
	if n == 0 {
		return 0, ErrReadTimeout
	}
	return n, nil
}

func (h *serialHandle) Close() error {
	return h.port.Close()
}
