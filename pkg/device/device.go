package device

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Kind identifies the transport a scanning device is attached through.
type Kind string

const (
	KindUSBHID Kind = "usb_hid"
	KindSerial Kind = "serial"
)

// State is the lifecycle state of a device as tracked by the registry.
type State string

const (
	StateDiscovered   State = "discovered"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Device describes one physical scanning peripheral. The ID is stable for
// the lifetime of a physical connection; replugging the same unit on the
// same port yields the same ID, but no persistent fingerprinting beyond
// that is attempted.
type Device struct {
	ID           string
	Kind         Kind
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	Serial       string
	Path         string
	State        State
	LastSeen     time.Time
}

func (d Device) String() string {
	return fmt.Sprintf("%s %04x:%04x (%s) at %s", d.Kind, d.VendorID, d.ProductID, d.Product, d.Path)
}

// VendorProduct is one entry of the vendor/product allow-list used to
// recognize scanner hardware during discovery.
type VendorProduct struct {
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`
}

func (vp VendorProduct) Matches(vendorID, productID uint16) bool {
	return vp.VendorID == vendorID && vp.ProductID == productID
}

var idNamespace = uuid.NewV5(uuid.NamespaceOID, "copypoint-scanner/device")

// deviceID derives the stable logical identifier from the device identity
// tuple. Two enumerations of the same unit on the same port agree on it.
func deviceID(kind Kind, vendorID, productID uint16, serial, path string) string {
	name := fmt.Sprintf("%s:%04x:%04x:%s:%s", kind, vendorID, productID, serial, path)
	id := uuid.NewV5(idNamespace, name)
	return "dev_" + id.String()[:12]
}
