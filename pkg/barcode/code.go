// Package barcode is the entry point business logic uses to talk to
// scanning hardware: it owns the per-device scan sessions, validates and
// classifies completed reads and delegates product resolution.
package barcode

import (
	"context"
	"time"
)

// Format is the symbology guessed for a scanned code. The guess is based
// on length and character class only; the hardware already decoded the
// optical symbology into characters.
type Format string

const (
	FormatEAN13   Format = "EAN13"
	FormatEAN8    Format = "EAN8"
	FormatUPCA    Format = "UPC_A"
	FormatCode39  Format = "CODE39"
	FormatCode128 Format = "CODE128"
	FormatUnknown Format = "UNKNOWN"
)

// ScannedCode is one validated read. It is immutable and not persisted by
// this subsystem.
type ScannedCode struct {
	Raw        string
	Normalized string
	Format     Format
	Timestamp  time.Time
	DeviceID   string
}

// Product is the domain entity a code resolves to.
type Product struct {
	Code  string
	Name  string
	Price float64
}

// ProductLookup resolves codes to products. Implementations must be safe
// for concurrent use from multiple scan workers.
type ProductLookup interface {
	FindByCode(ctx context.Context, code string) (*Product, error)
}
