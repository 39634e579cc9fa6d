// Package lookup provides the file-backed ProductLookup used by the
// standalone daemon. Business systems embedding the coordinator inject
// their own implementation instead.
package lookup

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dstanziola/copypoint-scanner/pkg/barcode"
)

type catalogFile struct {
	Products []catalogEntry `yaml:"products"`
}

type catalogEntry struct {
	Code  string  `yaml:"code"`
	Name  string  `yaml:"name"`
	Price float64 `yaml:"price"`
}

// Catalog resolves codes against a products file loaded at startup.
type Catalog struct {
	mutex  sync.RWMutex
	byCode map[string]barcode.Product
	logger *logrus.Logger
}

// LoadCatalog reads the YAML products file. Codes are matched
// case-insensitively on their normalized form.
func LoadCatalog(path string, logger *logrus.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read products file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse products file: %w", err)
	}

	byCode := make(map[string]barcode.Product, len(file.Products))
	for i, entry := range file.Products {
		code := strings.ToUpper(strings.TrimSpace(entry.Code))
		if code == "" {
			return nil, fmt.Errorf("products[%d].code is required", i)
		}
		byCode[code] = barcode.Product{
			Code:  code,
			Name:  entry.Name,
			Price: entry.Price,
		}
	}

	logger.Infof("Loaded product catalog with %d entries from %s", len(byCode), path)
	return &Catalog{byCode: byCode, logger: logger}, nil
}

// FindByCode implements barcode.ProductLookup. Safe for concurrent use
// from multiple scan workers.
func (c *Catalog) FindByCode(_ context.Context, code string) (*barcode.Product, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	product, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, barcode.ErrProductNotFound
	}
	found := product
	return &found, nil
}

// Size returns the number of catalog entries.
func (c *Catalog) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.byCode)
}
