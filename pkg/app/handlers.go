package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dstanziola/copypoint-scanner/pkg/barcode"
	"github.com/dstanziola/copypoint-scanner/pkg/device"
	"github.com/dstanziola/copypoint-scanner/pkg/events"
)

const resolveTimeout = 2 * time.Second

// EventHandlers connects the coordinator's scan callbacks and the
// registry's watch events to logging, product resolution and the optional
// MQTT bridge.
type EventHandlers struct {
	logger        *logrus.Logger
	coordinator   *barcode.Coordinator
	publisher     *events.Publisher // nil when the bridge is disabled
	autoReconnect bool
}

func NewEventHandlers(logger *logrus.Logger, coordinator *barcode.Coordinator, publisher *events.Publisher, autoReconnect bool) *EventHandlers {
	return &EventHandlers{
		logger:        logger,
		coordinator:   coordinator,
		publisher:     publisher,
		autoReconnect: autoReconnect,
	}
}

// HandleScan is the onScan callback for every listening session.
func (h *EventHandlers) HandleScan(code barcode.ScannedCode) {
	logger := h.logger.WithFields(logrus.Fields{
		"device_id": code.DeviceID,
		"code":      code.Normalized,
		"format":    code.Format,
	})
	logger.Info("Barcode scanned")

	h.resolveAndLog(logger, code)

	if h.publisher != nil {
		h.publisher.PublishScan(code)
	}
}

func (h *EventHandlers) resolveAndLog(logger *logrus.Entry, code barcode.ScannedCode) {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	product, err := h.coordinator.Resolve(ctx, code)
	switch {
	case err == nil:
		logger.WithField("product", product.Name).Info("Product resolved")
	case errors.Is(err, barcode.ErrNoLookup):
		// No catalog wired; scanning alone is still useful.
	case errors.Is(err, barcode.ErrProductNotFound):
		logger.Warn("No product found for scanned code")
	default:
		logger.WithError(err).Error("Product lookup failed")
	}
}

// HandleScanError is the onError callback: validation failures keep the
// loop alive, anything else means the session died.
func (h *EventHandlers) HandleScanError(deviceID string) func(error) {
	return func(err error) {
		logger := h.logger.WithField("device_id", deviceID)
		var verr *barcode.ValidationError
		if errors.As(err, &verr) {
			logger.WithField("reason", verr.Reason).Warnf("Rejected scan: %v", verr)
			return
		}
		logger.WithError(err).Error("Scanner session failed")
		if h.publisher != nil {
			h.publisher.PublishAvailability(device.Device{ID: deviceID}, false)
		}
	}
}

// HandleDeviceEvent reacts to plug-and-play changes from the registry
// watch: newly discovered hardware restarts listening when auto-reconnect
// is on, vanished hardware is announced as offline.
func (h *EventHandlers) HandleDeviceEvent(ev device.Event) {
	logger := h.logger.WithFields(logrus.Fields{
		"device_id": ev.Device.ID,
		"event":     ev.Type,
	})

	switch ev.Type {
	case device.EventDiscovered:
		logger.Infof("Scanner available: %s", ev.Device.String())
		if h.autoReconnect && len(h.coordinator.ActiveSessions()) == 0 {
			h.StartAutoListen()
		}
	case device.EventError:
		logger.Warn("Scanner disconnected, waiting for it to return")
		if h.publisher != nil {
			h.publisher.PublishAvailability(ev.Device, false)
		}
	case device.EventRemoved:
		logger.Info("Scanner removed")
		if h.publisher != nil {
			h.publisher.PublishAvailability(ev.Device, false)
		}
	}
}

// StartAutoListen connects the first available scanner and starts its
// listening session. A missing scanner is a notice, not a failure: manual
// code entry stays available to the business layer.
func (h *EventHandlers) StartAutoListen() {
	d, err := h.coordinator.AutoConnect()
	if err != nil {
		if errors.Is(err, barcode.ErrNoDeviceFound) {
			h.logger.Info("No scanner device available; will connect when one is plugged in")
		} else {
			h.logger.WithError(err).Error("Scanner auto-connect failed")
		}
		return
	}

	if h.coordinator.ListeningOn(d.ID) {
		return
	}
	if err := h.coordinator.StartListening(d.ID, h.HandleScan, h.HandleScanError(d.ID)); err != nil {
		if !errors.Is(err, device.ErrDeviceBusy) {
			h.logger.WithError(err).Errorf("Failed to start listening on %s", d.ID)
		}
		return
	}
	if h.publisher != nil {
		h.publisher.PublishAvailability(d, true)
	}
}
