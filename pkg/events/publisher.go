package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dstanziola/copypoint-scanner/pkg/barcode"
	"github.com/dstanziola/copypoint-scanner/pkg/config"
	"github.com/dstanziola/copypoint-scanner/pkg/device"
)

// Publisher turns scans and device availability changes into MQTT
// messages under the configured topic prefix:
//
//	<prefix>/scanner/bridge/availability   online|offline (retained, will)
//	<prefix>/scanner/<device_id>/scan      scanPayload JSON
//	<prefix>/scanner/<device_id>/state     online|offline (retained)
type Publisher struct {
	client *Client
	prefix string
	logger *logrus.Logger
}

type scanPayload struct {
	Raw        string    `json:"raw"`
	Normalized string    `json:"normalized"`
	Format     string    `json:"format"`
	Timestamp  time.Time `json:"timestamp"`
	DeviceID   string    `json:"device_id"`
}

// NewPublisher creates the MQTT event bridge.
func NewPublisher(cfg *config.MQTTConfig, logger *logrus.Logger) *Publisher {
	p := &Publisher{
		prefix: cfg.TopicPrefix,
		logger: logger,
	}
	p.client = NewClient(cfg, p.bridgeAvailabilityTopic(), logger)
	return p
}

// Start implements the app service interface: it connects and waits for
// the broker.
func (p *Publisher) Start() error {
	if err := p.client.Connect(); err != nil {
		return err
	}
	return p.client.WaitForConnection(10 * time.Second)
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() error {
	p.client.Disconnect()
	return nil
}

// PublishScan publishes one accepted scan. Failures are logged and
// swallowed: the bridge must never disturb the scan path.
func (p *Publisher) PublishScan(code barcode.ScannedCode) {
	payload, err := json.Marshal(scanPayload{
		Raw:        code.Raw,
		Normalized: code.Normalized,
		Format:     string(code.Format),
		Timestamp:  code.Timestamp,
		DeviceID:   code.DeviceID,
	})
	if err != nil {
		p.logger.Errorf("Failed to encode scan payload: %v", err)
		return
	}

	topic := fmt.Sprintf("%s/scanner/%s/scan", p.prefix, code.DeviceID)
	if err := p.client.Publish(topic, string(payload), false); err != nil {
		p.logger.Warnf("Failed to publish scan to %s: %v", topic, err)
	}
}

// PublishAvailability publishes a retained per-device online/offline state.
func (p *Publisher) PublishAvailability(d device.Device, online bool) {
	state := "offline"
	if online {
		state = "online"
	}
	topic := fmt.Sprintf("%s/scanner/%s/state", p.prefix, d.ID)
	if err := p.client.Publish(topic, state, true); err != nil {
		p.logger.Warnf("Failed to publish availability to %s: %v", topic, err)
	}
}

func (p *Publisher) bridgeAvailabilityTopic() string {
	return fmt.Sprintf("%s/scanner/bridge/availability", p.prefix)
}
