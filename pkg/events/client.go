// Package events publishes scan and device-availability events to an MQTT
// broker so other store terminals can observe the scanners. The bridge is
// an optional side output: nothing in the scan path depends on it.
package events

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/dstanziola/copypoint-scanner/pkg/config"
)

// Client wraps the MQTT connection with auto-reconnection and a retained
// availability will topic.
type Client struct {
	client    mqtt.Client
	config    *config.MQTTConfig
	logger    *logrus.Logger
	connected bool
	mutex     sync.RWMutex
	willTopic string
}

// NewClient creates the MQTT client; the connection is made by Connect.
func NewClient(cfg *config.MQTTConfig, willTopic string, logger *logrus.Logger) *Client {
	c := &Client{
		config:    cfg,
		logger:    logger,
		willTopic: willTopic,
	}
	c.client = mqtt.NewClient(c.buildClientOptions())
	return c
}

func (c *Client) buildClientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.config.BrokerURL).
		SetClientID(c.config.ClientID).
		SetKeepAlive(time.Duration(c.config.KeepAlive) * time.Second).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(60 * time.Second).
		SetConnectRetryInterval(2 * time.Second).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetWriteTimeout(5 * time.Second).
		SetOnConnectHandler(c.handleConnect).
		SetConnectionLostHandler(c.handleDisconnect)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		if c.config.Password != "" {
			opts.SetPassword(c.config.Password)
		}
	}

	if c.config.IsSecure() {
		opts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: c.config.InsecureSkipVerify, // #nosec G402 - configurable for dev environments
		})
	}

	if c.willTopic != "" {
		opts.SetWill(c.willTopic, "offline", c.config.QoS, true)
	}

	return opts
}

// Connect connects to the MQTT broker.
func (c *Client) Connect() error {
	c.logger.Infof("Connecting to MQTT broker: %s", c.config.BrokerURL)

	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Disconnect publishes the offline status and closes the connection.
func (c *Client) Disconnect() {
	c.logger.Info("Disconnecting from MQTT broker")

	if c.willTopic != "" && c.IsConnected() {
		_ = c.Publish(c.willTopic, "offline", true)
	}

	c.client.Disconnect(250)
	c.setConnected(false)
}

// Publish publishes a message to the topic with the configured QoS.
func (c *Client) Publish(topic, payload string, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	token := c.client.Publish(topic, c.config.QoS, retain, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Errorf("Failed to publish to %s: %v", topic, err)
		return err
	}
	c.logger.Debugf("Published to %s", topic)
	return nil
}

// IsConnected reports whether the client is connected to the broker.
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.connected && c.client.IsConnected()
}

// WaitForConnection waits for the client to connect, with a timeout.
func (c *Client) WaitForConnection(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for MQTT connection")
}

func (c *Client) setConnected(connected bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.connected = connected
}

func (c *Client) handleConnect(_ mqtt.Client) {
	c.logger.Info("MQTT client connected")
	c.setConnected(true)

	if c.willTopic != "" {
		if err := c.Publish(c.willTopic, "online", true); err != nil {
			c.logger.Errorf("Failed to publish online status: %v", err)
		}
	}
}

func (c *Client) handleDisconnect(_ mqtt.Client, err error) {
	c.logger.Errorf("MQTT connection lost: %v", err)
	c.logger.Info("MQTT client will attempt automatic reconnection...")
	c.setConnected(false)
}
