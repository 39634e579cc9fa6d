package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dstanziola/copypoint-scanner/pkg/device"
)

type Config struct {
	Scanner ScannerConfig `yaml:"scanner"`
	Serial  SerialConfig  `yaml:"serial"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Lookup  LookupConfig  `yaml:"lookup"`
	Logging LoggingConfig `yaml:"logging"`
}

type ScannerConfig struct {
	ReadTimeoutMs      int                    `yaml:"read_timeout_ms"`
	InterCharTimeoutMs int                    `yaml:"inter_char_timeout_ms"`
	VendorAllowList    []device.VendorProduct `yaml:"vendor_allow_list,omitempty"`
	AutoReconnect      *bool                  `yaml:"auto_reconnect,omitempty"`
	WatchIntervalMs    int                    `yaml:"watch_interval_ms"`
}

type SerialConfig struct {
	BaudRate   int    `yaml:"baud_rate"`
	Terminator string `yaml:"terminator"`
}

type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BrokerURL          string `yaml:"broker_url"`
	Username           string `yaml:"username,omitempty"`
	Password           string `yaml:"password,omitempty"`
	ClientID           string `yaml:"client_id"`
	TopicPrefix        string `yaml:"topic_prefix"`
	QoS                byte   `yaml:"qos"`
	KeepAlive          int    `yaml:"keep_alive"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

type LookupConfig struct {
	ProductsFile string `yaml:"products_file,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (s *ScannerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMs) * time.Millisecond
}

func (s *ScannerConfig) InterCharTimeout() time.Duration {
	return time.Duration(s.InterCharTimeoutMs) * time.Millisecond
}

func (s *ScannerConfig) WatchInterval() time.Duration {
	return time.Duration(s.WatchIntervalMs) * time.Millisecond
}

func (s *ScannerConfig) AutoReconnectEnabled() bool {
	return s.AutoReconnect == nil || *s.AutoReconnect
}

// TerminatorBytes maps the configured terminator name to the bytes that
// end a scan on character streams.
func (s *SerialConfig) TerminatorBytes() []byte {
	switch strings.ToLower(s.Terminator) {
	case "cr":
		return []byte{'\r'}
	case "lf":
		return []byte{'\n'}
	default: // crlf
		return []byte{'\r', '\n'}
	}
}

func (m *MQTTConfig) IsSecure() bool {
	return strings.HasPrefix(m.BrokerURL, "mqtts://") || strings.HasPrefix(m.BrokerURL, "wss://")
}

// Default returns the configuration used when no config file is given:
// every keyboard-class HID device is accepted and the MQTT bridge stays
// off.
func Default() *Config {
	config := &Config{}
	config.setDefaults()
	return config
}

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) setDefaults() {
	c.setScannerDefaults()
	c.setSerialDefaults()
	c.setMQTTDefaults()
	c.setLoggingDefaults()
}

func (c *Config) setScannerDefaults() {
	if c.Scanner.ReadTimeoutMs == 0 {
		c.Scanner.ReadTimeoutMs = 200
	}
	if c.Scanner.InterCharTimeoutMs == 0 {
		c.Scanner.InterCharTimeoutMs = 50
	}
	if c.Scanner.WatchIntervalMs == 0 {
		c.Scanner.WatchIntervalMs = 1000
	}
}

func (c *Config) setSerialDefaults() {
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 9600
	}
	if c.Serial.Terminator == "" {
		c.Serial.Terminator = "crlf"
	}
}

func (c *Config) setMQTTDefaults() {
	if c.MQTT.BrokerURL == "" {
		c.MQTT.BrokerURL = "mqtt://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "copypoint-scanner"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "copypoint"
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60
	}
}

func (c *Config) setLoggingDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	if err := c.validateScanner(); err != nil {
		return err
	}
	if err := c.validateSerial(); err != nil {
		return err
	}
	if err := c.validateMQTT(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateScanner() error {
	if c.Scanner.ReadTimeoutMs < 10 {
		return fmt.Errorf("scanner.read_timeout_ms must be at least 10 (got %d)", c.Scanner.ReadTimeoutMs)
	}
	if c.Scanner.InterCharTimeoutMs < 1 {
		return fmt.Errorf("scanner.inter_char_timeout_ms must be at least 1 (got %d)", c.Scanner.InterCharTimeoutMs)
	}
	if c.Scanner.InterCharTimeoutMs > c.Scanner.ReadTimeoutMs {
		return fmt.Errorf("scanner.inter_char_timeout_ms (%d) must not exceed scanner.read_timeout_ms (%d)",
			c.Scanner.InterCharTimeoutMs, c.Scanner.ReadTimeoutMs)
	}
	if c.Scanner.WatchIntervalMs < 100 {
		return fmt.Errorf("scanner.watch_interval_ms must be at least 100 (got %d)", c.Scanner.WatchIntervalMs)
	}
	for i, vp := range c.Scanner.VendorAllowList {
		if vp.VendorID == 0 {
			return fmt.Errorf("scanner.vendor_allow_list[%d].vendor_id is required", i)
		}
	}
	return nil
}

func (c *Config) validateSerial() error {
	if c.Serial.BaudRate < 300 {
		return fmt.Errorf("serial.baud_rate %d is not usable", c.Serial.BaudRate)
	}
	validTerminators := []string{"cr", "lf", "crlf"}
	terminator := strings.ToLower(c.Serial.Terminator)
	if !slices.Contains(validTerminators, terminator) {
		return fmt.Errorf("serial.terminator '%s' must be one of: %s",
			c.Serial.Terminator, strings.Join(validTerminators, ", "))
	}
	return nil
}

func (c *Config) validateMQTT() error {
	if !c.MQTT.Enabled {
		return nil
	}

	if _, err := url.Parse(c.MQTT.BrokerURL); err != nil {
		return fmt.Errorf("invalid mqtt.broker_url '%s': %w", c.MQTT.BrokerURL, err)
	}

	validSchemes := []string{"mqtt://", "mqtts://", "ws://", "wss://"}
	valid := false
	for _, scheme := range validSchemes {
		if strings.HasPrefix(c.MQTT.BrokerURL, scheme) {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("mqtt.broker_url '%s' must use one of: %s", c.MQTT.BrokerURL, strings.Join(validSchemes, ", "))
	}

	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1, or 2 (got %d)", c.MQTT.QoS)
	}
	if c.MQTT.KeepAlive < 10 {
		return fmt.Errorf("mqtt.keep_alive must be at least 10 seconds (got %d)", c.MQTT.KeepAlive)
	}
	return nil
}

func (c *Config) validateLogging() error {
	validLogLevels := []string{"debug", "info", "warn", "warning", "error", "fatal", "panic"}
	logLevel := strings.ToLower(c.Logging.Level)
	if !slices.Contains(validLogLevels, logLevel) {
		return fmt.Errorf("logging.level '%s' must be one of: %s",
			c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"text", "json"}
	logFormat := strings.ToLower(c.Logging.Format)
	if !slices.Contains(validLogFormats, logFormat) {
		return fmt.Errorf("logging.format '%s' must be one of: %s",
			c.Logging.Format, strings.Join(validLogFormats, ", "))
	}

	return nil
}
