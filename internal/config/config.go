package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

// Config holds all configuration for the node
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Portal   PortalConfig   `yaml:"portal"`
	Network  NetworkConfig  `yaml:"network"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Clock    ClockConfig    `yaml:"clock"`
	Sampling SamplingConfig `yaml:"sampling"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Journal  JournalConfig  `yaml:"journal"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// NodeConfig identifies this node in notifications
type NodeConfig struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
}

// PortalConfig covers the provisioning access point and the HTTP listener
type PortalConfig struct {
	APSSID      string  `yaml:"ap_ssid"`
	APIP        string  `yaml:"ap_ip"`
	Listen      string  `yaml:"listen"`
	DNSAddr     string  `yaml:"dns_addr"`
	Passcode    string  `yaml:"passcode"`
	SubmitRate  float64 `yaml:"submit_rate"`
	SubmitBurst int     `yaml:"submit_burst"`
}

// NetworkConfig controls association polling
type NetworkConfig struct {
	Interface    string        `yaml:"interface"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// SensorConfig selects the temperature driver
type SensorConfig struct {
	Driver  string `yaml:"driver"`
	GPIOPin int    `yaml:"gpio_pin"`
	Retries int    `yaml:"retries"`
}

// ClockConfig controls timestamps. An empty NTPServer uses the host clock.
type ClockConfig struct {
	NTPServer      string        `yaml:"ntp_server"`
	Timezone       string        `yaml:"timezone"`
	Layout         string        `yaml:"layout"`
	SyncTimeout    time.Duration `yaml:"sync_timeout"`
	ResyncInterval time.Duration `yaml:"resync_interval"`
}

type SamplingConfig struct {
	Interval time.Duration `yaml:"interval"`
	Tick     time.Duration `yaml:"tick"`
}

// AlertsConfig holds the initial thresholds; they can be changed at runtime
type AlertsConfig struct {
	MinC            *float64      `yaml:"min_c"`
	MaxC            *float64      `yaml:"max_c"`
	NotifyInterval  time.Duration `yaml:"notify_interval"`
	RearmOnRecovery bool          `yaml:"rearm_on_recovery"`
}

type WebhookConfig struct {
	Enabled     bool              `yaml:"enabled"`
	URL         string            `yaml:"url"`
	IdentityURL string            `yaml:"identity_url"`
	Headers     map[string]string `yaml:"headers"`
	Template    string            `yaml:"template"`
	Timeout     time.Duration     `yaml:"timeout"`
}

type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         int           `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`
}

// JournalConfig controls the SQLite notification journal
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	RetentionDays int           `yaml:"retention_days"`
	MaxEvents     int           `yaml:"max_events"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
}

type StreamConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.Node.ID == "" {
		c.Node.ID = "temper-node"
	}
	if c.Node.Version == "" {
		c.Node.Version = "dev"
	}

	if c.Portal.APSSID == "" {
		c.Portal.APSSID = "temper-setup"
	}
	if c.Portal.APIP == "" {
		c.Portal.APIP = "192.168.4.1"
	}
	if c.Portal.Listen == "" {
		c.Portal.Listen = ":80"
	}
	if c.Portal.DNSAddr == "" {
		c.Portal.DNSAddr = ":53"
	}
	if c.Portal.SubmitRate == 0 {
		c.Portal.SubmitRate = 2
	}
	if c.Portal.SubmitBurst == 0 {
		c.Portal.SubmitBurst = 5
	}

	if c.Network.PollInterval == 0 {
		c.Network.PollInterval = 500 * time.Millisecond
	}
	if c.Network.MaxAttempts == 0 {
		c.Network.MaxAttempts = 60
	}

	if c.Sensor.Driver == "" {
		c.Sensor.Driver = "dht11"
	}
	if c.Sensor.GPIOPin == 0 {
		c.Sensor.GPIOPin = 4
	}
	if c.Sensor.Retries == 0 {
		c.Sensor.Retries = 3
	}

	if c.Clock.Timezone == "" {
		c.Clock.Timezone = "Local"
	}
	if c.Clock.Layout == "" {
		c.Clock.Layout = "2006-01-02 15:04:05"
	}
	if c.Clock.SyncTimeout == 0 {
		c.Clock.SyncTimeout = 5 * time.Second
	}
	if c.Clock.ResyncInterval == 0 {
		c.Clock.ResyncInterval = time.Hour
	}

	if c.Sampling.Interval == 0 {
		c.Sampling.Interval = 5 * time.Minute
	}
	if c.Sampling.Tick == 0 {
		c.Sampling.Tick = 200 * time.Millisecond
	}

	if c.Alerts.MinC == nil {
		c.Alerts.MinC = floatPtr(22)
	}
	if c.Alerts.MaxC == nil {
		c.Alerts.MaxC = floatPtr(25)
	}
	if c.Alerts.NotifyInterval == 0 {
		c.Alerts.NotifyInterval = 30 * time.Minute
	}

	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 10 * time.Second
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.Node.ID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "temper/" + c.Node.ID
	}
	if c.MQTT.Timeout == 0 {
		c.MQTT.Timeout = 5 * time.Second
	}

	if c.Journal.Path == "" {
		c.Journal.Path = "./data/temper-journal.db"
	}
	if c.Journal.RetentionDays == 0 {
		c.Journal.RetentionDays = 14
	}
	if c.Journal.MaxEvents == 0 {
		c.Journal.MaxEvents = 5000
	}
	if c.Journal.CleanupPeriod == 0 {
		c.Journal.CleanupPeriod = 24 * time.Hour
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = 20
	}
	if c.Journal.FlushPeriod == 0 {
		c.Journal.FlushPeriod = 5 * time.Second
	}
	if c.Journal.ChannelSize == 0 {
		c.Journal.ChannelSize = 256
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() {
	// Only override if environment variable is set (non-empty)
	if v := os.Getenv("NODE_ID"); v != "" {
		c.Node.ID = v
	}
	if v := os.Getenv("PORTAL_PASSCODE"); v != "" {
		c.Portal.Passcode = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		c.Webhook.URL = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Portal.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Portal.Passcode == "" {
		return fmt.Errorf("%w: portal passcode is required", ErrInvalid)
	}
	if ip := net.ParseIP(c.Portal.APIP); ip == nil || ip.To4() == nil {
		return fmt.Errorf("%w: portal ap_ip %q is not an IPv4 address", ErrInvalid, c.Portal.APIP)
	}
	if c.Portal.SubmitRate < 0 {
		return fmt.Errorf("%w: portal submit_rate must not be negative", ErrInvalid)
	}

	if c.Network.PollInterval < 0 {
		return fmt.Errorf("%w: network poll_interval must not be negative", ErrInvalid)
	}
	if c.Network.MaxAttempts < 1 {
		return fmt.Errorf("%w: network max_attempts must be at least 1", ErrInvalid)
	}

	switch c.Sensor.Driver {
	case "dht11":
		if c.Sensor.GPIOPin <= 0 {
			return fmt.Errorf("%w: GPIO pin must be greater than 0", ErrInvalid)
		}
	case "sim":
	default:
		return fmt.Errorf("%w: sensor driver must be dht11 or sim, got %q", ErrInvalid, c.Sensor.Driver)
	}

	if c.Sampling.Interval < time.Second {
		return fmt.Errorf("%w: sampling interval must be at least 1 second", ErrInvalid)
	}
	if c.Sampling.Tick <= 0 || c.Sampling.Tick > c.Sampling.Interval {
		return fmt.Errorf("%w: sampling tick must be positive and no longer than the interval", ErrInvalid)
	}
	if c.Alerts.MinC == nil || c.Alerts.MaxC == nil {
		return fmt.Errorf("%w: alerts min_c and max_c are required", ErrInvalid)
	}
	if c.Alerts.NotifyInterval < 0 {
		return fmt.Errorf("%w: alerts notify_interval must not be negative", ErrInvalid)
	}

	if c.Webhook.Enabled {
		if !strings.HasPrefix(c.Webhook.URL, "http://") && !strings.HasPrefix(c.Webhook.URL, "https://") {
			return fmt.Errorf("%w: webhook url must start with http:// or https://", ErrInvalid)
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt broker is required when mqtt is enabled", ErrInvalid)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos must be 0, 1 or 2", ErrInvalid)
	}

	if c.Journal.Enabled && c.Journal.RetentionDays <= 0 {
		return fmt.Errorf("%w: journal retention_days must be positive", ErrInvalid)
	}
	if c.Journal.MaxEvents < 0 {
		return fmt.Errorf("%w: journal max_events cannot be negative", ErrInvalid)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: logging format must be json or text", ErrInvalid)
	}

	return nil
}

// String returns a safe string representation (hides secrets)
func (c *Config) String() string {
	return fmt.Sprintf("Config{Node: %+v, Portal: [AP=%s/%s, Listen=%s, Passcode=%s], Sensor: %+v, "+
		"Sampling: %+v, Alerts: [MinC=%v, MaxC=%v, NotifyInterval=%v, Rearm=%t], Webhook: [Enabled=%t, URL=%s], MQTT: [Enabled=%t, Broker=%s, Prefix=%s], "+
		"Journal: [Enabled=%t, Path=%s], Logging: %+v}",
		c.Node,
		c.Portal.APSSID, c.Portal.APIP, c.Portal.Listen, maskToken(c.Portal.Passcode),
		c.Sensor,
		c.Sampling,
		derefFloat(c.Alerts.MinC), derefFloat(c.Alerts.MaxC), c.Alerts.NotifyInterval, c.Alerts.RearmOnRecovery,
		c.Webhook.Enabled, maskURL(c.Webhook.URL),
		c.MQTT.Enabled, c.MQTT.Broker, c.MQTT.TopicPrefix,
		c.Journal.Enabled, c.Journal.Path,
		c.Logging,
	)
}

func floatPtr(v float64) *float64 { return &v }

func derefFloat(v *float64) interface{} {
	if v == nil {
		return "unset"
	}
	return *v
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}

// maskURL keeps scheme and host; webhook paths often embed a secret.
func maskURL(u string) string {
	if u == "" {
		return ""
	}
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return maskToken(u)
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host + "/****"
}
