package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/models"
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTConfig configures the broker sink.
type MQTTConfig struct {
	Enabled     bool
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// Publisher is the subset of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes notifications and readings under a topic prefix:
// <prefix>/alerts, <prefix>/identity and <prefix>/readings.
type MQTTSink struct {
	config MQTTConfig
	client Publisher
	logger zerolog.Logger
}

// DialMQTT connects to the configured broker and returns a sink around the client.
func DialMQTT(config MQTTConfig, logger zerolog.Logger) (*MQTTSink, mqtt.Client, error) {
	if !config.Enabled {
		return NewMQTTSink(config, nil, logger), nil, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(config.timeout()).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			logger.Info().Str("broker", config.Broker).Msg("MQTT connected")
		})
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(config.timeout()) {
		// ConnectRetry keeps trying in the background.
		logger.Warn().Str("broker", config.Broker).Msg("MQTT broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", config.Broker, err)
	}

	return NewMQTTSink(config, client, logger), client, nil
}

// NewMQTTSink wraps an existing publisher.
func NewMQTTSink(config MQTTConfig, client Publisher, logger zerolog.Logger) *MQTTSink {
	config.TopicPrefix = strings.TrimRight(config.TopicPrefix, "/")
	return &MQTTSink{config: config, client: client, logger: logger}
}

func (c MQTTConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Timeout
}

func (*MQTTSink) Name() string { return "mqtt" }

// Topic returns the full topic for a suffix.
func (m *MQTTSink) Topic(suffix string) string {
	if m.config.TopicPrefix == "" {
		return suffix
	}
	return m.config.TopicPrefix + "/" + suffix
}

func (m *MQTTSink) topicFor(kind models.NotificationKind) string {
	switch kind {
	case models.KindIdentity:
		return m.Topic("identity")
	case models.KindAlert:
		return m.Topic("alerts")
	default:
		return m.Topic(string(kind))
	}
}

// Send publishes n.Payload as JSON.
func (m *MQTTSink) Send(ctx context.Context, n models.Notification) error {
	if !m.config.Enabled || m.client == nil {
		return ErrSinkDisabled
	}
	return m.publish(ctx, m.topicFor(n.Kind), n.Payload)
}

// PublishReading sends a reading to <prefix>/readings.
func (m *MQTTSink) PublishReading(ctx context.Context, r models.Reading) error {
	if !m.config.Enabled || m.client == nil {
		return ErrSinkDisabled
	}
	return m.publish(ctx, m.Topic("readings"), r)
}

func (m *MQTTSink) publish(ctx context.Context, topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal MQTT payload: %w", err)
	}

	token := m.client.Publish(topic, m.config.QoS, false, payload)

	timer := time.NewTimer(m.config.timeout())
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("%w: topic %s", ErrPublishTimeout, topic)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	m.logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Published MQTT message")
	return nil
}
