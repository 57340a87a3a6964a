// Package mqttingest feeds device readings published over MQTT into the
// ingestion service.
package mqttingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dgnsrekt/vitals_relay/internal/codec"
	"github.com/dgnsrekt/vitals_relay/internal/telemetry"
)

const (
	disconnectQuiesceMS = 250
	rejectPreviewBytes  = 256
)

// Ingester accepts an encoded reading.
type Ingester interface {
	IngestPayload(ctx context.Context, source, contentType string, payload []byte) (telemetry.Snapshot, error)
}

type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Consumer subscribes to the device topic and ingests every message.
// Payloads may be JSON or CBOR; the format is sniffed.
type Consumer struct {
	opts     Options
	client   mqtt.Client
	ingester Ingester

	mu  sync.RWMutex
	ctx context.Context
}

func NewConsumer(opts Options, ingester Ingester) *Consumer {
	c := &Consumer{opts: opts, ingester: ingester, ctx: context.Background()}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetOnConnectHandler(c.onConnect)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", opts.Broker, "error", err)
	})

	c.client = mqtt.NewClient(co)
	return c
}

// Start connects to the broker. The subscription is (re)established on
// every successful connect. Readings are ingested with ctx.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", c.opts.Broker, err)
	}
	return nil
}

// Stop unsubscribes and disconnects.
func (c *Consumer) Stop() {
	if c.client.IsConnectionOpen() {
		token := c.client.Unsubscribe(c.opts.Topic)
		if !token.WaitTimeout(time.Second) {
			slog.Warn("mqtt unsubscribe timed out", "topic", c.opts.Topic)
		} else if err := token.Error(); err != nil {
			slog.Warn("mqtt unsubscribe failed", "topic", c.opts.Topic, "error", err)
		}
	}
	c.client.Disconnect(disconnectQuiesceMS)
	slog.Info("mqtt consumer stopped")
}

func (c *Consumer) onConnect(client mqtt.Client) {
	token := client.Subscribe(c.opts.Topic, c.opts.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := c.handleMessage(msg.Topic(), msg.Payload()); err != nil {
			preview, truncated, size, digest := codec.Preview(msg.Payload(), rejectPreviewBytes)
			slog.Warn("mqtt reading rejected",
				"topic", msg.Topic(),
				"error", err,
				"payload_size", size,
				"payload_preview", string(preview),
				"payload_truncated", truncated,
				"payload_sha256", digest,
			)
		}
	})
	if token.Wait() && token.Error() != nil {
		slog.Error("mqtt subscribe failed", "topic", c.opts.Topic, "error", token.Error())
		return
	}
	slog.Info("mqtt consumer subscribed", "broker", c.opts.Broker, "topic", c.opts.Topic, "qos", c.opts.QoS)
}

func (c *Consumer) handleMessage(topic string, payload []byte) error {
	slog.Debug("mqtt message received", "topic", topic, "payload_size", len(payload))

	c.mu.RLock()
	ctx := c.ctx
	c.mu.RUnlock()

	source := "mqtt"
	if device := DeviceFromTopic(c.opts.Topic, topic); device != "" {
		source = "mqtt:" + device
	}
	if _, err := c.ingester.IngestPayload(ctx, source, "", payload); err != nil {
		return fmt.Errorf("ingest %s: %w", topic, err)
	}
	return nil
}

// DeviceFromTopic returns the topic level matched by the first single-level
// wildcard of filter, or "" when the filter has none or does not match.
func DeviceFromTopic(filter, topic string) string {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, part := range fp {
		if part == "#" {
			return ""
		}
		if i >= len(tp) {
			return ""
		}
		if part == "+" {
			return tp[i]
		}
		if part != tp[i] {
			return ""
		}
	}
	return ""
}
