// Package telemetry publishes rconsole connection and command events to MQTT.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/util"
)

// Topic suffixes below the configured prefix.
const (
	TopicAdmin    = "admin"
	TopicStatus   = "rcon/status"
	TopicCommands = "rcon/commands"
	TopicHealth   = "health"
)

// ErrDisabled is returned by NewMQTTHandler when telemetry is turned off.
var ErrDisabled = errors.New("telemetry: MQTT is disabled")

// MQTTHandler forwards event bus traffic to an MQTT broker.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// publishFn sends one message and connectFn dials the broker; tests
	// replace both.
	publishFn func(topic string, data []byte)
	connectFn func() error

	shutdownOnce sync.Once

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler. It does not connect until Connect or Start.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	hostInfo := util.GetHostInfo()
	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   util.ComponentLogger("telemetry"),
		metadata: map[string]interface{}{
			"hostname":     hostInfo.Hostname,
			"os":           hostInfo.OS,
			"architecture": hostInfo.Architecture,
			"go_version":   hostInfo.GoVersion,
		},
	}
	handler.publishFn = handler.publishMQTT
	handler.connectFn = handler.connectMQTT

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(cfg))

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("rconsole-%s", hostInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetWill(handler.topic(TopicAdmin), `{"event":"offline"}`, 1, false)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		handler.logger.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		handler.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// BrokerURL returns the paho broker address for cfg.
func BrokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in MQTT CA file %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS: load client certificate
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Start runs Connect and then Run.
func (h *MQTTHandler) Start(ctx context.Context) error {
	if err := h.Connect(); err != nil {
		return err
	}
	h.Run(ctx)
	return nil
}

// Connect dials the broker and subscribes to the event bus. Events emitted
// after it returns are published.
func (h *MQTTHandler) Connect() error {
	h.logger.Info().
		Str("broker", BrokerURL(h.cfg)).
		Msg("connecting to MQTT broker")

	if err := h.connectFn(); err != nil {
		return fmt.Errorf("MQTT connect failed: %w", err)
	}

	h.subscribeEvents()
	h.publish(TopicAdmin, map[string]interface{}{"event": "online"})
	return nil
}

// Run forwards events until ctx is done, then announces the shutdown and
// disconnects.
func (h *MQTTHandler) Run(ctx context.Context) {
	<-ctx.Done()

	h.unsubscribeEvents()
	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
}

func (h *MQTTHandler) connectMQTT() error {
	token := h.client.Connect()
	token.Wait()
	return token.Error()
}

var subscriptions = []struct {
	event events.EventType
	name  string
}{
	{events.EventConnected, "mqtt.connected"},
	{events.EventDisconnected, "mqtt.disconnected"},
	{events.EventStats, "mqtt.stats"},
	{events.EventCommandExecuted, "mqtt.commandExecuted"},
	{events.EventCommandFailed, "mqtt.commandFailed"},
	{events.EventHealth, "mqtt.health"},
	{events.EventShutdown, "mqtt.shutdown"},
}

func (h *MQTTHandler) subscribeEvents() {
	for _, s := range subscriptions {
		h.eventBus.Subscribe(s.event, s.name, h.onEvent)
	}
}

func (h *MQTTHandler) unsubscribeEvents() {
	for _, s := range subscriptions {
		h.eventBus.Unsubscribe(s.event, s.name)
	}
}

// topic prefixes suffix with the configured topic prefix.
func (h *MQTTHandler) topic(suffix string) string {
	if h.cfg.TopicPrefix == "" {
		return suffix
	}
	return h.cfg.TopicPrefix + "/" + suffix
}

// publish sends a JSON message built from payload.
func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	topic := h.topic(suffix)
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	h.mu.Lock()
	publishFn := h.publishFn
	h.mu.Unlock()
	publishFn(topic, data)
}

func (h *MQTTHandler) publishMQTT(topic string, data []byte) {
	if !h.client.IsConnected() {
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onEvent(ctx context.Context, event events.Event) error {
	switch event.Type {
	case events.EventConnected, events.EventDisconnected, events.EventStats:
		h.publish(TopicStatus, map[string]interface{}{
			"event":   string(event.Type),
			"payload": event.Payload,
		})
	case events.EventCommandExecuted, events.EventCommandFailed:
		h.publish(TopicCommands, map[string]interface{}{
			"event":   string(event.Type),
			"payload": event.Payload,
		})
	case events.EventHealth:
		h.publish(TopicHealth, event.Payload)
	case events.EventShutdown:
		h.PublishShutdown()
	}
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker. Only the
// first call publishes.
func (h *MQTTHandler) PublishShutdown() {
	h.shutdownOnce.Do(func() {
		h.publish(TopicAdmin, map[string]interface{}{"event": "shutdown"})
	})
}
