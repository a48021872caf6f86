// Package telemetry publishes pingd events to an MQTT broker and feeds the
// roster from the host's roster topic.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/pingd/internal/config"
	"github.com/energizer-project/pingd/internal/events"
	"github.com/energizer-project/pingd/internal/roster"
	"github.com/energizer-project/pingd/internal/util"
)

// MQTT topics
const (
	TopicRequests  = "pingd/requests"
	TopicErrors    = "pingd/errors"
	TopicHeartbeat = "pingd/heartbeat"
	TopicAdmin     = "pingd/admin"
)

// MQTTHandler manages the MQTT connection, publishes bus events and applies
// roster messages.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	roster   *roster.Roster
	client   mqtt.Client
	logger   zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a handler from the application's MQTT settings.
// r may be nil, in which case the roster topic is not subscribed.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, r *roster.Roster, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		roster:   r,
		logger:   log.With().Str("component", "mqtt").Logger(),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"platform":    sysInfo.Platform,
			"os":          sysInfo.OS,
			"cpu_cores":   sysInfo.CPUCores,
			"memory_mb":   sysInfo.TotalMemory,
			"app_version": version,
		},
	}

	opts, err := h.clientOptions(sysInfo.Hostname)
	if err != nil {
		return nil, err
	}
	h.client = mqtt.NewClient(opts)

	return h, nil
}

// clientOptions builds the paho options, including TLS/mTLS.
func (h *MQTTHandler) clientOptions(hostname string) (*mqtt.ClientOptions, error) {
	scheme := "tcp"
	if h.cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, h.cfg.BrokerURL, h.cfg.Port))

	if h.cfg.ClientID != "" {
		opts.SetClientID(h.cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("pingd-%s", hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if h.cfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		if h.cfg.CAFile != "" {
			pem, err := os.ReadFile(h.cfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", h.cfg.CAFile)
			}
			tlsConfig.RootCAs = pool
		}

		// mTLS: load client certificate
		if h.cfg.CertFile != "" && h.cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(h.cfg.CertFile, h.cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	// Subscriptions do not survive a clean-session reconnect
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
		h.subscribeRoster(client)
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	return opts, nil
}

// Start connects to the broker and publishes until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.unsubscribeEvents()
	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers bus handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventRequestServed, "mqtt.requestServed", h.onRequestServed)
	h.eventBus.Subscribe(events.EventProtocolError, "mqtt.protocolError", h.onProtocolError)
	h.eventBus.Subscribe(events.EventHeartbeat, "mqtt.heartbeat", h.onHeartbeat)
}

func (h *MQTTHandler) unsubscribeEvents() {
	h.eventBus.Unsubscribe(events.EventRequestServed, "mqtt.requestServed")
	h.eventBus.Unsubscribe(events.EventProtocolError, "mqtt.protocolError")
	h.eventBus.Unsubscribe(events.EventHeartbeat, "mqtt.heartbeat")
}

func (h *MQTTHandler) subscribeRoster(client mqtt.Client) {
	if h.roster == nil || h.cfg.RosterTopic == "" {
		return
	}

	token := client.Subscribe(h.cfg.RosterTopic, 1, func(_ mqtt.Client, m mqtt.Message) {
		h.handleRosterMessage(m.Payload())
	})
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", h.cfg.RosterTopic).Msg("roster subscription failed")
			return
		}
		h.logger.Info().Str("topic", h.cfg.RosterTopic).Msg("subscribed to roster topic")
	}()
}

// handleRosterMessage applies one roster message received from the broker.
func (h *MQTTHandler) handleRosterMessage(payload []byte) {
	msg, err := roster.ParseMessage(payload)
	if err == nil {
		err = h.roster.Apply(context.Background(), msg, "mqtt")
	}
	if err != nil {
		h.logger.Warn().Err(err).Msg("rejected roster message")
	}
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
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

func (h *MQTTHandler) onRequestServed(ctx context.Context, event events.Event) error {
	h.publish(TopicRequests, event.Payload)
	return nil
}

func (h *MQTTHandler) onProtocolError(ctx context.Context, event events.Event) error {
	h.publish(TopicErrors, event.Payload)
	return nil
}

func (h *MQTTHandler) onHeartbeat(ctx context.Context, event events.Event) error {
	h.publish(TopicHeartbeat, event.Payload)
	return nil
}

// PublishShutdown sends a shutdown message to the broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event": "shutdown",
	})
}
