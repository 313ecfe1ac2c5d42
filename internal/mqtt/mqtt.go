package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	shared "github.com/pauricg23/SOIL-TEMP/shared/types"
)

// ErrStopped is returned by Connect after Disconnect.
var ErrStopped = errors.New("mqtt: stopped")

// Subscriber receives soil telemetry on a topic filter and hands each valid
// message to the registered handler.
type Subscriber struct {
	client    mqtt.Client
	broker    Broker
	topic     string
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool
	handler   func(shared.Telemetry) error
	// pending is the connect token still being retried by paho, if any.
	pending mqtt.Token

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewSubscriber(b Broker, topic string, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		broker: b,
		topic:  topic,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	// Resubscribe on every (re)connect; with a clean session the broker
	// forgets subscriptions when the link drops.
	opts := newClientOptions(b, logger, s.setConnected, func() {
		if err := s.subscribe(); err != nil {
			logger.Error("mqtt subscribe failed", "topic", topic, "error", err)
		}
	})
	s.client = mqtt.NewClient(opts)
	return s
}

// SetMessageHandler installs the consumer of validated telemetry. Set it
// before Connect so messages queued by the broker are not dropped.
func (s *Subscriber) SetMessageHandler(handler func(telemetry shared.Telemetry) error) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// Connect waits for the first connection, honouring ctx and Disconnect.
// When ctx ends first the attempt is left running: paho keeps retrying and
// the subscription is made once the broker answers. A later Connect waits on
// the same attempt.
func (s *Subscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}

	if s.IsConnected() {
		return nil
	}

	token := s.connectToken()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			s.mu.Lock()
			s.pending = nil
			s.mu.Unlock()
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// OnConnect runs on its own goroutine; do not race it.
			s.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return ErrStopped
		default:
		}
	}
}

func (s *Subscriber) connectToken() mqtt.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = s.client.Connect()
	}
	return s.pending
}

func (s *Subscriber) subscribe() error {
	const qos = byte(1)

	token := s.client.Subscribe(s.topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}

	s.logger.Info("subscribed to mqtt topic", "topic", s.topic, "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	var telemetry shared.Telemetry
	if err := json.Unmarshal(payload, &telemetry); err != nil {
		s.logger.Warn("failed to parse telemetry message",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		return
	}
	if telemetry.SensorID == "" {
		telemetry.SensorID = sensorFromTopic(topic)
	}

	if err := validateTelemetry(telemetry); err != nil {
		s.logger.Warn("invalid telemetry message",
			"topic", topic,
			"sensor_id", telemetry.SensorID,
			"error", err,
		)
		return
	}

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		s.logger.Warn("telemetry dropped: no handler registered", "topic", topic)
		return
	}

	if err := handler(telemetry); err != nil {
		s.logger.Error("message handler failed",
			"topic", topic,
			"sensor_id", telemetry.SensorID,
			"error", err,
		)
		return
	}
	s.logger.Debug("processed telemetry message",
		"sensor_id", telemetry.SensorID,
		"timestamp", telemetry.Timestamp,
	)
}

// validateTelemetry only checks shape. Value policy belongs to the service.
func validateTelemetry(t shared.Telemetry) error {
	if t.Temperature == nil {
		return errors.New("temperature_c is required")
	}
	return nil
}

// sensorFromTopic extracts <sensor> from "soil/<sensor>/telemetry".
func sensorFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 3 && parts[2] == "telemetry" {
		return parts[1]
	}
	return ""
}

func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber. Idempotent.
func (s *Subscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.IsConnected() {
		token := s.client.Unsubscribe(s.topic)
		token.WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
