package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	shared "github.com/pauricg23/SOIL-TEMP/shared/types"
)

// ErrNotConnected is returned by Publish before Connect succeeds.
var ErrNotConnected = errors.New("mqtt: not connected")

// Publisher sends telemetry the way a soil probe poller does.
type Publisher struct {
	client    mqtt.Client
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewPublisher(b Broker, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		logger: logger,
		stopCh: make(chan struct{}),
	}
	p.client = mqtt.NewClient(newClientOptions(b, logger, p.setConnected, nil))
	return p
}

// Connect waits for the initial connection, honouring ctx and Disconnect.
func (p *Publisher) Connect(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}

	if p.IsConnected() {
		return nil
	}

	token := p.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// OnConnect runs on its own goroutine; do not race it.
			p.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return ErrStopped
		default:
		}
	}
}

// PublishTelemetry publishes on soil/<sensor>/telemetry with QoS 1. A zero
// timestamp is left out so the server stamps the reading on arrival.
func (p *Publisher) PublishTelemetry(t shared.Telemetry) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	if t.SensorID == "" {
		return errors.New("sensor_id is required to pick a topic")
	}

	topic := shared.TelemetryTopic(t.SensorID)
	data, err := marshalTelemetry(t)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	token := p.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		p.logger.Error("failed to publish telemetry", "topic", topic, "error", err)
		return fmt.Errorf("publish telemetry: %w", err)
	}

	p.logger.Debug("published telemetry", "topic", topic, "sensor_id", t.SensorID)
	return nil
}

func marshalTelemetry(t shared.Telemetry) ([]byte, error) {
	if t.Timestamp.IsZero() {
		type noTS struct {
			SensorID      string   `json:"sensor_id"`
			Temperature   *float64 `json:"temperature_c,omitempty"`
			Battery       *float64 `json:"battery_v,omitempty"`
			BatteryStatus string   `json:"battery_status,omitempty"`
		}
		return json.Marshal(noTS{SensorID: t.SensorID, Temperature: t.Temperature, Battery: t.Battery, BatteryStatus: t.BatteryStatus})
	}
	t.Timestamp = t.Timestamp.UTC()
	return json.Marshal(t)
}

func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	connected := p.connected
	p.mu.RUnlock()
	return connected && p.client.IsConnected()
}

// Disconnect closes the connection. Idempotent; Connect fails afterwards.
func (p *Publisher) Disconnect() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.client.Disconnect(250)
	p.setConnected(false)
	p.logger.Info("mqtt publisher disconnected")
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}
