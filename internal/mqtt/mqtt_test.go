package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pauricg23/SOIL-TEMP/internal/config"
	shared "github.com/pauricg23/SOIL-TEMP/shared/types"
)

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestSubscriber(t *testing.T, buf *bytes.Buffer) *Subscriber {
	t.Helper()
	return NewSubscriber(Broker{Host: "127.0.0.1", Port: 1, ClientID: "test"}, "soil/+/telemetry", testLogger(buf))
}

func TestBrokerFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.MQTTBroker = "broker.local"
	cfg.MQTTClientID = "soil-1"

	b := BrokerFromConfig(cfg)
	if b.URL() != "tcp://broker.local:1883" {
		t.Errorf("URL() = %q", b.URL())
	}
	if b.ClientID != "soil-1" {
		t.Errorf("ClientID = %q", b.ClientID)
	}
}

func TestHandleMessage(t *testing.T) {
	ts := time.Date(2025, 3, 1, 0, 10, 0, 0, time.UTC)

	tests := []struct {
		name       string
		topic      string
		payload    string
		wantCalled bool
		wantSensor string
		wantLog    string
	}{
		{
			name:       "valid payload",
			topic:      "soil/heap-1/telemetry",
			payload:    `{"sensor_id":"heap-1","timestamp":"2025-03-01T00:10:00Z","temperature_c":20.5}`,
			wantCalled: true,
			wantSensor: "heap-1",
		},
		{
			name:       "sensor taken from topic",
			topic:      "soil/bed-2/telemetry",
			payload:    `{"timestamp":"2025-03-01T00:10:00Z","temperature_c":20.5}`,
			wantCalled: true,
			wantSensor: "bed-2",
		},
		{
			name:    "invalid json",
			topic:   "soil/heap-1/telemetry",
			payload: `{not json`,
			wantLog: "failed to parse telemetry message",
		},
		{
			name:    "missing temperature",
			topic:   "soil/heap-1/telemetry",
			payload: `{"sensor_id":"heap-1"}`,
			wantLog: "invalid telemetry message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := newTestSubscriber(t, &buf)

			var got *shared.Telemetry
			s.SetMessageHandler(func(tel shared.Telemetry) error {
				got = &tel
				return nil
			})

			s.handleMessage(tt.topic, []byte(tt.payload))

			if tt.wantCalled != (got != nil) {
				t.Fatalf("handler called = %v; want %v (log: %s)", got != nil, tt.wantCalled, buf.String())
			}
			if got != nil {
				if got.SensorID != tt.wantSensor {
					t.Errorf("SensorID = %q; want %q", got.SensorID, tt.wantSensor)
				}
				if !got.Timestamp.Equal(ts) {
					t.Errorf("Timestamp = %v; want %v", got.Timestamp, ts)
				}
				if got.Temperature == nil || *got.Temperature != 20.5 {
					t.Errorf("Temperature = %v; want 20.5", got.Temperature)
				}
			}
			if tt.wantLog != "" && !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("log = %q; want it to contain %q", buf.String(), tt.wantLog)
			}
		})
	}
}

func TestHandleMessage_zeroTimestampPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSubscriber(t, &buf)

	var got shared.Telemetry
	s.SetMessageHandler(func(tel shared.Telemetry) error {
		got = tel
		return nil
	})
	s.handleMessage("soil/heap-1/telemetry", []byte(`{"sensor_id":"heap-1","temperature_c":19}`))

	if !got.Timestamp.IsZero() {
		t.Errorf("Timestamp = %v; want zero so the server stamps it", got.Timestamp)
	}
}

func TestHandleMessage_handlerErrorLogged(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSubscriber(t, &buf)
	s.SetMessageHandler(func(shared.Telemetry) error { return errors.New("disk full") })

	s.handleMessage("soil/heap-1/telemetry", []byte(`{"sensor_id":"heap-1","temperature_c":19}`))

	if !strings.Contains(buf.String(), "message handler failed") || !strings.Contains(buf.String(), "disk full") {
		t.Errorf("log = %q; want handler failure", buf.String())
	}
}

func TestHandleMessage_noHandler(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSubscriber(t, &buf)

	s.handleMessage("soil/heap-1/telemetry", []byte(`{"sensor_id":"heap-1","temperature_c":19}`))

	if !strings.Contains(buf.String(), "no handler registered") {
		t.Errorf("log = %q; want dropped message warning", buf.String())
	}
}

func TestSensorFromTopic(t *testing.T) {
	tests := map[string]string{
		"soil/heap-1/telemetry": "heap-1",
		"soil/heap-1/status":    "",
		"soil/telemetry":        "",
		"":                      "",
	}
	for topic, want := range tests {
		if got := sensorFromTopic(topic); got != want {
			t.Errorf("sensorFromTopic(%q) = %q; want %q", topic, got, want)
		}
	}
}

func TestSubscriber_connectAfterDisconnect(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSubscriber(t, &buf)
	s.Disconnect()
	s.Disconnect()

	if err := s.Connect(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Connect() after Disconnect = %v; want ErrStopped", err)
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
}

// refusingBroker accepts TCP connections and closes them at once, counting
// every dial.
func refusingBroker(t *testing.T) (Broker, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	var dials atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			dials.Add(1)
			_ = conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return Broker{Host: "127.0.0.1", Port: addr.Port, ClientID: "retry-test", RetryInterval: 50 * time.Millisecond}, &dials
}

func TestSubscriber_keepsRetryingAfterConnectTimeout(t *testing.T) {
	var buf bytes.Buffer
	b, dials := refusingBroker(t)
	s := NewSubscriber(b, "soil/+/telemetry", testLogger(&buf))
	t.Cleanup(s.Disconnect)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := s.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Connect() = %v; want context.DeadlineExceeded", err)
	}

	after := dials.Load()
	deadline := time.Now().Add(5 * time.Second)
	for dials.Load() < after+3 {
		if time.Now().After(deadline) {
			t.Fatalf("dials after timeout = %d; want at least %d (paho stopped retrying)", dials.Load(), after+3)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true against a broker that never answers")
	}
}

func TestSubscriber_stopCancelsPendingConnect(t *testing.T) {
	var buf bytes.Buffer
	b, dials := refusingBroker(t)
	s := NewSubscriber(b, "soil/+/telemetry", testLogger(&buf))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = s.Connect(ctx)
	s.Disconnect()

	time.Sleep(200 * time.Millisecond)
	stopped := dials.Load()
	time.Sleep(400 * time.Millisecond)
	if got := dials.Load(); got != stopped {
		t.Errorf("dials kept growing after Disconnect: %d -> %d", stopped, got)
	}
}

func TestPublisher_notConnected(t *testing.T) {
	var buf bytes.Buffer
	p := NewPublisher(Broker{Host: "127.0.0.1", Port: 1, ClientID: "pub"}, testLogger(&buf))

	v := 20.5
	err := p.PublishTelemetry(shared.Telemetry{SensorID: "heap-1", Temperature: &v})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishTelemetry() = %v; want ErrNotConnected", err)
	}
}

func TestMarshalTelemetry(t *testing.T) {
	v := 20.5

	t.Run("zero timestamp omitted", func(t *testing.T) {
		data, err := marshalTelemetry(shared.Telemetry{SensorID: "heap-1", Temperature: &v})
		if err != nil {
			t.Fatalf("marshalTelemetry() err = %v", err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if _, ok := m["timestamp"]; ok {
			t.Errorf("payload %s has timestamp; want none", data)
		}
		if m["temperature_c"] != 20.5 {
			t.Errorf("temperature_c = %v; want 20.5", m["temperature_c"])
		}
	})

	t.Run("timestamp sent in UTC", func(t *testing.T) {
		local := time.Date(2025, 3, 1, 2, 10, 0, 0, time.FixedZone("EET", 2*3600))
		data, err := marshalTelemetry(shared.Telemetry{SensorID: "heap-1", Timestamp: local, Temperature: &v})
		if err != nil {
			t.Fatalf("marshalTelemetry() err = %v", err)
		}
		if !strings.Contains(string(data), `"timestamp":"2025-03-01T00:10:00Z"`) {
			t.Errorf("payload = %s; want UTC timestamp", data)
		}
	})
}
