package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pauricg23/SOIL-TEMP/internal/config"
)

// Broker identifies the MQTT endpoint and session name.
type Broker struct {
	Host     string
	Port     int
	ClientID string
	// RetryInterval is the pause between failed connect attempts. Zero means 5s.
	RetryInterval time.Duration
}

// BrokerFromConfig picks the MQTT settings out of the process config.
func BrokerFromConfig(cfg config.Config) Broker {
	return Broker{Host: cfg.MQTTBroker, Port: cfg.MQTTPort, ClientID: cfg.MQTTClientID}
}

func (b Broker) URL() string {
	return fmt.Sprintf("tcp://%s:%d", b.Host, b.Port)
}

// newClientOptions holds the session settings shared by Subscriber and
// Publisher. setConnected tracks the connection state of the caller.
func newClientOptions(b Broker, logger *slog.Logger, setConnected func(bool), onConnect func()) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.URL())
	opts.SetClientID(b.ClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	retry := b.RetryInterval
	if retry <= 0 {
		retry = 5 * time.Second
	}
	opts.SetConnectRetryInterval(retry)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		setConnected(true)
		logger.Info("mqtt connected", "broker", b.Host, "port", b.Port, "client_id", b.ClientID)
		if onConnect != nil {
			onConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})
	return opts
}
