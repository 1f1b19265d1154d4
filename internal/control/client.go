package control

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// BrokerURL normalizes a broker address: "host:port" becomes
// "tcp://host:port", anything with a scheme is kept.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return fmt.Sprintf("tcp://%s", broker)
}

// Connect establishes a connection to the MQTT broker with automatic
// reconnection.
func Connect(broker, clientID string) (mqtt.Client, error) {
	if broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("control: mqtt connection established",
			"broker", broker,
			"client_id", clientID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("control: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker,
		)
	}

	client := mqtt.NewClient(opts)

	slog.Info("control: connecting to mqtt broker", "broker", broker)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return client, nil
}
