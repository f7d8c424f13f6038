package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// MQTTPublisher is a Publisher backed by a paho client.
type MQTTPublisher struct {
	broker   string
	clientID string
	client   mqtt.Client

	mu        sync.RWMutex
	connected bool
}

// NewMQTTPublisher creates an unconnected publisher.
func NewMQTTPublisher(broker, clientID string) *MQTTPublisher {
	return &MQTTPublisher{broker: broker, clientID: clientID}
}

// Connect establishes the broker connection. The client reconnects on
// its own afterwards.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.broker)
	opts.SetClientID(p.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		slog.Info("telemetry: mqtt connection established",
			"broker", p.broker,
			"client_id", p.clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect",
			"broker", p.broker,
			"error", err)
	}

	p.client = mqtt.NewClient(opts)
	slog.Info("telemetry: connecting to mqtt broker", "broker", p.broker)

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("telemetry: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: mqtt connection failed: %w", err)
	}

	p.setConnected(true)
	return nil
}

// Publish sends payload, waiting up to publishTimeout for the broker.
func (p *MQTTPublisher) Publish(topic string, qos byte, payload []byte) error {
	if !p.Connected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	return token.Error()
}

// Disconnect closes the connection, waiting up to 250ms for in-flight work.
func (p *MQTTPublisher) Disconnect() {
	if p.client == nil {
		return
	}
	p.setConnected(false)
	p.client.Disconnect(250)
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// Connected reports the broker connection state.
func (p *MQTTPublisher) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}
