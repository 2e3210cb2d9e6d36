// README: Messaging client publishing lifecycle events over MQTT or Kafka.
package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kafkago "github.com/segmentio/kafka-go"

	"courier/internal/config"
)

var ErrNotConnected = errors.New("messaging not connected")

// Messaging is a publish-only client for the configured backend.
// With backend "none" every Publish is accepted and dropped.
type Messaging struct {
	mu       sync.RWMutex
	cfg      config.MessagingConfig
	mqttConn mqtt.Client
	kafkaW   *kafkago.Writer
}

func NewMessaging(cfg config.MessagingConfig) *Messaging {
	return &Messaging{cfg: cfg}
}

// Connect establishes the backend connection.
func (m *Messaging) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.cfg.Backend {
	case "mqtt":
		opts := mqtt.NewClientOptions().
			AddBroker(m.cfg.MQTT.Broker).
			SetClientID(m.cfg.MQTT.ClientID).
			SetAutoReconnect(true).
			SetConnectRetry(true).
			SetConnectRetryInterval(5 * time.Second)
		client := mqtt.NewClient(opts)
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		m.mqttConn = client
		return nil
	case "kafka":
		if len(m.cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka backend needs at least one broker")
		}
		m.kafkaW = &kafkago.Writer{
			Addr:         kafkago.TCP(m.cfg.Kafka.Brokers...),
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireOne,
		}
		return nil
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unknown messaging backend: %s", m.cfg.Backend)
	}
}

// Publish sends payload to topic. key partitions Kafka messages and is ignored by MQTT.
func (m *Messaging) Publish(ctx context.Context, topic, key string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.cfg.Backend {
	case "mqtt":
		if m.mqttConn == nil || !m.mqttConn.IsConnected() {
			return ErrNotConnected
		}
		token := m.mqttConn.Publish(topic, 1, false, payload)
		select {
		case <-token.Done():
			return token.Error()
		case <-ctx.Done():
			return ctx.Err()
		}
	case "kafka":
		if m.kafkaW == nil {
			return ErrNotConnected
		}
		return m.kafkaW.WriteMessages(ctx, kafkago.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: payload,
		})
	default:
		return nil
	}
}

func (m *Messaging) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mqttConn != nil {
		m.mqttConn.Disconnect(1000)
		m.mqttConn = nil
	}
	if m.kafkaW != nil {
		_ = m.kafkaW.Close()
		m.kafkaW = nil
	}
}
