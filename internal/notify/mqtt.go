package notify

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher is the part of an MQTT client the plugin needs.
type Publisher interface {
	Connect(timeout time.Duration) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Disconnect()
}

// MQTTConfig is the notify.mqtt section.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// Validate checks the section once defaults are applied.
func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("notify.mqtt.broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("notify.mqtt.qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.TopicPrefix == "" {
		return fmt.Errorf("notify.mqtt.topic_prefix must not be empty")
	}
	return nil
}

// availabilityTopic carries the retained "online"/"offline" marker. The
// broker publishes "offline" as the will when the connection drops.
func (c MQTTConfig) availabilityTopic() string { return c.TopicPrefix + "/availability" }

func (c MQTTConfig) statusTopic(target string) string {
	return c.TopicPrefix + "/" + target + "/status"
}

// pahoPublisher adapts a paho client.
type pahoPublisher struct {
	cfg    MQTTConfig
	client mqtt.Client
	logger *zap.Logger
}

func newPahoPublisher(cfg MQTTConfig, logger *zap.Logger) Publisher {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(cfg.Timeout).
		SetWill(cfg.availabilityTopic(), "offline", cfg.QoS, true).
		SetOnConnectHandler(func(c mqtt.Client) {
			logger.Info("connected to MQTT broker", zap.String("broker", cfg.Broker))
			c.Publish(cfg.availabilityTopic(), cfg.QoS, true, "online")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("lost MQTT connection", zap.Error(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return &pahoPublisher{cfg: cfg, client: mqtt.NewClient(opts), logger: logger}
}

// Connect waits up to timeout for the first connection. The client keeps
// retrying in the background after a timeout.
func (p *pahoPublisher) Connect(timeout time.Duration) error {
	tok := p.client.Connect()
	if !tok.WaitTimeout(timeout) {
		p.logger.Warn("MQTT broker not reachable yet, retrying in background",
			zap.String("broker", p.cfg.Broker))
		return nil
	}
	return tok.Error()
}

// Publish hands the message to paho without waiting for the broker ack.
// While disconnected paho queues it until the client reconnects.
func (p *pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	tok := p.client.Publish(topic, qos, retained, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	default:
		go func() {
			if tok.WaitTimeout(p.cfg.Timeout) && tok.Error() != nil {
				p.logger.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(tok.Error()))
			}
		}()
		return nil
	}
}

func (p *pahoPublisher) Disconnect() {
	if p.client.IsConnectionOpen() {
		tok := p.client.Publish(p.cfg.availabilityTopic(), p.cfg.QoS, true, "offline")
		tok.WaitTimeout(p.cfg.Timeout)
	}
	p.client.Disconnect(250)
}
