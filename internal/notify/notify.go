// Package notify forwards reachability status changes to an MQTT broker as
// retained JSON messages, one topic per target.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/reach"
	"github.com/HerbHall/netreach/internal/version"
	"github.com/HerbHall/netreach/pkg/plugin"
	"github.com/HerbHall/netreach/pkg/reachability"
)

const (
	Name = "notify"

	defaultTimeout = 5 * time.Second
)

var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
)

// Option configures a Module.
type Option func(*Module)

// WithPublisherFactory replaces the paho client, e.g. in tests.
func WithPublisherFactory(fn func(MQTTConfig, *zap.Logger) Publisher) Option {
	return func(m *Module) { m.newPublisher = fn }
}

// message is the retained payload on <prefix>/<target>/status.
type message struct {
	Target    string              `json:"target"`
	Status    reachability.Status `json:"status"`
	Previous  reachability.Status `json:"previous"`
	Reachable bool                `json:"reachable"`
	Flags     string              `json:"flags"`
	At        time.Time           `json:"at"`
}

// Module publishes status changes to MQTT.
type Module struct {
	logger       *zap.Logger
	cfg          MQTTConfig
	newPublisher func(MQTTConfig, *zap.Logger) Publisher
	pub          Publisher

	mu        sync.Mutex
	running   bool
	published int
	failed    int
	lastErr   error
}

// New creates the plugin.
func New(opts ...Option) *Module {
	m := &Module{logger: zap.NewNop(), newPublisher: newPahoPublisher}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         Name,
		Version:      "0.1.0",
		Description:  "MQTT publication of reachability changes",
		Dependencies: []string{reach.Name},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		m.logger = deps.Logger
	}
	cfg := ConfigFrom(deps.Config)
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfg = cfg
	return nil
}

// ConfigFrom reads notify.mqtt key by key, so environment overrides and
// defaults apply per field.
func ConfigFrom(c plugin.Config) MQTTConfig {
	cfg := MQTTConfig{
		ClientID:    version.ClientID(),
		TopicPrefix: "netreach",
		QoS:         1,
		Timeout:     defaultTimeout,
	}
	if c == nil {
		return cfg
	}
	for key, dst := range map[string]*string{
		"notify.mqtt.broker":       &cfg.Broker,
		"notify.mqtt.client_id":    &cfg.ClientID,
		"notify.mqtt.username":     &cfg.Username,
		"notify.mqtt.password":     &cfg.Password,
		"notify.mqtt.topic_prefix": &cfg.TopicPrefix,
	} {
		if v := c.GetString(key); v != "" {
			*dst = v
		}
	}
	if c.IsSet("notify.mqtt.qos") {
		cfg.QoS = byte(c.GetInt("notify.mqtt.qos"))
	}
	if d := c.GetDuration("notify.mqtt.timeout"); d > 0 {
		cfg.Timeout = d
	}
	return cfg
}

func (m *Module) Start(_ context.Context) error {
	pub := m.newPublisher(m.cfg, m.logger)
	if err := pub.Connect(m.cfg.Timeout); err != nil {
		return fmt.Errorf("connect to %s: %w", m.cfg.Broker, err)
	}

	m.mu.Lock()
	m.pub = pub
	m.running = true
	m.mu.Unlock()
	m.logger.Info("notify module started",
		zap.String("broker", m.cfg.Broker),
		zap.String("topic_prefix", m.cfg.TopicPrefix),
	)
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	pub := m.pub
	m.pub = nil
	m.running = false
	m.mu.Unlock()

	if pub != nil {
		pub.Disconnect()
	}
	m.logger.Info("notify module stopped")
	return nil
}

func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: reach.TopicStatusChanged, Handler: m.handleStatusChanged},
	}
}

// handleStatusChanged publishes every change, including flag-only ones, so
// the retained message always mirrors the latest flags.
func (m *Module) handleStatusChanged(_ context.Context, event plugin.Event) {
	change, ok := event.Payload.(reach.StatusChange)
	if !ok {
		return
	}
	payload, err := json.Marshal(message{
		Target:    change.Target,
		Status:    change.Current,
		Previous:  change.Previous,
		Reachable: change.Current.Reachable(),
		Flags:     change.Trace,
		At:        change.At,
	})
	if err != nil {
		m.logger.Error("failed to encode MQTT message", zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	topic := m.cfg.statusTopic(change.Target)
	if err := m.pub.Publish(topic, m.cfg.QoS, true, payload); err != nil {
		m.failed++
		m.lastErr = err
		m.logger.Warn("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	m.published++
}

func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	details := map[string]string{
		"broker":    m.cfg.Broker,
		"published": fmt.Sprint(m.published),
		"failed":    fmt.Sprint(m.failed),
	}
	switch {
	case !m.running:
		return plugin.HealthStatus{Status: "unhealthy", Message: "not running", Details: details}
	case m.lastErr != nil:
		return plugin.HealthStatus{Status: "degraded", Message: m.lastErr.Error(), Details: details}
	default:
		return plugin.HealthStatus{Status: "healthy", Details: details}
	}
}
