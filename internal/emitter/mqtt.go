// Package emitter publishes pipeline run state changes to an MQTT broker.
//
// Each transition is published retained on <topic_prefix>/<client_id>/state
// as a msgpack-encoded Status, so a subscriber that connects late still sees
// the current state.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/still-capture/internal/config"
	"github.com/e7canasta/still-capture/internal/monitor"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt not connected")

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Status is the published payload.
type Status struct {
	ClientID  string `msgpack:"client_id"`
	Pipeline  string `msgpack:"pipeline"`
	From      string `msgpack:"from"`
	State     string `msgpack:"state"`
	Cause     string `msgpack:"cause,omitempty"`
	Category  string `msgpack:"category,omitempty"`
	Timestamp int64  `msgpack:"ts"` // unix milliseconds
}

// MQTTEmitter publishes Status messages.
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	Client mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter; call Connect before publishing.
func NewMQTTEmitter(cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg}
}

// Connect establishes the broker connection.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("emitter: mqtt connection established",
			"broker", broker,
			"client_id", e.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		return fmt.Errorf("emitter: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Topic is where states are published.
func (e *MQTTEmitter) Topic() string {
	return fmt.Sprintf("%s/%s/state", e.cfg.TopicPrefix, e.cfg.ClientID)
}

// PublishStatus publishes s, retained.
func (e *MQTTEmitter) PublishStatus(s Status) error {
	if !e.isConnected() {
		e.addError()
		return ErrNotConnected
	}

	if s.ClientID == "" {
		s.ClientID = e.cfg.ClientID
	}
	payload, err := msgpack.Marshal(&s)
	if err != nil {
		e.addError()
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	topic := e.Topic()
	token := e.Client.Publish(topic, e.cfg.QoS, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.addError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.addError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	slog.Debug("emitter: status published",
		"topic", topic,
		"state", s.State,
		"size", len(payload),
	)
	return nil
}

// TransitionHandler returns a monitor handler that publishes every
// transition of the named pipeline. Publish failures are logged.
func (e *MQTTEmitter) TransitionHandler(pipeline string) monitor.TransitionFunc {
	return func(from, to monitor.RunState, cause error) {
		s := Status{
			Pipeline:  pipeline,
			From:      from.String(),
			State:     to.String(),
			Timestamp: time.Now().UnixMilli(),
		}
		if cause != nil {
			s.Cause = cause.Error()
		}
		var perr *monitor.PipelineError
		if errors.As(cause, &perr) {
			s.Category = perr.Category.String()
		}

		if err := e.PublishStatus(s); err != nil {
			slog.Warn("emitter: failed to publish state", "state", s.State, "error", err)
		}
	}
}

// Disconnect closes the broker connection.
func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("emitter: mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Connected: e.connected,
		Published: e.published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) addError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
