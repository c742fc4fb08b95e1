// Package emitter bridges collected luma samples onto an MQTT broker.
//
// LumaEmitter implements lumawatch.Listener: register it with the
// sampler like any other listener and every collected sample is
// published, msgpack-encoded, to <topic_prefix>/<instance_id>/luma.
// Delivery is best-effort, matching the sampler's callback contract -
// a failed publish is counted and logged, never retried.
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/lumawatch"
)

// Sample is the wire payload for one collected luma value.
type Sample struct {
	InstanceID  string    `msgpack:"instance_id"`
	Region      string    `msgpack:"region"`
	Luma        float64   `msgpack:"luma"`
	Seq         uint64    `msgpack:"seq"`
	CollectedAt time.Time `msgpack:"collected_at"`
}

// Config contains LumaEmitter settings.
type Config struct {
	// Broker is the host:port of the MQTT broker (required).
	Broker string

	// InstanceID identifies this sampler deployment (required).
	InstanceID string

	// Region names the sampling region this emitter listens for,
	// carried in the payload (required).
	Region string

	// TopicPrefix is the topic root. Default: "display/luma".
	TopicPrefix string

	// QoS is the MQTT QoS level for sample messages (default 0).
	QoS byte

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// LumaEmitter publishes luma samples to an MQTT broker.
type LumaEmitter struct {
	cfg    Config
	topic  string
	handle lumawatch.Handle
	log    *slog.Logger

	client mqtt.Client

	mu        sync.RWMutex
	connected bool

	seq       atomic.Uint64
	published atomic.Uint64
	errors    atomic.Uint64
}

// New creates an emitter. Connect must be called before samples flow.
func New(cfg Config) (*LumaEmitter, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("emitter: broker is required")
	}
	if cfg.InstanceID == "" {
		return nil, fmt.Errorf("emitter: instance id is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("emitter: region name is required")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "display/luma"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &LumaEmitter{
		cfg:    cfg,
		topic:  fmt.Sprintf("%s/%s/luma", cfg.TopicPrefix, cfg.InstanceID),
		handle: lumawatch.NextHandle(),
		log:    cfg.Logger,
	}, nil
}

// Topic returns the topic samples publish to.
func (e *LumaEmitter) Topic() string {
	return e.topic
}

// Handle implements lumawatch.Listener.
func (e *LumaEmitter) Handle() lumawatch.Handle {
	return e.handle
}

// Connect establishes the connection to the MQTT broker.
func (e *LumaEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(fmt.Sprintf("%s-lumawatch", e.cfg.InstanceID))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		e.log.Info("mqtt connection established",
			"broker", e.cfg.Broker,
			"topic", e.topic)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		e.log.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker)
	}

	e.client = mqtt.NewClient(opts)

	e.log.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// OnSampleCollected implements lumawatch.Listener. The sampler invokes
// this without holding any internal lock, so the blocking publish is
// safe here; failures are counted, logged and dropped.
func (e *LumaEmitter) OnSampleCollected(luma float64) {
	if !e.isConnected() {
		e.errors.Add(1)
		return
	}

	payload, err := msgpack.Marshal(Sample{
		InstanceID:  e.cfg.InstanceID,
		Region:      e.cfg.Region,
		Luma:        luma,
		Seq:         e.seq.Add(1),
		CollectedAt: time.Now(),
	})
	if err != nil {
		e.errors.Add(1)
		e.log.Warn("failed to encode sample", "error", err)
		return
	}

	token := e.client.Publish(e.topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.errors.Add(1)
		e.log.Warn("sample publish timeout", "topic", e.topic)
		return
	}
	if err := token.Error(); err != nil {
		e.errors.Add(1)
		e.log.Warn("sample publish failed", "topic", e.topic, "error", err)
		return
	}

	e.published.Add(1)
	e.log.Debug("sample published",
		"topic", e.topic,
		"region", e.cfg.Region,
		"luma", luma)
}

// Disconnect closes the MQTT connection.
func (e *LumaEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		e.log.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Stats returns a snapshot of emitter statistics.
func (e *LumaEmitter) Stats() Stats {
	return Stats{
		Connected: e.isConnected(),
		Published: e.published.Load(),
		Errors:    e.errors.Load(),
	}
}

func (e *LumaEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
