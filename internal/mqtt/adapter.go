// Package mqtt implements the push-based MQTT adapter. The broker-side
// gateway publishes framed JSON messages on the updates topic; writes go
// out on the write topic. Every inbound payload is schema-validated.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pv/scada-bridge/internal/adapter"
	"github.com/pv/scada-bridge/internal/logger"
	"github.com/pv/scada-bridge/internal/protocol"
	"github.com/pv/scada-bridge/internal/tag"
)

const (
	connectTimeout   = 10 * time.Second
	keepAlive        = 30 * time.Second
	heartbeatPeriod  = 15 * time.Second
	defaultQoS       = byte(1)
	defaultTopicBase = "scada"
)

// Options configures the MQTT adapter
type Options struct {
	Broker        string // e.g. tcp://broker:1883
	ClientID      string
	Username      string
	Password      string
	TopicBase     string // default: "scada"
	QoS           byte
	MaxReconnects int // default: 10
}

func (o Options) withDefaults() Options {
	if o.TopicBase == "" {
		o.TopicBase = defaultTopicBase
	}
	if o.QoS == 0 {
		o.QoS = defaultQoS
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 10
	}
	return o
}

func (o Options) updatesTopic() string { return o.TopicBase + "/updates" }
func (o Options) writeTopic() string   { return o.TopicBase + "/write" }
func (o Options) pingTopic() string    { return o.TopicBase + "/ping" }

// Adapter is the MQTT protocol adapter
type Adapter struct {
	opts   Options
	client pahomqtt.Client

	tracker adapter.StatusTracker
	subs    *adapter.Subscribers

	mu         sync.RWMutex
	lastValues map[string]tag.Value

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an MQTT adapter (not yet connected)
func New(opts Options) *Adapter {
	return &Adapter{
		opts:       opts.withDefaults(),
		subs:       adapter.NewSubscribers(),
		lastValues: make(map[string]tag.Value),
	}
}

// Connect dials the broker and subscribes to the updates topic
func (a *Adapter) Connect(ctx context.Context) error {
	if a.IsConnected() {
		return nil
	}

	a.tracker.SetState(adapter.StateConnecting)
	a.ctx, a.cancel = context.WithCancel(context.Background())

	clientOpts := pahomqtt.NewClientOptions()
	clientOpts.AddBroker(a.opts.Broker)
	clientOpts.SetClientID(a.opts.ClientID)
	if a.opts.Username != "" {
		clientOpts.SetUsername(a.opts.Username)
	}
	if a.opts.Password != "" {
		clientOpts.SetPassword(a.opts.Password)
	}
	clientOpts.SetCleanSession(true)
	clientOpts.SetKeepAlive(keepAlive)
	clientOpts.SetConnectTimeout(connectTimeout)
	// Reconnection is driven by our own backoff with an attempt cap
	clientOpts.SetAutoReconnect(false)
	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
		a.tracker.SetError(err)
		go a.reconnect()
	})

	client := pahomqtt.NewClient(clientOpts)
	if token := client.Connect(); token.WaitTimeout(connectTimeout) && token.Error() != nil {
		a.tracker.SetError(token.Error())
		return fmt.Errorf("mqtt adapter connect: %w", token.Error())
	}

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	if err := a.subscribeUpdates(); err != nil {
		client.Disconnect(250)
		a.tracker.SetError(err)
		return err
	}

	a.tracker.SetState(adapter.StateConnected)

	a.wg.Add(1)
	go a.heartbeatLoop()

	logger.Info("MQTT adapter connected", "broker", a.opts.Broker, "topic", a.opts.updatesTopic())
	return nil
}

func (a *Adapter) subscribeUpdates() error {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("mqtt client not created")
	}

	token := client.Subscribe(a.opts.updatesTopic(), a.opts.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		a.handlePayload(msg.Payload())
	})
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", a.opts.updatesTopic(), token.Error())
	}
	return nil
}

// Disconnect closes the broker connection
func (a *Adapter) Disconnect() error {
	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
		a.cancel = nil
	}

	a.mu.Lock()
	if a.client != nil {
		a.client.Disconnect(250)
		a.client = nil
	}
	a.mu.Unlock()

	a.tracker.SetState(adapter.StateDisconnected)
	logger.Info("MQTT adapter disconnected")
	return nil
}

// IsConnected returns true while connected to the broker
func (a *Adapter) IsConnected() bool {
	return a.tracker.IsConnected()
}

// ConnectionStatus returns the connection status snapshot
func (a *Adapter) ConnectionStatus() adapter.ConnectionStatus {
	return a.tracker.ConnectionStatus()
}

// Statistics returns adapter counters
func (a *Adapter) Statistics() adapter.Statistics {
	return a.tracker.Statistics()
}

// Subscribe registers a local callback; filtering is local because the
// gateway publishes all tags on one topic. Empty ids = all tags.
func (a *Adapter) Subscribe(ids []string, cb adapter.Callback) adapter.Unsubscribe {
	return a.subs.Add(ids, cb)
}

// ReadTag returns the last pushed value for a tag
func (a *Adapter) ReadTag(ctx context.Context, id string) (tag.Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	v, ok := a.lastValues[id]
	if !ok {
		return tag.Value{}, fmt.Errorf("no value received for tag: %s", id)
	}
	return v, nil
}

// ReadTags returns last pushed values (missing tags are skipped)
func (a *Adapter) ReadTags(ctx context.Context, ids []string) ([]tag.Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	values := make([]tag.Value, 0, len(ids))
	for _, id := range ids {
		if v, ok := a.lastValues[id]; ok {
			values = append(values, v)
		}
	}
	return values, nil
}

// ReadAllTags returns all last pushed values
func (a *Adapter) ReadAllTags(ctx context.Context) ([]tag.Value, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	values := make([]tag.Value, 0, len(a.lastValues))
	for _, v := range a.lastValues {
		values = append(values, v)
	}
	return values, nil
}

// WriteTag publishes a write frame to the write topic
func (a *Adapter) WriteTag(ctx context.Context, id string, value float64) (bool, error) {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return false, fmt.Errorf("mqtt adapter not connected")
	}

	data, err := json.Marshal(protocol.NewWrite(id, value))
	if err != nil {
		return false, fmt.Errorf("marshal write frame: %w", err)
	}

	token := client.Publish(a.opts.writeTopic(), a.opts.QoS, false, data)
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		a.tracker.RecordError()
		return false, fmt.Errorf("publish write for %s: %w", id, token.Error())
	}
	a.tracker.RecordWrite()
	return true, nil
}

// handlePayload validates and dispatches one inbound payload
func (a *Adapter) handlePayload(raw []byte) {
	msg, err := protocol.Validate("mqtt", raw)
	if err != nil {
		a.tracker.RecordError()
		logger.Warn("MQTT payload rejected", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeUpdate:
		a.applyValues([]tag.Value{{
			TagID:     msg.TagID,
			Value:     *msg.Value,
			Quality:   qualityOrGood(msg.Quality),
			Timestamp: msg.ParseTimestamp(),
		}})
	case protocol.TypeBatch, protocol.TypeSnapshot:
		values := make([]tag.Value, 0, len(msg.Tags))
		for _, p := range msg.Tags {
			ts := time.Now().UTC()
			if p.Timestamp != "" {
				if parsed, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
					ts = parsed
				}
			}
			values = append(values, tag.Value{
				TagID:     p.TagID,
				Value:     *p.Value,
				Quality:   qualityOrGood(p.Quality),
				Timestamp: ts,
			})
		}
		a.applyValues(values)
	case protocol.TypePong:
		// app-level heartbeat answered
	case protocol.TypeError:
		logger.Warn("MQTT gateway error", "error", msg.Error)
	}
}

func (a *Adapter) applyValues(values []tag.Value) {
	a.mu.Lock()
	for _, v := range values {
		a.lastValues[v.TagID] = v
	}
	a.mu.Unlock()

	a.tracker.RecordReads(len(values))
	a.subs.Notify(values)
}

// heartbeatLoop publishes app-level pings on top of the MQTT keep-alive
func (a *Adapter) heartbeatLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.mu.RLock()
			client := a.client
			a.mu.RUnlock()
			if client == nil || !client.IsConnected() {
				continue
			}

			data, err := json.Marshal(protocol.NewPing())
			if err != nil {
				continue
			}
			token := client.Publish(a.opts.pingTopic(), 0, false, data)
			if token.WaitTimeout(time.Second) && token.Error() != nil {
				logger.Debug("MQTT heartbeat failed", "error", token.Error())
			}
		}
	}
}

// reconnect re-dials with exponential backoff and an attempt cap.
// After the cap the adapter stays in permanent failure until Connect.
func (a *Adapter) reconnect() {
	backoff := adapter.Backoff{MaxAttempts: a.opts.MaxReconnects}

	for {
		delay, ok := backoff.Next()
		if !ok {
			a.tracker.SetError(fmt.Errorf("reconnect attempts exhausted (%d)", backoff.Attempts()))
			logger.Error("MQTT adapter gave up reconnecting", "attempts", backoff.Attempts())
			return
		}

		select {
		case <-a.ctx.Done():
			return
		case <-time.After(delay):
		}

		a.mu.RLock()
		client := a.client
		a.mu.RUnlock()
		if client == nil {
			return
		}

		if token := client.Connect(); token.WaitTimeout(connectTimeout) && token.Error() != nil {
			a.tracker.SetError(token.Error())
			logger.Warn("MQTT reconnect failed",
				"attempt", backoff.Attempts(), "delay", delay, "error", token.Error())
			continue
		}

		if err := a.subscribeUpdates(); err != nil {
			a.tracker.SetError(err)
			continue
		}

		a.tracker.RecordReconnect()
		a.tracker.SetState(adapter.StateConnected)
		logger.Info("MQTT adapter reconnected", "attempts", backoff.Attempts())
		return
	}
}

func qualityOrGood(q tag.Quality) tag.Quality {
	if q == "" {
		return tag.QualityGood
	}
	return q
}
