// Package wsgate implements the push-based WebSocket adapter.
// The gateway sends framed JSON messages (update/batch/snapshot); every
// inbound frame is schema-validated before it is trusted.
package wsgate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pv/scada-bridge/internal/adapter"
	"github.com/pv/scada-bridge/internal/logger"
	"github.com/pv/scada-bridge/internal/protocol"
	"github.com/pv/scada-bridge/internal/tag"
)

const (
	writeTimeout      = 10 * time.Second
	pingInterval      = 15 * time.Second
	pongTimeout       = 45 * time.Second
	defaultReconnects = 10
)

// Options tunes the adapter
type Options struct {
	PingInterval  time.Duration
	PongTimeout   time.Duration
	MaxReconnects int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = pingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = pongTimeout
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = defaultReconnects
	}
	return o
}

// Adapter is the WebSocket protocol adapter
type Adapter struct {
	wsURL string
	opts  Options

	tracker adapter.StatusTracker
	subs    *adapter.Subscribers

	mu         sync.RWMutex
	conn       *websocket.Conn
	lastValues map[string]tag.Value
	// subscriptions sent to the gateway; replayed after reconnect
	pendingSubscriptions map[string]struct{}
	subscribeAll         bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DeriveWSURL converts a base HTTP URL into the gateway websocket URL
func DeriveWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already websocket
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/tags"
	return u.String(), nil
}

// New creates a WebSocket adapter for the gateway at baseURL
func New(baseURL string, opts Options) (*Adapter, error) {
	wsURL, err := DeriveWSURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		wsURL:                wsURL,
		opts:                 opts.withDefaults(),
		subs:                 adapter.NewSubscribers(),
		lastValues:           make(map[string]tag.Value),
		pendingSubscriptions: make(map[string]struct{}),
	}, nil
}

// WSURL returns the derived websocket URL
func (a *Adapter) WSURL() string {
	return a.wsURL
}

// Connect dials the gateway and starts the read and heartbeat loops
func (a *Adapter) Connect(ctx context.Context) error {
	if a.IsConnected() {
		return nil
	}

	a.tracker.SetState(adapter.StateConnecting)

	conn, err := a.dial(ctx)
	if err != nil {
		a.tracker.SetError(err)
		return fmt.Errorf("websocket adapter connect: %w", err)
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	a.tracker.SetState(adapter.StateConnected)
	a.replaySubscriptions()

	a.wg.Add(2)
	go a.readLoop()
	go a.pingLoop()

	logger.Info("WebSocket adapter connected", "url", a.wsURL)
	return nil
}

func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, a.wsURL, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(a.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(a.opts.PongTimeout))
		return nil
	})
	return conn, nil
}

// Disconnect closes the connection and stops all loops
func (a *Adapter) Disconnect() error {
	if a.cancel != nil {
		a.cancel()
	}

	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.mu.Unlock()

	if a.cancel != nil {
		a.wg.Wait()
		a.cancel = nil
	}

	a.tracker.SetState(adapter.StateDisconnected)
	logger.Info("WebSocket adapter disconnected")
	return nil
}

// IsConnected returns true while the gateway connection is up
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

// Subscribe registers a local callback and forwards the subscription
// to the gateway. Empty ids = all tags.
func (a *Adapter) Subscribe(ids []string, cb adapter.Callback) adapter.Unsubscribe {
	unsub := a.subs.Add(ids, cb)

	a.mu.Lock()
	if len(ids) == 0 {
		a.subscribeAll = true
	}
	for _, id := range ids {
		a.pendingSubscriptions[id] = struct{}{}
	}
	a.mu.Unlock()

	if err := a.send(protocol.NewSubscribe(ids)); err != nil {
		logger.Warn("WebSocket subscribe not sent, will replay on reconnect", "error", err)
	}
	return unsub
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

// WriteTag publishes a write frame. Access gating happens upstream;
// the gateway answers rejected writes with an error frame.
func (a *Adapter) WriteTag(ctx context.Context, id string, value float64) (bool, error) {
	if !a.IsConnected() {
		return false, fmt.Errorf("websocket adapter not connected")
	}
	if err := a.send(protocol.NewWrite(id, value)); err != nil {
		a.tracker.RecordError()
		return false, err
	}
	a.tracker.RecordWrite()
	return true, nil
}

func (a *Adapter) send(msg protocol.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

// replaySubscriptions re-sends subscription state after (re)connect
func (a *Adapter) replaySubscriptions() {
	a.mu.RLock()
	all := a.subscribeAll
	ids := make([]string, 0, len(a.pendingSubscriptions))
	for id := range a.pendingSubscriptions {
		ids = append(ids, id)
	}
	a.mu.RUnlock()

	if all {
		ids = nil
	} else if len(ids) == 0 {
		return
	}
	if err := a.send(protocol.NewSubscribe(ids)); err != nil {
		logger.Warn("WebSocket subscription replay failed", "error", err)
	}
}

func (a *Adapter) readLoop() {
	defer a.wg.Done()

	for {
		a.mu.RLock()
		conn := a.conn
		a.mu.RUnlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-a.ctx.Done():
				return
			default:
			}
			logger.Warn("WebSocket read failed", "error", err)
			a.reconnect()
			return
		}

		a.handleFrame(raw)
	}
}

// handleFrame validates and dispatches one inbound frame
func (a *Adapter) handleFrame(raw []byte) {
	msg, err := protocol.Validate("websocket", raw)
	if err != nil {
		// Reject malformed input instead of crashing on it
		a.tracker.RecordError()
		logger.Warn("WebSocket frame rejected", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeUpdate:
		a.applyValues([]tag.Value{payloadValue(msg.TagID, *msg.Value, msg.Quality, msg.ParseTimestamp())})
	case protocol.TypeBatch, protocol.TypeSnapshot:
		values := make([]tag.Value, 0, len(msg.Tags))
		for _, p := range msg.Tags {
			ts := time.Now().UTC()
			if p.Timestamp != "" {
				if parsed, err := time.Parse(time.RFC3339Nano, p.Timestamp); err == nil {
					ts = parsed
				}
			}
			values = append(values, payloadValue(p.TagID, *p.Value, p.Quality, ts))
		}
		a.applyValues(values)
	case protocol.TypePing:
		if err := a.send(protocol.Message{Type: protocol.TypePong}); err != nil {
			logger.Debug("WebSocket pong not sent", "error", err)
		}
	case protocol.TypePong:
		// heartbeat answered; read deadline already extended
	case protocol.TypeError:
		logger.Warn("WebSocket gateway error", "error", msg.Error)
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

func (a *Adapter) pingLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			conn := a.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					logger.Debug("WebSocket ping failed", "error", err)
				}
			}
			a.mu.Unlock()
		}
	}
}

// reconnect re-dials with exponential backoff and an attempt cap.
// After the cap the adapter stays in permanent failure until Connect.
func (a *Adapter) reconnect() {
	backoff := adapter.Backoff{MaxAttempts: a.opts.MaxReconnects}

	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.mu.Unlock()

	for {
		delay, ok := backoff.Next()
		if !ok {
			a.tracker.SetError(fmt.Errorf("reconnect attempts exhausted (%d)", backoff.Attempts()))
			logger.Error("WebSocket adapter gave up reconnecting", "attempts", backoff.Attempts())
			return
		}

		select {
		case <-a.ctx.Done():
			return
		case <-time.After(delay):
		}

		conn, err := a.dial(a.ctx)
		if err != nil {
			a.tracker.SetError(err)
			logger.Warn("WebSocket reconnect failed",
				"attempt", backoff.Attempts(), "delay", delay, "error", err)
			continue
		}

		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()

		a.tracker.RecordReconnect()
		a.tracker.SetState(adapter.StateConnected)
		a.replaySubscriptions()

		a.wg.Add(1)
		go a.readLoop()

		logger.Info("WebSocket adapter reconnected", "attempts", backoff.Attempts())
		return
	}
}

func payloadValue(id string, value float64, quality tag.Quality, ts time.Time) tag.Value {
	if quality == "" {
		quality = tag.QualityGood
	}
	return tag.Value{TagID: id, Value: value, Quality: quality, Timestamp: ts}
}
