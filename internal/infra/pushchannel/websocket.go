// Package pushchannel implements the real-time article change feed over a
// WebSocket connection. Events arrive as JSON frames on a named stream; the
// channel reconnects on failure with bounded attempts and reports every
// lifecycle transition through the status callback.
package pushchannel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"marketfeed/internal/feed"
	"marketfeed/internal/observability/metrics"
)

const (
	// DefaultStream is the change feed carrying article inserts and updates.
	DefaultStream = "articles-changes"

	defaultReconnectAttempts = 5
	defaultReconnectInterval = 5 * time.Second

	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second

	// maxFrameBytes caps a single event frame.
	maxFrameBytes = 1 << 20
)

// Config holds the WebSocket channel configuration.
type Config struct {
	// URL is the WebSocket endpoint (ws:// or wss://).
	URL string

	// Stream is the named event stream to subscribe to. Defaults to
	// DefaultStream.
	Stream string

	// ReconnectAttempts bounds reconnection after a dropped connection.
	ReconnectAttempts int

	// ReconnectInterval is the wait between reconnection attempts.
	ReconnectInterval time.Duration
}

// WebSocket is a feed.PushChannel backed by a WebSocket connection.
type WebSocket struct {
	cfg      Config
	dialer   *websocket.Dialer
	logger   *slog.Logger
	clientID string

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	started bool

	closeOnce sync.Once
	done      chan struct{}
	loopDone  chan struct{}
}

// subscribeFrame is the frame sent after connecting to select the stream.
type subscribeFrame struct {
	Action   string `json:"action"`
	Stream   string `json:"stream"`
	ClientID string `json:"client_id"`
}

// eventFrame is the wire shape of one change event.
type eventFrame struct {
	Type    string          `json:"type"`
	Article json.RawMessage `json:"article"`
}

// NewWebSocket creates a WebSocket push channel.
func NewWebSocket(cfg Config, logger *slog.Logger) *WebSocket {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		logger:   logger.With(slog.String("stream", cfg.Stream)),
		clientID: uuid.NewString(),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Open dials the endpoint, subscribes to the stream and starts the delivery
// loop. A failed initial dial is reported through onState and handed to the
// same bounded reconnection path as a dropped connection, so Open errors
// only on a channel that is already closed.
func (w *WebSocket) Open(ctx context.Context, onEvent func(feed.Event), onState func(feed.SubscriptionState, error)) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("open push channel: channel already closed")
	}
	w.started = true
	w.mu.Unlock()

	onState(feed.StateConnecting, nil)

	conn, err := w.dial(ctx)
	if err != nil {
		onState(feed.StateError, err)
		w.logger.Warn("push channel dial failed, retrying",
			slog.String("error", err.Error()))
		go w.run(ctx, onEvent, onState, false)
		return nil
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = conn.Close()
		close(w.loopDone)
		return fmt.Errorf("open push channel: channel already closed")
	}
	w.conn = conn
	w.mu.Unlock()

	onState(feed.StateSubscribed, nil)

	go w.run(ctx, onEvent, onState, true)
	return nil
}

// Close tears down the connection and stops the delivery loop. Idempotent.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		conn := w.conn
		started := w.started
		w.mu.Unlock()

		close(w.done)
		if conn != nil {
			deadline := time.Now().Add(writeTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
		if started {
			<-w.loopDone
		}
	})
	return nil
}

// dial establishes the connection and sends the subscribe frame.
func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := w.dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s (status %d): %w", w.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", w.cfg.URL, err)
	}

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	sub := subscribeFrame{Action: "subscribe", Stream: w.cfg.Stream, ClientID: w.clientID}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", w.cfg.Stream, err)
	}

	w.logger.Debug("push channel connected", slog.String("client_id", w.clientID))
	return conn, nil
}

// run owns the connection: it reads events, keeps the connection alive with
// pings and dials through the bounded reconnect path whenever it has no
// usable connection, whether the initial dial failed or an established one
// dropped.
func (w *WebSocket) run(ctx context.Context, onEvent func(feed.Event), onState func(feed.SubscriptionState, error), connected bool) {
	defer close(w.loopDone)

	pinger := time.NewTicker(pingInterval)
	defer pinger.Stop()

	go func() {
		for {
			select {
			case <-w.done:
				return
			case <-ctx.Done():
				return
			case <-pinger.C:
				w.mu.Lock()
				conn := w.conn
				w.mu.Unlock()
				if conn != nil {
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				}
			}
		}
	}()

	for {
		if !connected {
			conn, err := w.reconnect(ctx, onState)
			if err != nil {
				w.logger.Warn("push reconnection exhausted, polling carries the feed",
					slog.String("error", err.Error()))
				return
			}

			w.mu.Lock()
			if w.closed {
				w.mu.Unlock()
				_ = conn.Close()
				return
			}
			w.conn = conn
			w.mu.Unlock()
			onState(feed.StateSubscribed, nil)
			connected = true
		}

		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()

		err := w.readEvents(conn, onEvent)
		if w.isClosed() || ctx.Err() != nil {
			return
		}

		onState(feed.StateError, err)
		w.logger.Warn("push connection lost", slog.String("error", err.Error()))
		connected = false
	}
}

// readEvents delivers frames from conn until a read error.
func (w *WebSocket) readEvents(conn *websocket.Conn, onEvent func(feed.Event)) error {
	for {
		var frame eventFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

		ev, ok := decodeEvent(frame)
		if !ok {
			w.logger.Debug("skipping unrecognized push frame", slog.String("type", frame.Type))
			continue
		}
		onEvent(ev)
	}
}

// reconnect retries the dial with bounded attempts.
func (w *WebSocket) reconnect(ctx context.Context, onState func(feed.SubscriptionState, error)) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-w.done:
			return nil, fmt.Errorf("channel closed")
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.cfg.ReconnectInterval):
		}

		onState(feed.StateConnecting, nil)
		conn, err := w.dial(ctx)
		if err == nil {
			w.logger.Info("push channel reconnected", slog.Int("attempt", attempt))
			return conn, nil
		}
		lastErr = err
		onState(feed.StateError, err)
		metrics.RecordPushEvent("reconnect_failed")
	}
	return nil, fmt.Errorf("all %d reconnect attempts failed: %w", w.cfg.ReconnectAttempts, lastErr)
}

func (w *WebSocket) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// decodeEvent maps a wire frame to a feed event. Unknown types and frames
// without an article payload are skipped.
func decodeEvent(frame eventFrame) (feed.Event, bool) {
	var eventType feed.EventType
	switch frame.Type {
	case string(feed.EventInsert):
		eventType = feed.EventInsert
	case string(feed.EventUpdate):
		eventType = feed.EventUpdate
	default:
		return feed.Event{}, false
	}
	if len(frame.Article) == 0 {
		return feed.Event{}, false
	}

	ev := feed.Event{Type: eventType}
	if err := json.Unmarshal(frame.Article, &ev.Article); err != nil {
		return feed.Event{}, false
	}
	return ev, true
}
