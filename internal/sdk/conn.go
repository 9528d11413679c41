// Package sdk is the client's transport to the relay: one auto-reconnecting
// websocket with request/response correlation on top.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nyroxsystems-boop/partsync/internal/message"
)

const (
	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay = 2 * time.Second
	// MaxReconnectAttempts bounds the reconnect loop.
	MaxReconnectAttempts = 50

	connectTimeout = 10 * time.Second
	requestTimeout = 30 * time.Second
	wsPath         = "/ws"
)

var (
	ErrNotConnected   = errors.New("sdk: not connected")
	ErrSendBufferFull = errors.New("sdk: send buffer full")
)

type Config struct {
	ServerURL  string
	ClientName string
	Token      string
}

// Conn manages the websocket lifecycle against the relay.
type Conn struct {
	cfg       Config
	ws        *wsConn
	messages  chan *message.Message
	ctx       context.Context
	cancel    context.CancelFunc
	onConnect func()

	mu               sync.RWMutex
	connected        bool
	reconnectAttempt int
	pending          map[string]chan *message.Message
}

func New(cfg Config) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan *message.Message, socketChannelSize),
		pending:  make(map[string]chan *message.Message),
	}
}

// OnConnect registers a callback invoked after every successful connect,
// including reconnects. The syncer hangs its handshake off this.
func (c *Conn) OnConnect(fn func()) {
	c.onConnect = fn
}

// Connect dials the relay and starts the connection manager.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.ws != nil {
		return nil
	}

	ws, err := c.connectLocked(ctx)
	if err != nil {
		return fmt.Errorf("sdk: connect failed: %w", err)
	}

	go c.manageConnection(ws)
	return nil
}

func (c *Conn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Messages returns the stream of unsolicited relay messages.
func (c *Conn) Messages() <-chan *message.Message {
	return c.messages
}

// Send queues a message on the live connection.
func (c *Conn) Send(msg *message.Message) error {
	c.mu.RLock()
	ws := c.ws
	connected := c.connected
	c.mu.RUnlock()

	if !connected || ws == nil {
		return ErrNotConnected
	}

	select {
	case ws.msgTx <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Request sends a message and waits for the reply carrying the same
// envelope id.
func (c *Conn) Request(ctx context.Context, msg *message.Message) (*message.Message, error) {
	reply := make(chan *message.Message, 1)

	c.mu.Lock()
	c.pending[msg.Id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.Id)
		c.mu.Unlock()
	}()

	if err := c.Send(msg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("sdk: request %s timed out: %w", msg.Type, ctx.Err())
	}
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel()

	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.connected = false
	slog.Info("sdk closed")
}

// connectLocked dials a new websocket (must be called with lock held).
func (c *Conn) connectLocked(ctx context.Context) (*wsConn, error) {
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
		c.connected = false
	}

	wsURL, err := c.fullURL()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	conn.SetReadLimit(message.MaxPayloadSize)

	ws := newWSConn(conn)
	ws.Start(c.ctx)

	c.ws = ws
	c.connected = true
	c.reconnectAttempt = 0

	slog.Info("sdk connected", "server", c.cfg.ServerURL)
	return ws, nil
}

func (c *Conn) manageConnection(ws *wsConn) {
	go c.consumeMessages(ws)

	if c.onConnect != nil {
		go c.onConnect()
	}

	select {
	case <-ws.closed:
		slog.Info("sdk disconnected, will reconnect")

		c.mu.Lock()
		if c.ws == ws {
			c.ws = nil
			c.connected = false
		}
		c.mu.Unlock()

		select {
		case <-c.ctx.Done():
			return
		default:
			c.reconnectLoop()
		}

	case <-c.ctx.Done():
		return
	}
}

func (c *Conn) consumeMessages(ws *wsConn) {
	for {
		select {
		case <-c.ctx.Done():
			return

		case <-ws.closed:
			return

		case msg, ok := <-ws.msgRx:
			if !ok {
				return
			}

			// replies to in-flight requests are routed by envelope id
			c.mu.RLock()
			reply, isReply := c.pending[msg.Id]
			c.mu.RUnlock()

			if isReply {
				reply <- msg
				continue
			}

			select {
			case c.messages <- msg:
			default:
				slog.Warn("sdk rx buffer full, dropped", "id", msg.Id, "type", msg.Type)
			}
		}
	}
}

// reconnectLoop retries with a fixed delay up to the attempt bound.
func (c *Conn) reconnectLoop() {
	for {
		c.mu.Lock()
		c.reconnectAttempt++
		attempt := c.reconnectAttempt
		c.mu.Unlock()

		if attempt > MaxReconnectAttempts {
			slog.Error("sdk max reconnect attempts reached", "attempts", attempt-1)
			return
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(ReconnectDelay):
		}

		slog.Info("sdk reconnecting", "attempt", attempt)

		c.mu.Lock()
		ws, err := c.connectLocked(c.ctx)
		c.mu.Unlock()

		if err == nil {
			go c.manageConnection(ws)
			return
		}
		slog.Warn("sdk reconnect failed", "attempt", attempt, "error", err)
	}
}

// fullURL builds the websocket URL with identity query parameters.
func (c *Conn) fullURL() (string, error) {
	base, err := url.JoinPath(c.cfg.ServerURL, wsPath)
	if err != nil {
		return "", fmt.Errorf("join path: %w", err)
	}

	query := url.Values{}
	query.Set("clientName", c.cfg.ClientName)
	if c.cfg.Token != "" {
		query.Set("token", c.cfg.Token)
	}

	return toWebsocketURL(base + "?" + query.Encode()), nil
}

// toWebsocketURL converts an HTTP URL to a WebSocket URL
func toWebsocketURL(u string) string {
	if strings.HasPrefix(u, "https://") {
		return "wss://" + u[8:]
	} else if strings.HasPrefix(u, "http://") {
		return "ws://" + u[7:]
	}
	return u
}
