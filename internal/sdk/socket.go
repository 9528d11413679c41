package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nyroxsystems-boop/partsync/internal/message"
)

const (
	socketChannelSize  = 256
	socketPingPeriod   = 15 * time.Second
	socketPingTimeout  = 5 * time.Second
	socketWriteTimeout = 5 * time.Second
)

// wsConn wraps one live websocket connection with channel pumps.
type wsConn struct {
	conn      *websocket.Conn
	msgRx     chan *message.Message
	msgTx     chan *message.Message
	closed    chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		msgRx:   make(chan *message.Message, socketChannelSize),
		msgTx:   make(chan *message.Message, socketChannelSize),
		closed:  make(chan struct{}),
		closing: make(chan struct{}),
		conn:    conn,
	}
}

func (c *wsConn) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
}

func (c *wsConn) Close() {
	c.closeConnection(websocket.StatusNormalClosure, "shutdown")
	c.wg.Wait()
}

func (c *wsConn) closeConnection(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.conn.Close(status, reason)

		c.wg.Wait()

		// msgRx and msgTx stay open so a Send racing the teardown cannot
		// hit a closed channel; closed is the teardown signal
		close(c.closed)
	})
}

func (c *wsConn) readLoop(ctx context.Context) {
	defer func() {
		slog.Debug("socket reader shutdown")
		c.wg.Done()
		c.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			if !isExpectedCloseError(err) {
				slog.Warn("socket RECV", "error", err)
			}
			return
		}

		// malformed frames are consumed and dropped, the connection stays up
		var data *message.Message
		if err := json.Unmarshal(raw, &data); err != nil || data == nil {
			slog.Warn("socket RECV dropped malformed message", "error", err)
			continue
		}

		select {
		case <-c.closing:
			return

		case c.msgRx <- data:

		default:
			slog.Warn("socket RECV buffer full", "dropped", data.Type)
		}
	}
}

func (c *wsConn) writeLoop(ctx context.Context) {
	pingTicker := time.NewTicker(socketPingPeriod)
	defer func() {
		slog.Debug("socket writer shutdown")
		pingTicker.Stop()
		c.wg.Done()
		c.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-c.closing:
			return

		case msg, ok := <-c.msgTx:
			if !ok {
				return
			}

			ctxWrite, cancel := context.WithTimeout(ctx, socketWriteTimeout)
			err := wsjson.Write(ctxWrite, c.conn, msg)
			cancel()

			if err != nil {
				slog.Error("socket SEND", "error", err)
				return
			}
			slog.Debug("socket SEND", "id", msg.Id, "type", msg.Type)

		case <-pingTicker.C:
			// keep the connection alive
			ctxPing, cancel := context.WithTimeout(ctx, socketPingTimeout)
			err := c.conn.Ping(ctxPing)
			cancel()

			if err != nil {
				slog.Error("socket PING", "error", err)
				return
			}
		}
	}
}

// isExpectedCloseError returns true if the error is an expected closure.
func isExpectedCloseError(err error) bool {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}
