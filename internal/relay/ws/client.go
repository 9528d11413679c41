package ws

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
	"github.com/google/uuid"

	"github.com/nyroxsystems-boop/partsync/internal/message"
)

const (
	writeTimeout   = 20 * time.Second
	shutdownReason = "shutdown"
)

// Client represents a connected peer on the relay side.
type Client struct {
	ConnID string
	Info   *ConnInfo
	MsgRx  chan *message.Message
	MsgTx  chan *message.Message
	Closed chan struct{}

	conn      *websocket.Conn
	wsDone    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewClient(conn *websocket.Conn, info *ConnInfo) *Client {
	return &Client{
		ConnID: uuid.NewString(),
		Info:   info,
		MsgRx:  make(chan *message.Message, 256),
		MsgTx:  make(chan *message.Message, 256),
		Closed: make(chan struct{}),
		wsDone: make(chan struct{}),
		conn:   conn,
	}
}

func (c *Client) Start(ctx context.Context) {
	slog.Debug("wsclient start", "connId", c.ConnID)
	c.wg.Add(2)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
}

func (c *Client) Close() {
	c.closeConnection(websocket.StatusNormalClosure, shutdownReason)
	c.wg.Wait()
}

func (c *Client) closeConnection(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		// trigger internal close
		close(c.wsDone)
		c.conn.Close(status, reason)

		// wait for both read and write loops to finish
		c.wg.Wait()

		// MsgRx and MsgTx stay open: the hub may still be selecting on
		// them while racing a broadcast against this disconnect. Closed
		// is the only teardown signal consumers watch.
		close(c.Closed)
		slog.Debug("wsclient closed", "connId", c.ConnID)
	})
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		slog.Debug("wsclient reader shutdown", "connId", c.ConnID)
		c.wg.Done()
		c.closeConnection(websocket.StatusNormalClosure, shutdownReason)
	}()

	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				// connection closed by client
			} else if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusNoStatusRcvd {
				slog.Warn("wsclient reader", "error", err, "connId", c.ConnID)
			}
			return
		}

		// a frame that fails to decode is already consumed; log it and
		// keep the connection
		var data *message.Message
		if err := json.Unmarshal(raw, &data); err != nil || data == nil {
			slog.Warn("wsclient reader dropped malformed message", "connId", c.ConnID, "error", err)
			continue
		}

		select {
		case <-c.wsDone:
			return

		case c.MsgRx <- data:
			// pushed to receive queue

		default:
			slog.Warn("wsclient reader buffer full", "connId", c.ConnID, "dropped", data.Type)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	defer func() {
		slog.Debug("wsclient writer shutdown", "connId", c.ConnID)
		c.wg.Done()
		c.closeConnection(websocket.StatusNormalClosure, shutdownReason)
	}()

	for {
		select {
		case msg := <-c.MsgTx:
			ctxWrite, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(ctxWrite, c.conn, msg)
			cancel()
			if err != nil {
				slog.Error("wsclient writer", "connId", c.ConnID, "msgId", msg.Id, "msgType", msg.Type, "error", err)
			} else {
				slog.Debug("wsclient writer", "connId", c.ConnID, "msgId", msg.Id, "msgType", msg.Type)
			}

		case <-c.wsDone:
			return

		case <-ctx.Done():
			return
		}
	}
}
