package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/nyroxsystems-boop/partsync/internal/message"
)

// Hub owns every live connection. Inbound envelopes are funneled into a
// single FIFO channel; departures are surfaced so the dispatcher can
// release the departing holder's locks.
type Hub struct {
	clients  map[string]*Client // ConnID -> Client
	register chan *Client
	msgs     chan *ClientMessage
	departed chan *Client

	wg sync.WaitGroup
	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		register: make(chan *Client),
		msgs:     make(chan *ClientMessage, 256),
		departed: make(chan *Client, 64),
	}
}

func (h *Hub) Run(ctx context.Context) {
	slog.Info("wshub started")
	defer slog.Info("wshub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ConnID] = client
			slog.Debug("wshub registered", "connId", client.ConnID, "name", client.Info.Name, "active", len(h.clients))
			h.mu.Unlock()

			h.wg.Add(1)
			go client.Start(context.Background())
			go h.pumpClientMessages(client)
			go func() {
				<-client.Closed

				h.mu.Lock()
				delete(h.clients, client.ConnID)
				slog.Debug("wshub removed", "connId", client.ConnID, "name", client.Info.Name, "active", len(h.clients))
				h.mu.Unlock()

				select {
				case h.departed <- client:
				default:
					slog.Warn("wshub departure buffer full", "connId", client.ConnID)
				}
				h.wg.Done()
			}()
		case <-ctx.Done():
			return
		}
	}
}

// Messages returns the FIFO stream of inbound client envelopes.
func (h *Hub) Messages() <-chan *ClientMessage {
	return h.msgs
}

// Departures returns closed connections as they leave the hub.
func (h *Hub) Departures() <-chan *Client {
	return h.departed
}

func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		go func(c *Client) {
			c.Close()
			slog.Debug("wshub killed", "connId", c.ConnID)
		}(client)
	}

	h.wg.Wait()
	slog.Info("wshub shutdown")
}

// Handler upgrades the HTTP connection and registers the client.
// clientName is a required query parameter.
func (h *Hub) Handler(ctx *gin.Context) {
	name := ctx.Query("clientName")
	if name == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "clientName missing"})
		return
	}

	conn, err := websocket.Accept(ctx.Writer, ctx.Request, nil)
	if err != nil {
		slog.Warn("wshub accept", "error", err)
		return
	}
	conn.SetReadLimit(message.MaxPayloadSize)

	client := NewClient(conn, &ConnInfo{
		Name:        name,
		IPAddr:      ctx.ClientIP(),
		ConnectedAt: time.Now(),
	})

	h.register <- client
}

func (h *Hub) SendMessage(connId string, msg *message.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, ok := h.clients[connId]; ok {
		select {
		case client.MsgTx <- msg:
		default:
			slog.Warn("wshub send buffer full", "connId", connId)
		}
	}
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(msg *message.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.MsgTx <- msg:
		default:
			slog.Warn("wshub send buffer full", "connId", client.ConnID, "name", client.Info.Name)
		}
	}
}

// BroadcastExcept sends a message to every client but the named connection.
func (h *Hub) BroadcastExcept(connId string, msg *message.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if client.ConnID == connId {
			continue
		}
		select {
		case client.MsgTx <- msg:
		default:
			slog.Warn("wshub send buffer full", "connId", client.ConnID, "name", client.Info.Name)
		}
	}
}

// CloseConn closes a single connection by id.
func (h *Hub) CloseConn(connId string) {
	h.mu.RLock()
	client, ok := h.clients[connId]
	h.mu.RUnlock()

	if ok {
		go client.Close()
	}
}

// pumpClientMessages forwards a client's inbound envelopes to the hub FIFO.
func (h *Hub) pumpClientMessages(client *Client) {
	for {
		select {
		case <-client.Closed:
			return
		case msg, ok := <-client.MsgRx:
			if !ok {
				return
			}
			h.msgs <- &ClientMessage{
				ConnID:  client.ConnID,
				Info:    client.Info,
				Message: msg,
			}
		}
	}
}
