package ws

import (
	"time"

	"github.com/nyroxsystems-boop/partsync/internal/message"
)

// ConnInfo describes one live connection. Name comes from the clientName
// query parameter at connect time.
type ConnInfo struct {
	Name        string
	IPAddr      string
	ConnectedAt time.Time
}

// ClientMessage pairs an inbound envelope with its origin connection.
type ClientMessage struct {
	ConnID  string
	Info    *ConnInfo
	Message *message.Message
}
