package sdk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullURL(t *testing.T) {
	c := New(Config{ServerURL: "http://localhost:3777", ClientName: "alice"})
	u, err := c.fullURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:3777/ws?clientName=alice", u)
}

func TestFullURLWithToken(t *testing.T) {
	c := New(Config{ServerURL: "https://relay.example.com", ClientName: "bob", Token: "s3cret"})
	u, err := c.fullURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com/ws?clientName=bob&token=s3cret", u)
}

func TestToWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://x/ws", toWebsocketURL("http://x/ws"))
	assert.Equal(t, "wss://x/ws", toWebsocketURL("https://x/ws"))
	assert.Equal(t, "ws://x/ws", toWebsocketURL("ws://x/ws"))
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Config{ServerURL: "http://localhost:3777", ClientName: "alice"})
	assert.ErrorIs(t, c.Send(nil), ErrNotConnected)
	assert.False(t, c.IsConnected())
}
