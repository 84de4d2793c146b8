package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
)

// Message types pushed to clients.
const (
	TypeHello  = "hello"
	TypeResult = "result"
	TypeError  = "error"
)

// Envelope is every message the hub writes.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Command is a request read from a client.
type Command struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Handler answers one client command. The returned value becomes the Data
// of the reply.
type Handler func(ctx context.Context, cmd Command) (any, error)

// client is one connected dashboard.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}
