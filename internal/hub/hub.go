// Package hub pushes supervisor and asset events to websocket clients and
// routes their commands to the controller.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/logging"
)

// ErrShutdown is returned by Broadcast after Shutdown.
var ErrShutdown = errors.New("hub shut down")

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	readLimit    = 64 << 10
)

// Options configures a Hub.
type Options struct {
	// AllowedOrigins are host patterns accepted in addition to loopback.
	AllowedOrigins []string
	SendBuffer     int
	Handler        Handler
}

// Hub owns all websocket clients. One goroutine serializes registration,
// removal, and broadcast.
type Hub struct {
	clients      map[*websocket.Conn]*client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *client
	unregister chan *websocket.Conn

	allowed    []string
	sendBuffer int
	handler    Handler
	logger     logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	done         chan struct{}
}

// New creates a hub and starts its loop.
func New(opts Options, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client, 32),
		unregister: make(chan *websocket.Conn, 32),
		allowed:    opts.AllowedOrigins,
		sendBuffer: opts.SendBuffer,
		handler:    opts.Handler,
		logger:     logger.WithComponent("hub"),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	if origin := r.Header.Get("Origin"); origin != "" && !h.allowedOrigin(origin) {
		h.logger.Warn(r.Context(), nil, "Websocket origin rejected", "origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origins were checked above.
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "Websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(readLimit)

	c := &client{
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
		remote: r.RemoteAddr,
	}

	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	}

	// Keep the handler alive for the connection's lifetime so the server
	// tracks it.
	h.serveClient(c)
}

// allowedOrigin accepts loopback origins and configured hosts.
func (h *Hub) allowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	for _, pattern := range h.allowed {
		if pattern == host || pattern == u.Host {
			return true
		}
	}
	return false
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.registerClient(c)
		case conn := <-h.unregister:
			h.unregisterClient(conn)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) registerClient(c *client) {
	h.clientsMutex.Lock()
	h.clients[c.conn] = c
	total := len(h.clients)
	h.clientsMutex.Unlock()

	h.logger.Info(h.ctx, "Websocket client connected", "remote", c.remote, "clients", total)
	h.queue(c, Envelope{ID: uuid.NewString(), Type: TypeHello, Timestamp: time.Now()})
}

func (h *Hub) unregisterClient(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	c, exists := h.clients[conn]
	if exists {
		delete(h.clients, conn)
		close(c.send)
	}
	total := len(h.clients)
	h.clientsMutex.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Info(h.ctx, "Websocket client disconnected", "remote", c.remote, "clients", total)
	}
}

func (h *Hub) broadcastToClients(message []byte) {
	h.clientsMutex.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMutex.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- message:
		default:
			// Slow consumer; drop it rather than stall everyone.
			h.dropClient(c.conn)
		}
	}
}

func (h *Hub) dropClient(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	default:
		go func() {
			select {
			case h.unregister <- conn:
			case <-h.ctx.Done():
			}
		}()
	}
}

// queue sends env to one client. Called from the hub goroutine or a
// client's read loop while the client is registered.
func (h *Hub) queue(c *client, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error(h.ctx, err, "Cannot encode websocket message", "type", env.Type)
		return
	}

	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	if _, ok := h.clients[c.conn]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.dropClient(c.conn)
	}
}

func (h *Hub) serveClient(c *client) {
	defer h.dropClient(c.conn)

	go h.writeToClient(c)
	h.readFromClient(c)
}

func (h *Hub) readFromClient(c *client) {
	for {
		_, message, err := c.conn.Read(h.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure &&
				websocket.CloseStatus(err) != websocket.StatusGoingAway && h.ctx.Err() == nil {
				h.logger.Debug(h.ctx, "Websocket read ended", "remote", c.remote, "error", err.Error())
			}
			return
		}
		h.queue(c, h.handleCommand(message))
	}
}

func (h *Hub) handleCommand(message []byte) Envelope {
	reply := Envelope{ID: uuid.NewString(), Type: TypeResult, Timestamp: time.Now()}

	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil || cmd.Type == "" {
		reply.Type = TypeError
		reply.Error = "malformed command"
		return reply
	}
	reply.ReplyTo = cmd.ID

	if h.handler == nil {
		reply.Type = TypeError
		reply.Error = "commands are not accepted"
		return reply
	}

	data, err := h.handler(h.ctx, cmd)
	if err != nil {
		reply.Type = TypeError
		reply.Error = siteerrors.Describe(err)
		return reply
	}
	reply.Data = data
	return reply
}

func (h *Hub) writeToClient(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.dropClient(c.conn)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				h.dropClient(c.conn)
				return
			}

		case <-h.ctx.Done():
			return
		}
	}
}

// Broadcast sends one message of type typ to every client. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(typ string, data any) error {
	if h.ctx.Err() != nil {
		return ErrShutdown
	}
	message, err := json.Marshal(Envelope{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	})
	if err != nil {
		return siteerrors.NewInternalError("HUB_ENCODE", "cannot encode broadcast", err)
	}

	select {
	case h.broadcast <- message:
		return nil
	case <-h.ctx.Done():
		return ErrShutdown
	default:
		h.logger.Warn(h.ctx, nil, "Broadcast queue full, dropping message", "type", typ)
		return nil
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client and stops the hub loop.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.cancel()

		select {
		case <-h.done:
		case <-ctx.Done():
		}

		h.clientsMutex.Lock()
		for conn, c := range h.clients {
			close(c.send)
			_ = conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
		h.clients = make(map[*websocket.Conn]*client)
		h.clientsMutex.Unlock()

		h.logger.Info(ctx, "Hub shut down")
	})
	return ctx.Err()
}
