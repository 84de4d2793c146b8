package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/logging"
)

func newTestHub(t *testing.T, handler Handler) (*Hub, string) {
	t.Helper()
	h := New(Options{Handler: handler}, logging.NewNop())
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHubGreetsAndBroadcasts(t *testing.T) {
	h, url := newTestHub(t, nil)

	first := dial(t, url)
	second := dial(t, url)
	assert.Equal(t, TypeHello, readEnvelope(t, first).Type)
	assert.Equal(t, TypeHello, readEnvelope(t, second).Type)
	waitForClients(t, h, 2)

	require.NoError(t, h.Broadcast("server_state", map[string]string{"state": "running"}))

	for _, conn := range []*websocket.Conn{first, second} {
		env := readEnvelope(t, conn)
		assert.Equal(t, "server_state", env.Type)
		assert.NotEmpty(t, env.ID)
		data, ok := env.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "running", data["state"])
	}
}

func TestHubRoutesCommands(t *testing.T) {
	handler := func(_ context.Context, cmd Command) (any, error) {
		switch cmd.Type {
		case "status":
			return map[string]string{"state": "stopped"}, nil
		default:
			return nil, siteerrors.NewNotFoundError("UNKNOWN_COMMAND", "unknown command "+cmd.Type)
		}
	}
	_, url := newTestHub(t, handler)
	conn := dial(t, url)
	readEnvelope(t, conn)

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"id":"c1","type":"status"}`)))
	reply := readEnvelope(t, conn)
	assert.Equal(t, TypeResult, reply.Type)
	assert.Equal(t, "c1", reply.ReplyTo)
	assert.Empty(t, reply.Error)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"id":"c2","type":"explode"}`)))
	reply = readEnvelope(t, conn)
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, "c2", reply.ReplyTo)
	assert.Contains(t, reply.Error, "unknown command")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`not json`)))
	reply = readEnvelope(t, conn)
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, "malformed command", reply.Error)
}

func TestHubWithoutHandlerRejectsCommands(t *testing.T) {
	_, url := newTestHub(t, nil)
	conn := dial(t, url)
	readEnvelope(t, conn)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`{"id":"x","type":"status"}`)))
	reply := readEnvelope(t, conn)
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, "x", reply.ReplyTo)
}

func TestHubOriginCheck(t *testing.T) {
	h := New(Options{AllowedOrigins: []string{"dashboard.internal"}}, logging.NewNop())
	defer func() { _ = h.Shutdown(context.Background()) }()

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://localhost:5000", true},
		{"http://127.0.0.1:8080", true},
		{"http://[::1]:8080", true},
		{"https://dashboard.internal", true},
		{"https://evil.example.com", false},
		{"null", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.allowed, h.allowedOrigin(tt.origin))
		})
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, url := newTestHub(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubClientDisconnect(t *testing.T) {
	h, url := newTestHub(t, nil)
	conn := dial(t, url)
	readEnvelope(t, conn)
	waitForClients(t, h, 1)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	waitForClients(t, h, 0)
}

func TestHubShutdown(t *testing.T) {
	h, url := newTestHub(t, nil)
	conn := dial(t, url)
	readEnvelope(t, conn)
	waitForClients(t, h, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
	assert.Equal(t, 0, h.ClientCount())

	err := h.Broadcast("late", nil)
	assert.True(t, errors.Is(err, ErrShutdown))

	// Second shutdown is a no-op.
	require.NoError(t, h.Shutdown(ctx))

	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	_, _, err = conn.Read(readCtx)
	assert.Error(t, err)
}
