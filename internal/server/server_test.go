package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitedesk/sitedesk/internal/assets"
	"github.com/sitedesk/sitedesk/internal/controller"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/hub"
	"github.com/sitedesk/sitedesk/internal/logging"
	"github.com/sitedesk/sitedesk/internal/project"
	"github.com/sitedesk/sitedesk/internal/supervisor"
	"github.com/sitedesk/sitedesk/internal/transform"
)

type fakeController struct {
	mu        sync.Mutex
	assets    map[string]assets.Asset
	state     supervisor.State
	startMode supervisor.Mode
	startErr  error
	stopErr   error
	requests  []transform.Request
	keepRatio []bool
}

func newFakeController() *fakeController {
	return &fakeController{
		state: supervisor.StateStopped,
		assets: map[string]assets.Asset{
			"logo.png":  {Filename: "logo.png", Format: "PNG", Width: 300, Height: 200, ColorMode: "RGBA", ByteSize: 1200},
			"photo.jpg": {Filename: "photo.jpg", Format: "JPEG", Width: 64, Height: 48, ColorMode: "RGB", ByteSize: 800},
		},
	}
}

func (f *fakeController) Status() controller.StatusReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return controller.StatusReport{
		Project: project.Layout{Root: "/site", AssetsDir: "/site/images"},
		Server:  supervisor.Status{State: f.state, URL: "http://localhost:5000"},
	}
}

func (f *fakeController) Assets() ([]string, error) {
	return []string{"logo.png", "photo.jpg"}, nil
}

func (f *fakeController) Inspect(name string) (assets.Asset, error) {
	a, ok := f.assets[name]
	if !ok {
		return assets.Asset{}, siteerrors.NewNotFoundError("ASSET_NOT_FOUND", "asset not found").WithPath(name)
	}
	return a, nil
}

func (f *fakeController) Transform(_ context.Context, req transform.Request, keepRatio bool) (transform.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.keepRatio = append(f.keepRatio, keepRatio)
	f.mu.Unlock()

	if keepRatio {
		req.Params.Height = req.Params.Width * 2 / 3
	}
	if req.Operation == transform.OpCrop && req.Params.Left >= req.Params.Right {
		err := siteerrors.NewBoundsError("CROP_BOUNDS", "crop box is empty")
		return transform.Result{Operation: req.Operation, Source: req.Source, ErrorDetail: err.Error()}, err
	}
	name, err := transform.DerivedName(req.Source, req.Operation, req.Params)
	if err != nil {
		return transform.Result{Operation: req.Operation, Source: req.Source, ErrorDetail: err.Error()}, err
	}
	return transform.Result{Operation: req.Operation, Source: req.Source, OutputFilename: name, Success: true}, nil
}

func (f *fakeController) StartServer(_ context.Context, mode supervisor.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.startMode = mode
	f.state = supervisor.StateStarting
	return nil
}

func (f *fakeController) StopServer(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.state = supervisor.StateStopped
	return nil
}

func newTestServer(t *testing.T, opts Options, ctrl Controller) *httptest.Server {
	t.Helper()
	s := New(opts, ctrl, logging.NewNop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.stopLimiter()
	})
	return ts
}

func getJSON(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp
}

func postJSON(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndHeaders(t *testing.T) {
	ts := newTestServer(t, Options{}, newFakeController())

	var body map[string]string
	resp := getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-1")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "trace-1", resp2.Header.Get("X-Request-ID"))
}

func TestVersionEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{}, newFakeController())
	var body map[string]any
	resp := getJSON(t, ts.URL+"/api/version", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, body["go_version"])
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{}, newFakeController())
	var report controller.StatusReport
	resp := getJSON(t, ts.URL+"/api/status", &report)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, supervisor.StateStopped, report.Server.State)
	assert.Equal(t, "/site", report.Project.Root)
}

func TestAssetEndpoints(t *testing.T) {
	ts := newTestServer(t, Options{}, newFakeController())

	var names []string
	getJSON(t, ts.URL+"/api/assets", &names)
	assert.Equal(t, []string{"logo.png", "photo.jpg"}, names)

	var details []assets.Asset
	getJSON(t, ts.URL+"/api/assets?detail=1", &details)
	require.Len(t, details, 2)
	assert.Equal(t, 300, details[0].Width)

	var one assets.Asset
	resp := getJSON(t, ts.URL+"/api/assets/photo.jpg", &one)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "JPEG", one.Format)

	var errBody ErrorResponse
	resp = getJSON(t, ts.URL+"/api/assets/ghost.png", &errBody)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errBody.Kind)
	assert.Equal(t, "ASSET_NOT_FOUND", errBody.Code)
}

func TestTransformEndpoint(t *testing.T) {
	ctrl := newFakeController()
	ts := newTestServer(t, Options{}, ctrl)

	resp := postJSON(t, ts.URL+"/api/transform",
		`{"source":"logo.png","operation":"resize","params":{"width":150},"keep_ratio":true}`, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var res transform.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Success)
	require.Len(t, ctrl.keepRatio, 1)
	assert.True(t, ctrl.keepRatio[0])

	resp = postJSON(t, ts.URL+"/api/transform", `{"source":"logo.png","operation":"FlipH"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "logo_flipped_h.png", res.OutputFilename)
	assert.Equal(t, transform.OpFlipHorizontal, ctrl.requests[1].Operation)

	resp = postJSON(t, ts.URL+"/api/transform",
		`{"source":"logo.png","operation":"crop","params":{"left":10,"top":0,"right":5,"bottom":5}}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ErrorDetail)

	resp = postJSON(t, ts.URL+"/api/transform", `{"source":"logo.png","operation":"emboss"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/transform", `{"source":"logo.png","operation":"blur","colour":"red"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/transform", `{"source":"logo.png","operation":"convert","params":{"format":"psd"}}`, nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestServerStartStopEndpoints(t *testing.T) {
	ctrl := newFakeController()
	ts := newTestServer(t, Options{}, ctrl)

	resp := postJSON(t, ts.URL+"/api/server/start?mode=detached", "", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, supervisor.ModeDetached, ctrl.startMode)

	resp = postJSON(t, ts.URL+"/api/server/start?mode=sideways", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctrl.startErr = supervisor.ErrAlreadyRunning
	resp = postJSON(t, ts.URL+"/api/server/start", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	ctrl.startErr = siteerrors.NewSpawnError("EXECUTABLE_MISSING", "command not found", nil)
	resp = postJSON(t, ts.URL+"/api/server/start", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var errBody ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	assert.Equal(t, "EXECUTABLE_MISSING", errBody.Code)

	resp = postJSON(t, ts.URL+"/api/server/stop", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctrl.stopErr = siteerrors.NewUnsupportedError("STOP_UNSUPPORTED", "no handle")
	resp = postJSON(t, ts.URL+"/api/server/stop", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	getResp, err := http.Get(ts.URL + "/api/server/stop")
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestOriginCheck(t *testing.T) {
	ts := newTestServer(t, Options{AllowedOrigins: []string{"studio.lan"}}, newFakeController())

	tests := []struct {
		origin string
		status int
	}{
		{"https://evil.example.com", http.StatusForbidden},
		{"http://localhost:3000", http.StatusOK},
		{"http://127.0.0.1:5080", http.StatusOK},
		{"http://studio.lan", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/server/stop", "", http.Header{"Origin": {tt.origin}})
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	resp := postJSON(t, ts.URL+"/api/server/stop", "", http.Header{"Referer": {"https://evil.example.com/page"}})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMutationsAreRateLimited(t *testing.T) {
	ts := newTestServer(t, Options{MutationsPerMinute: 2}, newFakeController())

	for i := 0; i < 2; i++ {
		resp := postJSON(t, ts.URL+"/api/server/stop", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := postJSON(t, ts.URL+"/api/server/stop", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Reads are never limited.
	getResp := getJSON(t, ts.URL+"/api/status", nil)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "sitedesk_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	ts := newTestServer(t, Options{Gatherer: reg}, newFakeController())
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sitedesk_test_total 1")

	noMetrics := newTestServer(t, Options{}, newFakeController())
	resp2, err := http.Get(noMetrics.URL + "/metrics")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestWebsocketThroughMiddleware(t *testing.T) {
	h := hub.New(hub.Options{}, logging.NewNop())
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	ts := newTestServer(t, Options{Events: h}, newFakeController())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte(`"type":"hello"`)))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), recoveryMiddleware(logging.NewNop()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal error")
}

func TestServeStopsOnContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(Options{}, newFakeController(), logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestListenAndServeBadAddr(t *testing.T) {
	s := New(Options{Addr: "256.0.0.1:99999"}, newFakeController(), logging.NewNop())
	err := s.ListenAndServe(context.Background())
	assert.True(t, siteerrors.IsKind(err, siteerrors.KindIO))
}
