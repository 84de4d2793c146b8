package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sitedesk/sitedesk/internal/controller"
	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/supervisor"
)

// Client talks to the control API of a running sitedesk instance.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a client for the API listening on addr (host:port or a
// full URL).
func NewClient(addr string, timeout time.Duration) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		BaseURL: strings.TrimRight(base, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Status fetches the project and server state.
func (c *Client) Status(ctx context.Context) (controller.StatusReport, error) {
	var report controller.StatusReport
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &report)
	return report, err
}

// StartServer asks the instance to launch the site server.
func (c *Client) StartServer(ctx context.Context, mode supervisor.Mode) error {
	q := url.Values{}
	if mode != supervisor.ModeNone {
		q.Set("mode", string(mode))
	}
	return c.do(ctx, http.MethodPost, "/api/server/start", q, nil)
}

// StopServer asks the instance to stop the site server it manages.
func (c *Client) StopServer(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/server/stop", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	target := c.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return siteerrors.NewConfigError("API_URL", fmt.Sprintf("invalid API address %q: %v", c.BaseURL, err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return siteerrors.NewUnreachableError("API_UNREACHABLE", "sitedesk API is not reachable at "+c.BaseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return siteerrors.NewIOError("API_READ", "cannot read API response", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if json.Unmarshal(body, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(body))
		}
		return remoteError(resp.StatusCode, apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return siteerrors.NewDecodeError("API_DECODE", "cannot decode API response", err)
	}
	return nil
}

// remoteError rebuilds a typed error from an API error body so callers can
// branch on the kind the server reported.
func remoteError(status int, resp ErrorResponse) error {
	kind := siteerrors.Kind(resp.Kind)
	if kind == "" {
		kind = siteerrors.KindInternal
	}
	code := resp.Code
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}
	return &siteerrors.SiteError{
		Kind:    kind,
		Code:    code,
		Message: resp.Error,
	}
}
