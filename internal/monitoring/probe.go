package monitoring

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
)

// Prober checks whether the site server answers. A nil error means alive.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber issues a GET against URL. Any 2xx response is alive; other
// statuses, transport errors, and timeouts are not.
type HTTPProber struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPProber creates a prober for url bounded by timeout.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		URL:     url,
		Timeout: timeout,
		Client: &http.Client{
			// Redirects are followed and judged by their final status.
			Transport: &http.Transport{DisableKeepAlives: true},
		},
	}
}

// Probe performs one bounded request.
func (p *HTTPProber) Probe(ctx context.Context) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return siteerrors.NewConfigError("PROBE_URL", fmt.Sprintf("invalid probe URL %q: %v", p.URL, err))
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return siteerrors.NewUnreachableError("PROBE_FAILED", "server did not answer", err).
			WithContext("url", p.URL)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return siteerrors.NewUnreachableError("PROBE_STATUS",
			fmt.Sprintf("server answered %d", resp.StatusCode), nil).
			WithContext("url", p.URL).
			WithContext("status", resp.StatusCode)
	}
	return nil
}
