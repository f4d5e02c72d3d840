package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ab1355/ModuMind/internal/registry"
)

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)

const (
	defaultHealthPath       = "/health"
	defaultMaxResponseBytes = 8 << 20
)

// HTTPClient implements Client with JSON over HTTP POST.
type HTTPClient struct {
	http       *http.Client
	healthPath string
	maxBody    int64
	userAgent  string
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client entirely. Per-call
// deadlines come from the context, so the client's own Timeout should
// normally be left at zero.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// WithHealthPath sets the path probed by Probe.
func WithHealthPath(p string) ClientOption {
	return func(c *HTTPClient) {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		c.healthPath = p
	}
}

// WithMaxResponseBytes caps how much of a response body is read.
func WithMaxResponseBytes(n int64) ClientOption {
	return func(c *HTTPClient) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithUserAgent sets the User-Agent header on outbound requests.
func WithUserAgent(ua string) ClientOption {
	return func(c *HTTPClient) {
		c.userAgent = ua
	}
}

// NewHTTPClient creates a dispatch client.
func NewHTTPClient(opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		http:       &http.Client{},
		healthPath: defaultHealthPath,
		maxBody:    defaultMaxResponseBytes,
		userAgent:  "modumind",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call sends req to agent.Address and classifies the reply.
func (c *HTTPClient) Call(ctx context.Context, agent registry.Descriptor, req Request, timeout time.Duration) Attempt {
	start := time.Now()
	outcome := c.call(ctx, agent.Address, req, timeout)
	return Attempt{
		Agent:    agent.Name,
		Start:    start,
		Duration: time.Since(start),
		Outcome:  outcome,
	}
}

func (c *HTTPClient) call(ctx context.Context, endpoint string, req Request, timeout time.Duration) Outcome {
	body, err := json.Marshal(req)
	if err != nil {
		return Application("invalid_request", fmt.Sprintf("marshal request: %v", err))
	}

	callCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Transport(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return classifyNetErr(callCtx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return classifyNetErr(callCtx, err)
	}
	if int64(len(respBody)) > c.maxBody {
		return Application("response_too_large",
			fmt.Sprintf("response body exceeds %d bytes (HTTP %d)", c.maxBody, resp.StatusCode))
	}

	return classifyResponse(resp.StatusCode, respBody)
}

// Probe issues GET <address><health path>. Any 2xx is a live agent.
func (c *HTTPClient) Probe(ctx context.Context, agent registry.Descriptor, timeout time.Duration) error {
	probeCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(agent.Address, "/") + c.healthPath
	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("dispatch: create probe: %w", err)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return classifyNetErr(probeCtx, err).Err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: probe %s: HTTP %d", ErrTransport, agent.Name, resp.StatusCode)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classifyNetErr maps a failed exchange to Timeout or TransportError.
func classifyNetErr(ctx context.Context, err error) Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(err)
	}
	return Transport(err)
}

// classifyResponse maps an HTTP reply to an outcome. A valid envelope always
// wins over the HTTP status; without one, gateway-style statuses count as
// transport failures and anything else as a malformed reply.
func classifyResponse(statusCode int, body []byte) Outcome {
	var env Response
	if err := json.Unmarshal(body, &env); err == nil {
		switch env.Status {
		case StatusSuccess:
			return Success(env.Data)
		case StatusError:
			code := env.Code
			if code == "" {
				code = "agent_error"
			}
			return Application(code, env.Message)
		}
	}

	switch statusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return Transport(fmt.Errorf("HTTP %d", statusCode))
	}
	if statusCode >= 200 && statusCode <= 299 {
		return Application("malformed_response", snippet(body))
	}
	return Application(fmt.Sprintf("http_%d", statusCode), snippet(body))
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
