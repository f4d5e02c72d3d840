package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ab1355/ModuMind/internal/orchestrator"
	"github.com/ab1355/ModuMind/internal/registry"
	"github.com/ab1355/ModuMind/internal/task"
)

// StatusError is a non-2xx reply from the API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client talks to a running API server.
type Client struct {
	base string
	http *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientTimeout sets the HTTP client timeout. Zero disables it, which
// waiting submissions need.
func WithClientTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts a task. With wait the call returns the final snapshot.
func (c *Client) Submit(ctx context.Context, req orchestrator.Request, wait bool) (task.Snapshot, error) {
	var snap task.Snapshot
	err := c.do(ctx, http.MethodPost, "/v1/tasks", SubmitRequest{Request: req, Wait: wait}, &snap)
	return snap, err
}

// Get fetches a task and its subtasks.
func (c *Client) Get(ctx context.Context, id string) (task.Snapshot, error) {
	var snap task.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id), nil, &snap)
	return snap, err
}

// List fetches one page of tasks.
func (c *Client) List(ctx context.Context, filter task.Filter) (task.Page, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.PageToken != "" {
		q.Set("page_token", filter.PageToken)
	}
	if filter.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(filter.PageSize))
	}
	path := "/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page task.Page
	err := c.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

// Cancel cancels a running task.
func (c *Client) Cancel(ctx context.Context, id string) (task.Snapshot, error) {
	var snap task.Snapshot
	err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/cancel", nil, &snap)
	return snap, err
}

// Graph fetches a task's DAG in the given format (json or mermaid) as raw
// text.
func (c *Client) Graph(ctx context.Context, id, format string) (string, error) {
	var raw rawBody
	err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id)+"/graph?format="+url.QueryEscape(format), nil, &raw)
	return string(raw), err
}

// Agents lists registered agents.
func (c *Client) Agents(ctx context.Context) ([]registry.Descriptor, error) {
	var out []registry.Descriptor
	err := c.do(ctx, http.MethodGet, "/v1/agents", nil, &out)
	return out, err
}

// Register adds an agent.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (registry.Descriptor, error) {
	var d registry.Descriptor
	err := c.do(ctx, http.MethodPost, "/v1/agents", req, &d)
	return d, err
}

// Deregister removes an agent.
func (c *Client) Deregister(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/agents/"+url.PathEscape(name), nil, nil)
}

// History fetches the archived work of an agent.
func (c *Client) History(ctx context.Context, name string, limit int) (HistoryResponse, error) {
	var out HistoryResponse
	path := "/v1/agents/" + url.PathEscape(name) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// rawBody receives a response body verbatim.
type rawBody []byte

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("api: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er ErrorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	switch out := result.(type) {
	case nil:
		return nil
	case *rawBody:
		*out = data
		return nil
	default:
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("api: decode response: %w", err)
		}
		return nil
	}
}
