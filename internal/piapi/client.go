package piapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is where a phone answers when nothing else is known.
const DefaultBaseURL = "http://pi.local:8080/api"

const (
	defaultUserAgent = "pimonitor/1"

	// maxErrorBody caps how much of an error reply is read for its message.
	maxErrorBody = 64 << 10
)

// Client talks to one device's control API.
//
// The client sets no timeout of its own; callers bound each request with
// the context they pass.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient builds a Client for the API rooted at apiURL,
// e.g. "http://10.0.0.5:8080/api".
func NewClient(apiURL string, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(apiURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:   base,
		http:      http.DefaultClient,
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

type envelope[T any] struct {
	Result T `json:"result"`
}

type eventRequest struct {
	Name string `json:"name"`
}

// StartRecording asks the phone to begin a recording and returns the
// new recording's id.
func (c *Client) StartRecording(ctx context.Context) (Recording, error) {
	var resp envelope[Recording]
	if err := c.do(ctx, http.MethodPost, "recording:start", nil, &resp); err != nil {
		return Recording{}, err
	}
	return resp.Result, nil
}

// StopAndSaveRecording stops the running recording and keeps it.
func (c *Client) StopAndSaveRecording(ctx context.Context) (Recording, error) {
	var resp envelope[Recording]
	if err := c.do(ctx, http.MethodPost, "recording:stop_and_save", nil, &resp); err != nil {
		return Recording{}, err
	}
	return resp.Result, nil
}

// CancelRecording stops the running recording and discards it.
func (c *Client) CancelRecording(ctx context.Context) (Recording, error) {
	var resp envelope[Recording]
	if err := c.do(ctx, http.MethodPost, "recording:cancel", nil, &resp); err != nil {
		return Recording{}, err
	}
	return resp.Result, nil
}

// PostEvent stores a named event in the running recording. The returned
// Event carries the timestamp the phone assigned.
func (c *Client) PostEvent(ctx context.Context, name string) (Event, error) {
	var resp envelope[Event]
	if err := c.do(ctx, http.MethodPost, "event", eventRequest{Name: name}, &resp); err != nil {
		return Event{}, err
	}
	if resp.Result.Name == "" {
		resp.Result.Name = name
	}
	return resp.Result, nil
}

// GetStatus fetches the phone's full status once. Entries with unknown
// or undecodable models are skipped.
func (c *Client) GetStatus(ctx context.Context) ([]Status, error) {
	var resp envelope[[]Frame]
	if err := c.do(ctx, http.MethodGet, "status", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(resp.Result))
	for _, f := range resp.Result {
		s, err := f.Decode()
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	reqURL := c.baseURL.JoinPath(endpoint)
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&payload); err == nil {
		apiErr.Message = strings.TrimSpace(payload.Message)
	}
	return apiErr
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidURL, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

// StatusSocketURL returns the websocket address of the status stream
// under apiURL: http://h:8080/api becomes ws://h:8080/api/status.
func StatusSocketURL(apiURL string) (string, error) {
	u, err := parseBaseURL(apiURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.JoinPath("status").String(), nil
}
