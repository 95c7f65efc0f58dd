package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/totegamma/domainbay/internal/domain"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "domainbay-client/1.0"
	maxErrorBody     = 4 << 10
)

type Client struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHeader adds a header sent with every request (API keys and the like).
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

func New(opts ...Option) *Client {
	httpClient := http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    &httpClient,
		userAgent: defaultUserAgent,
		headers:   map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return http.DefaultTransport.RoundTrip(req)
}

// RequestOption adjusts a single outgoing request.
type RequestOption func(*http.Request)

func WithRequestHeader(key, value string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

// PostJSON sends body as JSON and decodes the response into response.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body any, response any, opts ...RequestOption) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	return c.do(req, response)
}

// GetJSON issues a GET with the given query and decodes the response.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, response any, opts ...RequestOption) error {
	if len(query) > 0 {
		endpoint = endpoint + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	return c.do(req, response)
}

func (c *Client) do(req *http.Request, response any) error {
	op := req.Method + " " + req.URL.Path

	slog.DebugContext(
		req.Context(), "Making request",
		slog.String("url", req.URL.Redacted()),
		slog.String("module", "client"),
	)

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.BackendError{
			Op:      op,
			Status:  resp.StatusCode,
			Message: errorMessage(msg, resp.Status),
		}
	}

	if response == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(response)
	if err != nil {
		if req.Context().Err() != nil {
			return domain.NetworkError{Op: op, Err: err}
		}
		return domain.BackendError{Op: op, Status: resp.StatusCode, Message: "failed to decode response: " + err.Error()}
	}

	return nil
}

// errorMessage prefers a JSON {"error": "..."} body, then the raw body.
func errorMessage(body []byte, status string) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	if len(body) > 0 {
		return string(bytes.TrimSpace(body))
	}
	return status
}
