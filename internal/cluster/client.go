package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Headers carried on every inter-node request.
const (
	HopsHeader      = "X-Thingdir-Hops"
	RequestIDHeader = "X-Request-ID"
)

// DefaultTimeout bounds a single hop when no timeout is configured.
const DefaultTimeout = 5 * time.Second

type ctxKey int

const (
	hopsKey ctxKey = iota
	requestIDKey
)

// WithHops records how many hops the inbound request has travelled.
func WithHops(ctx context.Context, hops int) context.Context {
	return context.WithValue(ctx, hopsKey, hops)
}

// HopsFrom returns the hop count stored by WithHops.
func HopsFrom(ctx context.Context) int {
	h, _ := ctx.Value(hopsKey).(int)
	return h
}

// ParseHops reads a hop header value; junk counts as zero.
func ParseHops(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// WithRequestID stores the request id forwarded on outbound calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the id stored by WithRequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// StatusError is returned when a neighbor answers with a non-2xx status.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Body)
}

// Client sends JSON requests to other directory nodes.
// Redirects are never followed; a 3xx is returned as a StatusError.
type Client struct {
	http *http.Client
}

// NewClient creates a client with the given per-hop timeout.
// A zero timeout uses DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{http: &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

// PostJSON sends body as JSON and decodes the response into out (if non-nil).
func (c *Client) PostJSON(ctx context.Context, url string, body any, out any) error {
	return c.do(ctx, http.MethodPost, url, body, out)
}

// GetJSON fetches url and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// Delete issues a DELETE and discards the response body.
func (c *Client) Delete(ctx context.Context, url string) error {
	return c.do(ctx, http.MethodDelete, url, nil, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HopsHeader, strconv.Itoa(HopsFrom(ctx)+1))
	if id := RequestIDFrom(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: url, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// JoinURL appends path to base without doubling slashes.
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
