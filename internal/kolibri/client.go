// Package kolibri is the client for the Kolibri node HTTP API: request
// execution with typed errors, live session streaming and error display.
package kolibri

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kolibri-omega/kolibri-studio/internal/logutil"
	"github.com/kolibri-omega/kolibri-studio/internal/metrics"
)

// Options configures a Client. The zero value talks to relative paths with no timeout.
type Options struct {
	BaseURL string
	// Headers are sent with every request; per-call headers win key for key.
	Headers map[string]string
	Token   string
	// Timeout bounds requests whose context carries no cancellation of its own.
	Timeout time.Duration
	// HTTPClient should not set Timeout, which would also cut long-lived streams.
	HTTPClient *http.Client
	// Transports lists the streaming transports this runtime may use. Nil means both.
	Transports []TransportKind
	Dialer     *websocket.Dialer
}

// Client is immutable after construction and safe for concurrent use.
type Client struct {
	baseURL    string
	headers    http.Header
	timeout    time.Duration
	httpClient *http.Client
	transports map[TransportKind]bool
	dialer     *websocket.Dialer
}

// Request describes one API call.
type Request struct {
	Method string
	// Path is relative to the client base, or an absolute http(s) URL.
	Path  string
	Query url.Values
	// Body is JSON-encoded unless it is an io.Reader or []byte.
	Body     any
	Header   http.Header
	SkipBody bool
}

// New builds a client from opts.
func New(opts Options) *Client {
	headers := http.Header{}
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}
	if opts.Token != "" && headers.Get("Authorization") == "" {
		headers.Set("Authorization", "Bearer "+opts.Token)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	transports := opts.Transports
	if transports == nil {
		transports = []TransportKind{TransportSSE, TransportWebSocket}
	}
	available := make(map[TransportKind]bool, len(transports))
	for _, kind := range transports {
		available[kind] = true
	}
	return &Client{
		baseURL:    strings.TrimSpace(opts.BaseURL),
		headers:    headers,
		timeout:    opts.Timeout,
		httpClient: httpClient,
		transports: available,
		dialer:     dialer,
	}
}

// BaseURL returns the base the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WithBase returns an independent copy of c that targets base.
func (c *Client) WithBase(base string) *Client {
	clone := *c
	clone.baseURL = strings.TrimSpace(base)
	clone.headers = c.headers.Clone()
	return &clone
}

// URL joins path onto the base with exactly one slash between them.
// Absolute http(s) and ws(s) paths are returned unchanged.
func (c *Client) URL(path string) string {
	return joinURL(c.baseURL, path)
}

func joinURL(base, path string) string {
	if isAbsolute(path) {
		return path
	}
	if base == "" {
		if path == "" || strings.HasPrefix(path, "/") {
			return path
		}
		return "/" + path
	}
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func isAbsolute(path string) bool {
	lower := strings.ToLower(path)
	for _, scheme := range []string{"http://", "https://", "ws://", "wss://"} {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// Do performs req and decodes a JSON response into out when out is non-nil.
// Non-2xx responses return *APIError. A 204, SkipBody, an empty body or a
// body that is not JSON leave out untouched.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	target := c.URL(req.Path)
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	// The client timeout only applies when the caller cannot cancel.
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	internalTimeout := c.timeout > 0 && ctx.Done() == nil
	if internalTimeout {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	body, binary, err := encodeBody(req.Body)
	if err != nil {
		return fmt.Errorf("encode %s %s body: %w", method, req.Path, err)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, method, target, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, req.Path, err)
	}
	httpReq.Header = c.mergeHeaders(req.Header)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead && !binary && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = c.transportError(ctx, callCtx, internalTimeout, method, target, err)
		metrics.ObserveRequest(method, string(CategoryOf(err)), time.Since(start))
		logutil.Debug("kolibri request failed", map[string]interface{}{
			"method": method,
			"url":    target,
			"error":  err.Error(),
		})
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	metrics.ObserveRequest(method, statusClass(resp.StatusCode), time.Since(start))
	if err != nil {
		return c.transportError(ctx, callCtx, internalTimeout, method, target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp, payload)
	}
	if resp.StatusCode == http.StatusNoContent || req.SkipBody || out == nil {
		return nil
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil
	}
	if !json.Valid(trimmed) {
		logutil.Debug("kolibri response is not json, treating as empty", map[string]interface{}{
			"method": method,
			"url":    target,
			"status": resp.StatusCode,
		})
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		logutil.Debug("kolibri response does not match the expected shape", map[string]interface{}{
			"method": method,
			"url":    target,
			"status": resp.StatusCode,
			"error":  err.Error(),
		})
	}
	return nil
}

func (c *Client) mergeHeaders(perCall http.Header) http.Header {
	merged := c.headers.Clone()
	if merged == nil {
		merged = http.Header{}
	}
	for k, values := range perCall {
		merged.Del(k)
		for _, v := range values {
			merged.Add(k, v)
		}
	}
	return merged
}

func (c *Client) transportError(parent, callCtx context.Context, internalTimeout bool, method, target string, err error) error {
	switch {
	case internalTimeout && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return &TimeoutError{Method: method, URL: target, After: c.timeout}
	case errors.Is(parent.Err(), context.DeadlineExceeded):
		return &TimeoutError{Method: method, URL: target}
	case parent.Err() != nil:
		return abortError(parent.Err())
	}
	return &NetworkError{Method: method, URL: target, Err: err}
}

func encodeBody(body any) (io.Reader, bool, error) {
	switch v := body.(type) {
	case nil:
		return nil, false, nil
	case io.Reader:
		return v, true, nil
	case []byte:
		return bytes.NewReader(v), true, nil
	case json.RawMessage:
		return bytes.NewReader(v), false, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, false, err
	}
	return bytes.NewReader(data), false, nil
}

func newAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	var payload any
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && json.Unmarshal(trimmed, &payload) == nil {
		apiErr.Payload = payload
		if obj, ok := payload.(map[string]any); ok {
			if msg, ok := obj["error"].(string); ok && strings.TrimSpace(msg) != "" {
				apiErr.Message = msg
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = statusText(resp)
	}
	return apiErr
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	if status := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))); status != "" {
		return status
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
