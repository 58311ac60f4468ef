package kolibri

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLJoin(t *testing.T) {
	t.Parallel()

	cases := []struct {
		base string
		path string
		want string
	}{
		{"", "/api/v1/health", "/api/v1/health"},
		{"", "api/v1/health", "/api/v1/health"},
		{"https://api.example/base", "/api/v1/dialog", "https://api.example/base/api/v1/dialog"},
		{"https://api.example/base/", "/api/v1/dialog", "https://api.example/base/api/v1/dialog"},
		{"https://api.example/base/", "api/v1/dialog", "https://api.example/base/api/v1/dialog"},
		{"https://api.example/base", "api/v1/dialog", "https://api.example/base/api/v1/dialog"},
		{"https://api.example", "https://other.example/x", "https://other.example/x"},
		{"https://api.example", "", "https://api.example"},
	}
	for _, tc := range cases {
		got := New(Options{BaseURL: tc.base}).URL(tc.path)
		assert.Equal(t, tc.want, got, "base=%q path=%q", tc.base, tc.path)
		assert.NotContains(t, strings.TrimPrefix(strings.TrimPrefix(got, "https://"), "http://"), "//")
	}
}

func TestWithBaseReturnsIndependentClient(t *testing.T) {
	t.Parallel()

	original := New(Options{BaseURL: "https://a.example", Headers: map[string]string{"X-Team": "core"}})
	clone := original.WithBase("https://b.example/")

	assert.Equal(t, "https://a.example", original.BaseURL())
	assert.Equal(t, "https://b.example/x", clone.URL("/x"))
	clone.headers.Set("X-Team", "other")
	assert.Equal(t, "core", original.headers.Get("X-Team"))
}

func TestDoSendsJSONAndMergesHeaders(t *testing.T) {
	t.Parallel()

	type captured struct {
		method      string
		contentType string
		team        string
		trace       string
		auth        string
		body        map[string]any
	}
	requests := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{
			method:      r.Method,
			contentType: r.Header.Get("Content-Type"),
			team:        r.Header.Get("X-Team"),
			trace:       r.Header.Get("X-Trace"),
			auth:        r.Header.Get("Authorization"),
		}
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		requests <- c
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"42","timestamp":"2024-01-01T00:00:00Z"}`))
	}))
	t.Cleanup(srv.Close)

	client := New(Options{
		BaseURL: srv.URL,
		Token:   "secret",
		Headers: map[string]string{"X-Team": "core", "X-Trace": "default"},
	})
	var out DialogResponse
	err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/api/v1/dialog",
		Body:   DialogRequest{Input: "hi"},
		Header: http.Header{"X-Trace": []string{"per-call"}},
	}, &out)
	require.NoError(t, err)

	got := <-requests
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, "core", got.team)
	assert.Equal(t, "per-call", got.trace)
	assert.Equal(t, "Bearer secret", got.auth)
	assert.Equal(t, map[string]any{"input": "hi"}, got.body)
	assert.Equal(t, "42", out.Answer)
}

func TestDoContentTypeRules(t *testing.T) {
	t.Parallel()

	var contentType atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType.Store(r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	client := New(Options{BaseURL: srv.URL})

	cases := []struct {
		name string
		req  Request
		want string
	}{
		{"get has none", Request{Path: "/x"}, ""},
		{"post json", Request{Method: http.MethodPost, Path: "/x", Body: map[string]int{"a": 1}}, "application/json"},
		{"post without body", Request{Method: http.MethodDelete, Path: "/x"}, "application/json"},
		{"binary body", Request{Method: http.MethodPost, Path: "/x", Body: []byte{1, 2}}, ""},
		{"reader body", Request{Method: http.MethodPut, Path: "/x", Body: strings.NewReader("raw")}, ""},
		{"explicit wins", Request{Method: http.MethodPost, Path: "/x", Body: "a", Header: http.Header{"Content-Type": []string{"text/plain"}}}, "text/plain"},
	}
	for _, tc := range cases {
		require.NoError(t, client.Do(context.Background(), tc.req, nil), tc.name)
		assert.Equal(t, tc.want, contentType.Load(), tc.name)
	}
}

func TestDoSuccessBodies(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/no-content":
			w.WriteHeader(http.StatusNoContent)
		case "/empty":
			w.WriteHeader(http.StatusOK)
		case "/blank":
			_, _ = w.Write([]byte("  \n"))
		case "/garbage":
			_, _ = w.Write([]byte("<html>oops</html>"))
		case "/wrong-shape":
			_, _ = w.Write([]byte(`{"status":"ok","steps":"abc"}`))
		default:
			_, _ = w.Write([]byte(`{"answer":"full"}`))
		}
	}))
	t.Cleanup(srv.Close)
	client := New(Options{BaseURL: srv.URL})

	for _, path := range []string{"/no-content", "/empty", "/blank", "/garbage"} {
		out := DialogResponse{Answer: "untouched"}
		require.NoError(t, client.Do(context.Background(), Request{Path: path}, &out), path)
		assert.Equal(t, "untouched", out.Answer, path)
	}

	out := DialogResponse{Answer: "untouched"}
	require.NoError(t, client.Do(context.Background(), Request{Path: "/full", SkipBody: true}, &out))
	assert.Equal(t, "untouched", out.Answer)

	require.NoError(t, client.Do(context.Background(), Request{Path: "/full"}, &out))
	assert.Equal(t, "full", out.Answer)
	var run VMRunResponse
	require.NoError(t, client.Do(context.Background(), Request{Path: "/wrong-shape"}, &run))
	assert.Equal(t, "ok", run.Status)
	assert.Nil(t, run.Steps)
}

func TestDoAPIErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"slow down","retryAfter":3}`))
		case "/no-field":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"detail":"nope"}`))
		default:
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short and stout"))
		}
	}))
	t.Cleanup(srv.Close)
	client := New(Options{BaseURL: srv.URL})

	err := client.Do(context.Background(), Request{Path: "/json"}, nil)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 429, apiErr.Status)
	assert.Equal(t, "slow down", apiErr.Message)
	assert.Equal(t, map[string]any{"error": "slow down", "retryAfter": float64(3)}, apiErr.Payload)

	err = client.Do(context.Background(), Request{Path: "/no-field"}, nil)
	apiErr, ok = AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
	assert.Equal(t, map[string]any{"detail": "nope"}, apiErr.Payload)

	err = client.Do(context.Background(), Request{Path: "/text"}, nil)
	apiErr, ok = AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTeapot, apiErr.Status)
	assert.Equal(t, "I'm a teapot", apiErr.Message)
	assert.Nil(t, apiErr.Payload)
	assert.False(t, IsTimeout(err))
}

// blockingServer never answers until the test ends or the client goes away.
func blockingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv, &hits
}

func TestDoTimeout(t *testing.T) {
	t.Parallel()

	srv, hits := blockingServer(t)
	client := New(Options{BaseURL: srv.URL, Timeout: 30 * time.Millisecond})

	start := time.Now()
	err := client.Do(context.Background(), Request{Path: "/api/v1/health"}, nil)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.True(t, errors.Is(err, ErrTimeout))
	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 30*time.Millisecond, timeoutErr.After)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, CategoryTimeout, CategoryOf(err))
}

func TestDoCallerContextDisablesClientTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(80 * time.Millisecond)
		_, _ = w.Write([]byte(`{"answer":"late"}`))
	}))
	t.Cleanup(srv.Close)
	client := New(Options{BaseURL: srv.URL, Timeout: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out DialogResponse
	require.NoError(t, client.Do(ctx, Request{Path: "/"}, &out))
	assert.Equal(t, "late", out.Answer)
}

func TestDoCallerCancellationIsAbort(t *testing.T) {
	t.Parallel()

	srv, hits := blockingServer(t)
	client := New(Options{BaseURL: srv.URL, Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for hits.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	err := client.Do(ctx, Request{Path: "/"}, nil)
	require.Error(t, err)
	assert.True(t, IsAborted(err))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsTimeout(err))
	assert.Equal(t, "Request cancelled.", Classify(err))
}

func TestDoCallerDeadlineIsTimeout(t *testing.T) {
	t.Parallel()

	srv, _ := blockingServer(t)
	client := New(Options{BaseURL: srv.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.Do(ctx, Request{Path: "/"}, nil)
	assert.True(t, IsTimeout(err))
}

func TestDoNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	err := New(Options{BaseURL: base}).Do(context.Background(), Request{Path: "/api/v1/health"}, nil)
	require.Error(t, err)
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.MethodGet, netErr.Method)
	assert.Equal(t, CategoryNetwork, CategoryOf(err))
	_, isAPI := AsAPIError(err)
	assert.False(t, isAPI)
}

func TestDoQueryParameters(t *testing.T) {
	t.Parallel()

	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		_, _ = io.WriteString(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Options{BaseURL: srv.URL}).Memory(context.Background(), "programs/a b")
	require.NoError(t, err)
	assert.Equal(t, "prefix=programs%2Fa+b", <-queries)
}
