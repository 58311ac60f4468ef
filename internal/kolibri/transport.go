package kolibri

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// TransportKind names a streaming transport.
type TransportKind string

const (
	TransportSSE       TransportKind = "sse"
	TransportWebSocket TransportKind = "websocket"
)

// sink receives transport callbacks. All calls come from the transport's own goroutine.
type sink struct {
	open    func()
	message func(raw string)
}

// streamTransport is implemented by sseTransport and wsTransport only.
type streamTransport interface {
	Kind() TransportKind
	// Run connects, calls open once, then forwards every frame until the
	// remote side ends the stream or ctx is cancelled. A clean end returns nil.
	Run(ctx context.Context, s sink) error
}

// selectTransport prefers SSE unless the caller forces WebSocket.
func (c *Client) selectTransport(preferWebSocket bool) (TransportKind, error) {
	if c.transports[TransportSSE] && !preferWebSocket {
		return TransportSSE, nil
	}
	if c.transports[TransportWebSocket] {
		return TransportWebSocket, nil
	}
	return "", ErrNoTransport
}

func (c *Client) newTransport(kind TransportKind, streamURL string) (streamTransport, error) {
	switch kind {
	case TransportSSE:
		return &sseTransport{client: c.httpClient, url: streamURL, header: c.headers.Clone()}, nil
	case TransportWebSocket:
		wsURL, err := toWebSocketURL(streamURL)
		if err != nil {
			return nil, err
		}
		return &wsTransport{dialer: c.dialer, url: wsURL, header: c.headers.Clone()}, nil
	}
	return nil, ErrNoTransport
}

// toWebSocketURL swaps http for ws and https for wss, keeping host and path.
func toWebSocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("stream url %q must be absolute http(s)", raw)
	}
	return u.String(), nil
}

func requireAbsolute(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse stream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("stream url %q is relative; configure a base url", raw)
	}
	return nil
}

func isStreamContentType(header http.Header) bool {
	ct := header.Get("Content-Type")
	return ct == "" || strings.HasPrefix(strings.ToLower(ct), "text/event-stream")
}
