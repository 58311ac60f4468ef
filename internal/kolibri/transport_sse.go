package kolibri

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kolibri-omega/kolibri-studio/internal/sse"
)

type sseTransport struct {
	client *http.Client
	url    string
	header http.Header
}

func (t *sseTransport) Kind() TransportKind { return TransportSSE }

func (t *sseTransport) Run(ctx context.Context, s sink) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("build sse request: %w", err)
	}
	req.Header = t.header
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sse connection failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sse connection failed: %w", newAPIError(resp, body))
	}
	if !isStreamContentType(resp.Header) {
		return fmt.Errorf("sse connection failed: unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	s.open()

	reader := sse.NewReader(resp.Body)
	for {
		evt, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sse read failed: %w", err)
		}
		s.message(evt.Data)
	}
}
