package kolibri

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsTransport struct {
	dialer *websocket.Dialer
	url    string
	header http.Header
}

func (t *wsTransport) Kind() TransportKind { return TransportWebSocket }

func (t *wsTransport) Run(ctx context.Context, s sink) error {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return formatDialError(t.url, resp, err)
	}

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		})
	}
	defer closeConn()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-stop:
		}
	}()

	s.open()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("websocket read failed: %w", err)
		}
		s.message(string(data))
	}
}

func formatDialError(url string, resp *http.Response, err error) error {
	if resp != nil {
		return fmt.Errorf("websocket dial %s failed (%s): %w", url, resp.Status, err)
	}
	return fmt.Errorf("websocket dial %s failed: %w", url, err)
}
