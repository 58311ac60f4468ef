package kolibri

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kolibri-omega/kolibri-studio/internal/logutil"
	"github.com/kolibri-omega/kolibri-studio/internal/metrics"
)

// Handlers receive session callbacks. They run on the session goroutine, in
// arrival order. Nil handlers are skipped.
type Handlers struct {
	OnOpen  func()
	OnEvent func(Message)
	// OnError receives transport failures only. A frame with type "error"
	// is an ordinary event and goes to OnEvent.
	OnError func(error)
}

// StreamOptions tunes one session.
type StreamOptions struct {
	PreferWebSocket bool
}

// Session is one live event channel. Once closed it stays closed.
type Session struct {
	ID        string
	Transport TransportKind
	URL       string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    atomic.Bool
	// mu is held while a handler runs so Close can wait it out.
	mu        sync.Mutex
	inHandler atomic.Bool
	done      chan struct{}
	err       error
}

// Close stops the transport. It is safe to call any number of times, from
// any goroutine, including from inside a handler. After Close returns no
// handler starts.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
	if !s.inHandler.Load() {
		s.mu.Lock()
		s.mu.Unlock() //nolint:staticcheck // waits for a handler in flight
	}
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool {
	return s.closed.Load() || s.ctx.Err() != nil
}

// Done is closed once the transport has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the transport failure that ended the session, if any. Valid after Done.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Session) dispatch(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed() {
		return
	}
	s.inHandler.Store(true)
	defer s.inHandler.Store(false)
	fn()
}

// StreamSession posts body to initPath, expects {"sessionId": "..."} back and
// opens the live channel at initPath/{sessionId}. Handshake failures are
// returned; anything after goes to h.OnError. Cancelling ctx closes the session.
func (c *Client) StreamSession(ctx context.Context, initPath string, body any, opts StreamOptions, h Handlers) (*Session, error) {
	if err := ctx.Err(); err != nil {
		metrics.ObserveStreamSession("", "rejected")
		return nil, abortError(err)
	}
	kind, err := c.selectTransport(opts.PreferWebSocket)
	if err != nil {
		metrics.ObserveStreamSession("", "rejected")
		return nil, err
	}

	var handshake struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: initPath, Body: body}, &handshake); err != nil {
		metrics.ObserveStreamSession(string(kind), "rejected")
		return nil, err
	}
	id := strings.TrimSpace(handshake.SessionID)
	if id == "" {
		metrics.ObserveStreamSession(string(kind), "rejected")
		return nil, ErrMissingSession
	}
	streamPath := strings.TrimRight(initPath, "/") + "/" + url.PathEscape(id)
	return c.openSession(ctx, id, streamPath, kind, h)
}

// OpenStream attaches to an existing session id served at path.
func (c *Client) OpenStream(ctx context.Context, id, path string, opts StreamOptions, h Handlers) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, abortError(err)
	}
	kind, err := c.selectTransport(opts.PreferWebSocket)
	if err != nil {
		return nil, err
	}
	return c.openSession(ctx, id, path, kind, h)
}

func (c *Client) openSession(ctx context.Context, id, path string, kind TransportKind, h Handlers) (*Session, error) {
	streamURL := c.URL(path)
	if err := requireAbsolute(streamURL); err != nil {
		metrics.ObserveStreamSession(string(kind), "rejected")
		return nil, err
	}
	transport, err := c.newTransport(kind, streamURL)
	if err != nil {
		metrics.ObserveStreamSession(string(kind), "rejected")
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &Session{
		ID:        id,
		Transport: kind,
		URL:       streamURL,
		ctx:       sessCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	fields := map[string]interface{}{"session": id, "transport": string(kind), "url": streamURL}
	logutil.Debug("kolibri stream opening", fields)

	go func() {
		defer close(sess.done)
		err := transport.Run(sessCtx, sink{
			open: func() {
				metrics.ObserveStreamSession(string(kind), "opened")
				if h.OnOpen != nil {
					sess.dispatch(h.OnOpen)
				}
			},
			message: func(raw string) {
				msg := normalize(raw)
				if sess.Closed() {
					return
				}
				metrics.ObserveStreamEvent(string(kind), msg.Type())
				if h.OnEvent != nil {
					sess.dispatch(func() { h.OnEvent(msg) })
				}
			},
		})
		if err != nil && sessCtx.Err() == nil {
			sess.err = err
			metrics.ObserveStreamSession(string(kind), "failed")
			logutil.Error("kolibri stream failed", err, fields)
			if h.OnError != nil {
				sess.dispatch(func() { h.OnError(err) })
			}
		}
		sess.closeOnce.Do(func() {
			sess.closed.Store(true)
			cancel()
		})
		logutil.Debug("kolibri stream closed", fields)
	}()
	return sess, nil
}
