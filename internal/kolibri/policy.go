package kolibri

import (
	"context"
	"sync"
)

// Session teardown belongs to the caller. The session manager never closes a
// session because of what a frame says; the helpers below apply the VM run
// policy on top of it: a complete, result or error event ends the session.

// StartFunc opens a session with the handlers it is given.
type StartFunc func(ctx context.Context, h Handlers) (*Session, error)

// Outcome summarizes a session run to its end.
type Outcome struct {
	Session *Session
	// Last is the terminal event, nil when the stream ended without one.
	Last *Message
	// Err is the transport error reported through OnError, if any.
	Err error
}

// RunUntilTerminal starts a session and blocks until a terminal event, a
// transport failure, remote end of stream, or ctx cancellation. The session
// is always closed on return. Handlers in h still see every event, including
// the terminal one.
func RunUntilTerminal(ctx context.Context, start StartFunc, h Handlers) (Outcome, error) {
	var (
		mu       sync.Mutex
		out      Outcome
		once     sync.Once
		finished = make(chan struct{})
	)
	finish := func() { once.Do(func() { close(finished) }) }

	wrapped := Handlers{
		OnOpen: h.OnOpen,
		OnEvent: func(msg Message) {
			if h.OnEvent != nil {
				h.OnEvent(msg)
			}
			if msg.IsTerminal() {
				mu.Lock()
				m := msg
				out.Last = &m
				mu.Unlock()
				finish()
			}
		},
		OnError: func(err error) {
			mu.Lock()
			out.Err = err
			mu.Unlock()
			if h.OnError != nil {
				h.OnError(err)
			}
			finish()
		},
	}

	sess, err := start(ctx, wrapped)
	if err != nil {
		return Outcome{}, err
	}
	defer sess.Close()

	select {
	case <-finished:
	case <-sess.Done():
	case <-ctx.Done():
	}
	sess.Close()

	mu.Lock()
	defer mu.Unlock()
	out.Session = sess
	if out.Err == nil && out.Last == nil && ctx.Err() != nil {
		return out, abortError(ctx.Err())
	}
	return out, nil
}
