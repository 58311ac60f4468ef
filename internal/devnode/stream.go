package devnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	sse "github.com/tmaxmax/go-sse"

	"github.com/kolibri-omega/kolibri-studio/internal/events"
	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
	"github.com/kolibri-omega/kolibri-studio/internal/logutil"
	"github.com/kolibri-omega/kolibri-studio/internal/validator"
)

// OpenVMStream registers a streamed run and answers {"sessionId": ...}.
// The trace starts when a client attaches to /vm/stream/:id.
func (s *Server) OpenVMStream(c *gin.Context) {
	var req kolibri.VMStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.Program) == 0 && req.ProgramID == "" {
		badRequest(c, errors.New("program or programId is required"))
		return
	}
	if len(req.Program) > validator.MaxProgramLength {
		badRequest(c, fmt.Errorf("program exceeds %d instructions", validator.MaxProgramLength))
		return
	}
	id, err := s.node.OpenSession(req)
	if err != nil {
		notFound(c, err)
		return
	}
	logutil.Info("devnode session opened", map[string]interface{}{"session": id, "instructions": len(req.Program)})
	c.JSON(http.StatusOK, gin.H{"sessionId": id})
}

// StreamVM attaches a client to a session over WebSocket when the request
// asks for an upgrade, and over SSE otherwise.
func (s *Server) StreamVM(c *gin.Context) {
	sess, err := s.node.claimSession(c.Param("id"))
	if err != nil {
		notFound(c, err)
		return
	}
	defer s.node.finishSession(sess.ID)

	if websocket.IsWebSocketUpgrade(c.Request) {
		s.streamWebSocket(c, sess)
		return
	}
	s.streamSSE(c, sess)
}

// runSession publishes the trace of sess to the bus until it ends or ctx is done.
func (s *Server) runSession(ctx context.Context, sess *vmSession) {
	trace := buildTrace(sess.Request, s.node.stamp)
	for i, evt := range trace {
		if i > 0 && s.delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.delay):
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := s.bus.Publish(ctx, events.Event{Type: evt.Type, Session: sess.ID, Data: evt}); err != nil {
			logutil.Error("devnode publish failed", err, map[string]interface{}{"session": sess.ID})
			return
		}
	}
}

// frames subscribes to the session's events, starts the runner and yields
// encoded frames until the terminal one.
func (s *Server) frames(ctx context.Context, sess *vmSession, emit func(seq int, evt events.Event, data []byte) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, unsubscribe := s.bus.SubscribeSession(ctx, sess.ID)
	defer unsubscribe()
	go s.runSession(ctx, sess)

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			data, err := json.Marshal(evt.Data)
			if err != nil {
				return err
			}
			if err := emit(seq, evt, data); err != nil {
				return err
			}
			seq++
			if isTerminal(evt.Type) {
				return nil
			}
		}
	}
}

func isTerminal(kind string) bool {
	switch kind {
	case kolibri.EventResult, kolibri.EventError, kolibri.EventComplete:
		return true
	}
	return false
}

func (s *Server) streamSSE(c *gin.Context, sess *vmSession) {
	stream, err := sse.Upgrade(c.Writer, c.Request)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := stream.Flush(); err != nil {
		return
	}
	activeStreams.WithLabelValues("sse").Inc()
	defer activeStreams.WithLabelValues("sse").Dec()

	err = s.frames(c.Request.Context(), sess, func(seq int, evt events.Event, data []byte) error {
		msg := &sse.Message{ID: sse.ID(strconv.Itoa(seq)), Type: sse.Type(evt.Type)}
		msg.AppendData(string(data))
		if err := stream.Send(msg); err != nil {
			return err
		}
		streamFramesTotal.WithLabelValues("sse").Inc()
		return stream.Flush()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logutil.Error("devnode sse stream ended", err, map[string]interface{}{"session": sess.ID})
	}
}

func (s *Server) streamWebSocket(c *gin.Context, sess *vmSession) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logutil.Warn("devnode websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()
	activeStreams.WithLabelValues("websocket").Inc()
	defer activeStreams.WithLabelValues("websocket").Dec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = s.frames(ctx, sess, func(_ int, _ events.Event, data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
		streamFramesTotal.WithLabelValues("websocket").Inc()
		return nil
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logutil.Error("devnode websocket stream ended", err, map[string]interface{}{"session": sess.ID})
		}
		return
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "trace complete")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
}
