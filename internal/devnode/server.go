// Package devnode serves a fake Kolibri node: the /api/v1 REST surface with
// canned data and VM trace streams over SSE and WebSocket.
package devnode

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kolibri-omega/kolibri-studio/internal/events"
	"github.com/kolibri-omega/kolibri-studio/internal/logutil"
	"github.com/kolibri-omega/kolibri-studio/internal/validator"
)

// StreamBuffer is the bus backlog needed to hold the longest accepted trace.
const StreamBuffer = 2*validator.MaxProgramLength + 16

// Options configures the HTTP server wiring.
type Options struct {
	APIToken       string
	MetricsEnabled bool
	// StreamDelay spaces out trace frames.
	StreamDelay time.Duration
	// Bus carries trace events between the runner and stream clients. A
	// local bus is created when nil.
	Bus *events.Bus
}

// Server wraps the Gin engine and associated configuration.
type Server struct {
	engine   *gin.Engine
	node     *Node
	bus      *events.Bus
	delay    time.Duration
	upgrader websocket.Upgrader
}

// NewServer constructs a Server with all HTTP routes configured.
func NewServer(node *Node, opts Options) *Server {
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(events.Options{Buffer: StreamBuffer})
	}
	s := &Server{
		engine: gin.New(),
		node:   node,
		bus:    bus,
		delay:  opts.StreamDelay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	engine := s.engine
	engine.Use(gin.Recovery(), requestIDMiddleware(), metricsMiddleware(), requestLogger())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.MetricsEnabled {
		engine.GET("/metrics/prom", gin.WrapH(promhttp.Handler()))
	}
	engine.GET("/openapi.json", s.OpenAPIJSON)
	engine.GET("/openapi.yaml", s.OpenAPIYAML)

	api := engine.Group("/api/v1")
	api.Use(authMiddleware(opts.APIToken))

	api.GET("/health", s.Health)
	api.GET("/metrics", s.Metrics)
	api.POST("/dialog", s.Dialog)
	api.POST("/vm/run", s.RunVM)
	api.POST("/vm/stream", s.OpenVMStream)
	api.GET("/vm/stream/:id", s.StreamVM)
	api.GET("/fkv/get", s.Memory)
	api.POST("/program/submit", s.SubmitProgram)
	api.POST("/chain/submit", s.SubmitChain)

	control := api.Group("/control")
	control.GET("/tasks", s.ListTasks)
	control.POST("/tasks", s.CreateTask)
	control.PATCH("/tasks/:id", s.UpdateTask)
	control.DELETE("/tasks/:id", s.CancelTask)
	control.GET("/monitoring", s.Monitoring)
	control.POST("/monitoring/alerts/:id/ack", s.AcknowledgeAlert)
	control.PATCH("/cluster/peers/:id", s.UpdatePeer)
	control.DELETE("/cluster/peers/:id", s.DisconnectPeer)

	return s
}

// Engine exposes the underlying Gin engine for advanced use (testing, etc.).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start launches the HTTP server on the provided address. Listen failures
// are delivered on the returned channel.
func (s *Server) Start(addr string) (*http.Server, <-chan error) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		logutil.Info("devnode listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()
	return srv, errs
}
