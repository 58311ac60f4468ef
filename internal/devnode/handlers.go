package devnode

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
	"github.com/kolibri-omega/kolibri-studio/internal/logutil"
	"github.com/kolibri-omega/kolibri-studio/internal/openapi"
)

func notFound(c *gin.Context, err error) {
	c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// Health reports uptime, memory and peers.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Health())
}

func (s *Server) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Metrics())
}

func (s *Server) Dialog(c *gin.Context) {
	var req kolibri.DialogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Input == "" {
		badRequest(c, errors.New("input is required"))
		return
	}
	c.JSON(http.StatusOK, s.node.Dialog(req.Input))
}

// RunVM answers a synchronous run with the summary of a synthesized trace.
func (s *Server) RunVM(c *gin.Context) {
	var req kolibri.VMRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.Program) == 0 {
		badRequest(c, errors.New("program is required"))
		return
	}
	sum := summarize(req.Program, req.GasLimit)
	resp := kolibri.VMRunResponse{Status: "ok", Result: sum.Result, Steps: &sum.Steps, GasUsed: &sum.GasUsed}
	if sum.Err != "" {
		resp.Status = "error"
		resp.Result = sum.Err
	}
	c.JSON(http.StatusOK, resp)
}

// Memory lists stored values and programs matching ?prefix=.
func (s *Server) Memory(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Memory(c.Query("prefix")))
}

func (s *Server) SubmitProgram(c *gin.Context) {
	var req kolibri.ProgramSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.Bytecode) == 0 {
		badRequest(c, errors.New("bytecode is required"))
		return
	}
	c.JSON(http.StatusOK, s.node.SubmitProgram(req))
}

func (s *Server) SubmitChain(c *gin.Context) {
	var req kolibri.ChainSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp, err := s.node.SubmitChain(req)
	if err != nil {
		notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Tasks())
}

func (s *Server) CreateTask(c *gin.Context) {
	var req kolibri.TaskCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Name == "" {
		badRequest(c, errors.New("name is required"))
		return
	}
	task := s.node.CreateTask(req)
	logutil.Info("devnode task created", map[string]interface{}{"task": task.ID})
	c.JSON(http.StatusCreated, kolibri.TaskActionResponse{Acknowledged: true, Task: &task, Message: "task queued"})
}

func (s *Server) UpdateTask(c *gin.Context) {
	var req kolibri.TaskUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	task, err := s.node.UpdateTask(c.Param("id"), req)
	if err != nil {
		notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, kolibri.TaskActionResponse{Acknowledged: true, Task: &task})
}

func (s *Server) CancelTask(c *gin.Context) {
	task, err := s.node.CancelTask(c.Param("id"))
	if err != nil {
		notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, kolibri.TaskActionResponse{Acknowledged: true, Task: &task, Message: "task cancelled"})
}

func (s *Server) Monitoring(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Monitoring())
}

func (s *Server) AcknowledgeAlert(c *gin.Context) {
	if err := s.node.AcknowledgeAlert(c.Param("id")); err != nil {
		notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, kolibri.AckResponse{Acknowledged: true})
}

func (s *Server) UpdatePeer(c *gin.Context) {
	var req kolibri.PeerCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	peer, err := s.node.UpdatePeer(c.Param("id"), req)
	if err != nil {
		notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, kolibri.PeerCommandResponse{Acknowledged: true, Peer: &peer})
}

func (s *Server) DisconnectPeer(c *gin.Context) {
	peer, err := s.node.DisconnectPeer(c.Param("id"))
	if err != nil {
		notFound(c, err)
		return
	}
	c.JSON(http.StatusOK, kolibri.PeerCommandResponse{Acknowledged: true, Peer: &peer, Message: "peer disconnected"})
}

// OpenAPIJSON serves the API description as JSON.
func (s *Server) OpenAPIJSON(c *gin.Context) {
	doc, err := openapi.JSON()
	if err != nil {
		logutil.Error("openapi render failed", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "openapi document unavailable"})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

func (s *Server) OpenAPIYAML(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml", openapi.YAML())
}
