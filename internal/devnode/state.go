package devnode

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
)

//go:embed fixtures/node.json
var defaultFixtures []byte

var (
	errTaskNotFound    = errors.New("task not found")
	errAlertNotFound   = errors.New("alert not found")
	errPeerNotFound    = errors.New("peer not found")
	errProgramNotFound = errors.New("program not found")
	errSessionNotFound = errors.New("session not found")
)

// Fixtures is the canned data a dev node serves.
type Fixtures struct {
	Version string `json:"version"`
	Dialog  struct {
		Answer string                `json:"answer"`
		Trace  []kolibri.TraceEvent `json:"trace"`
	} `json:"dialog"`
	Memory       kolibri.MemoryResponse    `json:"memory"`
	Peers        []kolibri.PeerInfo        `json:"peers"`
	MemoryStats  kolibri.MemoryStats       `json:"memoryStats"`
	Blocks       int                       `json:"blocks"`
	Tasks        []kolibri.ScheduledTask   `json:"tasks"`
	Alerts       []kolibri.MonitoringAlert `json:"alerts"`
	ExtraMetrics map[string]any            `json:"extraMetrics"`
}

// LoadFixtures reads fixtures from path, or the embedded set when path is empty.
func LoadFixtures(path string) (*Fixtures, error) {
	data := defaultFixtures
	if path != "" {
		b, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read fixtures: %w", err)
		}
		data = b
	}
	var fx Fixtures
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	return &fx, nil
}

type vmSession struct {
	ID        string
	Request   kolibri.VMStreamRequest
	CreatedAt time.Time
	started   bool
}

// Node holds the mutable state of a dev node. All methods are safe for
// concurrent use.
type Node struct {
	startedAt time.Time
	now       func() time.Time

	mu       sync.Mutex
	fx       *Fixtures
	values   []kolibri.MemoryValue
	programs map[string]kolibri.MemoryProgram
	chain    []string
	tasks    map[string]kolibri.ScheduledTask
	alerts   map[string]kolibri.MonitoringAlert
	peers    map[string]kolibri.PeerInfo
	sessions map[string]*vmSession
	timeline []kolibri.TimelineEntry
}

// NewNode seeds a node from fixtures.
func NewNode(fx *Fixtures) *Node {
	n := &Node{
		startedAt: time.Now(),
		now:       time.Now,
		fx:        fx,
		values:    append([]kolibri.MemoryValue(nil), fx.Memory.Values...),
		programs:  map[string]kolibri.MemoryProgram{},
		tasks:     map[string]kolibri.ScheduledTask{},
		alerts:    map[string]kolibri.MonitoringAlert{},
		peers:     map[string]kolibri.PeerInfo{},
		sessions:  map[string]*vmSession{},
	}
	for _, p := range fx.Memory.Programs {
		n.programs[p.ID] = p
	}
	for _, t := range fx.Tasks {
		n.tasks[t.ID] = t
	}
	for _, a := range fx.Alerts {
		n.alerts[a.ID] = a
	}
	for _, p := range fx.Peers {
		n.peers[p.ID] = p
	}
	return n
}

func (n *Node) stamp() string {
	return n.now().UTC().Format(time.RFC3339)
}

func (n *Node) record(label string, value *float64, meta map[string]any) {
	n.timeline = append(n.timeline, kolibri.TimelineEntry{Timestamp: n.stamp(), Label: label, Value: value, Metadata: meta})
	if len(n.timeline) > 50 {
		n.timeline = n.timeline[len(n.timeline)-50:]
	}
}

func (n *Node) Health() kolibri.HealthResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	blocks := n.fx.Blocks + len(n.chain)
	return kolibri.HealthResponse{
		Uptime:  math.Round(n.now().Sub(n.startedAt).Seconds()*10) / 10,
		Memory:  n.fx.MemoryStats,
		Peers:   n.peerListLocked(),
		Blocks:  &blocks,
		Version: n.fx.Version,
	}
}

func (n *Node) Metrics() kolibri.MetricsResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	uptime := n.now().Sub(n.startedAt).Seconds()
	blocks := n.fx.Blocks + len(n.chain)
	inFlight := 0
	for _, t := range n.tasks {
		if t.Status == "running" {
			inFlight++
		}
	}
	stats := n.fx.MemoryStats
	extra := map[string]any{}
	for k, v := range n.fx.ExtraMetrics {
		extra[k] = v
	}
	extra["sessions"] = len(n.sessions)
	return kolibri.MetricsResponse{
		Uptime:        &uptime,
		Memory:        &stats,
		Peers:         n.peerListLocked(),
		Blocks:        &blocks,
		TasksInFlight: &inFlight,
		LastBlockTime: n.stamp(),
		Extra:         extra,
	}
}

func (n *Node) peerListLocked() []kolibri.PeerInfo {
	peers := make([]kolibri.PeerInfo, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

func (n *Node) Dialog(input string) kolibri.DialogResponse {
	answer := n.fx.Dialog.Answer
	if strings.Contains(answer, "%s") {
		answer = fmt.Sprintf(answer, input)
	}
	return kolibri.DialogResponse{Answer: answer, Trace: n.fx.Dialog.Trace, Timestamp: n.stamp()}
}

// Memory returns values and programs whose key or id starts with prefix.
func (n *Node) Memory(prefix string) kolibri.MemoryResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	resp := kolibri.MemoryResponse{Values: []kolibri.MemoryValue{}, Programs: []kolibri.MemoryProgram{}}
	for _, v := range n.values {
		if strings.HasPrefix(v.Key, prefix) {
			resp.Values = append(resp.Values, v)
		}
	}
	for _, p := range n.programs {
		if strings.HasPrefix(p.ID, prefix) {
			resp.Programs = append(resp.Programs, p)
		}
	}
	sort.Slice(resp.Programs, func(i, j int) bool { return resp.Programs[i].ID < resp.Programs[j].ID })
	return resp
}

func (n *Node) SubmitProgram(req kolibri.ProgramSubmitRequest) kolibri.ProgramSubmitResponse {
	poe, mdl := scoreProgram(req.Bytecode)
	score := math.Round((poe-mdl/1000)*1000) / 1000
	accepted := poe >= 0.5

	n.mu.Lock()
	defer n.mu.Unlock()
	id := "prog-" + uuid.NewString()[:8]
	n.programs[id] = kolibri.MemoryProgram{ID: id, Description: req.Notes, Score: &score, Bytecode: req.Bytecode}
	n.record("program.submitted", &score, map[string]any{"programId": id})
	return kolibri.ProgramSubmitResponse{ProgramID: id, PoE: &poe, MDL: &mdl, Score: &score, Accepted: &accepted}
}

func (n *Node) SubmitChain(req kolibri.ChainSubmitRequest) (kolibri.ChainSubmitResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prog, ok := n.programs[req.ProgramID]
	if !ok {
		return kolibri.ChainSubmitResponse{}, errProgramNotFound
	}
	poe, mdl := scoreProgram(prog.Bytecode)
	n.chain = append(n.chain, prog.ID)
	position := n.fx.Blocks + len(n.chain)
	delta := -mdl / 100
	n.record("chain.appended", &poe, map[string]any{"programId": prog.ID})
	return kolibri.ChainSubmitResponse{
		Status:   "accepted",
		BlockID:  fmt.Sprintf("block-%06d", position),
		Position: &position,
		PoE:      &poe,
		MDLDelta: &delta,
	}, nil
}

func (n *Node) Tasks() []kolibri.ScheduledTask {
	n.mu.Lock()
	defer n.mu.Unlock()
	tasks := make([]kolibri.ScheduledTask, 0, len(n.tasks))
	for _, t := range n.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

func (n *Node) CreateTask(req kolibri.TaskCreateRequest) kolibri.ScheduledTask {
	n.mu.Lock()
	defer n.mu.Unlock()
	task := kolibri.ScheduledTask{
		ID:        "task-" + uuid.NewString()[:8],
		Name:      req.Name,
		Status:    "queued",
		Priority:  req.Priority,
		CreatedAt: n.stamp(),
		UpdatedAt: n.stamp(),
		NextRunAt: req.Schedule,
	}
	if req.Payload != nil || len(req.Tags) > 0 {
		task.Metadata = map[string]any{}
		if req.Payload != nil {
			task.Metadata["payload"] = req.Payload
		}
		if len(req.Tags) > 0 {
			task.Metadata["tags"] = req.Tags
		}
	}
	n.tasks[task.ID] = task
	n.record("task.created", nil, map[string]any{"taskId": task.ID})
	return task
}

func (n *Node) UpdateTask(id string, req kolibri.TaskUpdateRequest) (kolibri.ScheduledTask, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	task, ok := n.tasks[id]
	if !ok {
		return kolibri.ScheduledTask{}, errTaskNotFound
	}
	if req.Status != "" {
		task.Status = req.Status
	}
	if req.Priority != nil {
		task.Priority = req.Priority
	}
	if req.Payload != nil {
		if task.Metadata == nil {
			task.Metadata = map[string]any{}
		}
		task.Metadata["payload"] = req.Payload
	}
	task.UpdatedAt = n.stamp()
	n.tasks[id] = task
	n.record("task.updated", nil, map[string]any{"taskId": id, "status": task.Status})
	return task, nil
}

func (n *Node) CancelTask(id string) (kolibri.ScheduledTask, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	task, ok := n.tasks[id]
	if !ok {
		return kolibri.ScheduledTask{}, errTaskNotFound
	}
	delete(n.tasks, id)
	task.Status = "cancelled"
	task.UpdatedAt = n.stamp()
	n.record("task.cancelled", nil, map[string]any{"taskId": id})
	return task, nil
}

func (n *Node) Monitoring() kolibri.MonitoringSnapshot {
	metrics := n.Metrics()
	health := n.Health()

	n.mu.Lock()
	defer n.mu.Unlock()
	alerts := make([]kolibri.MonitoringAlert, 0, len(n.alerts))
	for _, a := range n.alerts {
		alerts = append(alerts, a)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].RaisedAt > alerts[j].RaisedAt })
	return kolibri.MonitoringSnapshot{
		Metrics:  metrics,
		Health:   health,
		Alerts:   alerts,
		Timeline: append([]kolibri.TimelineEntry(nil), n.timeline...),
	}
}

func (n *Node) AcknowledgeAlert(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	alert, ok := n.alerts[id]
	if !ok {
		return errAlertNotFound
	}
	if alert.ClearedAt == "" {
		alert.ClearedAt = n.stamp()
	}
	n.alerts[id] = alert
	n.record("alert.acknowledged", nil, map[string]any{"alertId": id})
	return nil
}

func (n *Node) UpdatePeer(id string, req kolibri.PeerCommandRequest) (kolibri.PeerInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	peer, ok := n.peers[id]
	if !ok {
		return kolibri.PeerInfo{}, errPeerNotFound
	}
	if req.Score != nil {
		peer.Score = req.Score
	}
	if req.Role != "" {
		peer.Role = req.Role
	}
	if req.Quarantine != nil {
		if *req.Quarantine {
			peer.Status = "quarantined"
		} else {
			peer.Status = "online"
		}
	}
	n.peers[id] = peer
	n.record("peer.updated", peer.Score, map[string]any{"peerId": id})
	return peer, nil
}

func (n *Node) DisconnectPeer(id string) (kolibri.PeerInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	peer, ok := n.peers[id]
	if !ok {
		return kolibri.PeerInfo{}, errPeerNotFound
	}
	delete(n.peers, id)
	peer.Status = "disconnected"
	n.record("peer.disconnected", nil, map[string]any{"peerId": id})
	return peer, nil
}

// OpenSession registers a streamed run and returns its id.
func (n *Node) OpenSession(req kolibri.VMStreamRequest) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if req.ProgramID != "" && len(req.Program) == 0 {
		prog, ok := n.programs[req.ProgramID]
		if !ok {
			return "", errProgramNotFound
		}
		req.Program = append([]int(nil), prog.Bytecode...)
	}
	id := uuid.NewString()
	n.sessions[id] = &vmSession{ID: id, Request: req, CreatedAt: n.now()}
	return id, nil
}

// claimSession marks a session as started. Each session streams once.
func (n *Node) claimSession(id string) (*vmSession, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sess, ok := n.sessions[id]
	if !ok || sess.started {
		return nil, errSessionNotFound
	}
	sess.started = true
	return sess, nil
}

func (n *Node) finishSession(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sessions, id)
}
