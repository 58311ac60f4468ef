package kolibri

import "encoding/json"

type DialogRequest struct {
	Input string `json:"input"`
}

type DialogResponse struct {
	Answer    string `json:"answer"`
	Trace     any    `json:"trace,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type VMRunRequest struct {
	Program  []int `json:"program"`
	GasLimit *int  `json:"gasLimit,omitempty"`
}

type VMRunResponse struct {
	Status  string `json:"status,omitempty"`
	Result  any    `json:"result,omitempty"`
	Trace   any    `json:"trace,omitempty"`
	Steps   *int   `json:"steps,omitempty"`
	GasUsed *int   `json:"gasUsed,omitempty"`
}

// VMStreamRequest starts a streamed run. ProgramID replays a stored program.
type VMStreamRequest struct {
	VMRunRequest
	ProgramID string `json:"programId,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

type MemoryValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type MemoryProgram struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Score       *float64 `json:"score,omitempty"`
	Bytecode    []int    `json:"bytecode,omitempty"`
}

type MemoryResponse struct {
	Values   []MemoryValue   `json:"values,omitempty"`
	Programs []MemoryProgram `json:"programs,omitempty"`
}

type ProgramSubmitRequest struct {
	Bytecode []int  `json:"bytecode"`
	Notes    string `json:"notes,omitempty"`
}

type ProgramSubmitResponse struct {
	ProgramID string   `json:"programId,omitempty"`
	PoE       *float64 `json:"poe,omitempty"`
	MDL       *float64 `json:"mdl,omitempty"`
	Score     *float64 `json:"score,omitempty"`
	Accepted  *bool    `json:"accepted,omitempty"`
	Trace     any      `json:"trace,omitempty"`
}

type ChainSubmitRequest struct {
	ProgramID string `json:"programId"`
}

type ChainSubmitResponse struct {
	Status   string   `json:"status"`
	BlockID  string   `json:"blockId,omitempty"`
	Position *int     `json:"position,omitempty"`
	PoE      *float64 `json:"poe,omitempty"`
	MDLDelta *float64 `json:"mdlDelta,omitempty"`
}

type MemoryStats struct {
	Total *float64 `json:"total,omitempty"`
	Used  *float64 `json:"used,omitempty"`
}

type PeerInfo struct {
	ID      string   `json:"id"`
	Role    string   `json:"role,omitempty"`
	Latency *float64 `json:"latency,omitempty"`
	Status  string   `json:"status,omitempty"`
	Address string   `json:"address,omitempty"`
	Score   *float64 `json:"score,omitempty"`
}

type PeerCommandRequest struct {
	Score      *float64 `json:"score,omitempty"`
	Role       string   `json:"role,omitempty"`
	Quarantine *bool    `json:"quarantine,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

type PeerCommandResponse struct {
	Acknowledged bool      `json:"acknowledged"`
	Peer         *PeerInfo `json:"peer,omitempty"`
	Message      string    `json:"message,omitempty"`
}

type HealthResponse struct {
	Uptime  float64     `json:"uptime"`
	Memory  MemoryStats `json:"memory"`
	Peers   []PeerInfo  `json:"peers,omitempty"`
	Blocks  *int        `json:"blocks,omitempty"`
	Version string      `json:"version,omitempty"`
}

// MetricsResponse keeps the known fields typed and everything else in Extra.
type MetricsResponse struct {
	Uptime        *float64     `json:"uptime,omitempty"`
	Memory        *MemoryStats `json:"memory,omitempty"`
	Peers         []PeerInfo   `json:"peers,omitempty"`
	Blocks        *int         `json:"blocks,omitempty"`
	TasksInFlight *int         `json:"tasksInFlight,omitempty"`
	LastBlockTime string       `json:"lastBlockTime,omitempty"`

	Extra map[string]any `json:"-"`
}

var metricsKnownKeys = map[string]struct{}{
	"uptime": {}, "memory": {}, "peers": {}, "blocks": {}, "tasksInFlight": {}, "lastBlockTime": {},
}

func (m *MetricsResponse) UnmarshalJSON(data []byte) error {
	type plain MetricsResponse
	var known plain
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*m = MetricsResponse(known)
	for k, v := range all {
		if _, ok := metricsKnownKeys[k]; ok {
			continue
		}
		if m.Extra == nil {
			m.Extra = map[string]any{}
		}
		m.Extra[k] = v
	}
	return nil
}

func (m MetricsResponse) MarshalJSON() ([]byte, error) {
	type plain MetricsResponse
	base, err := json.Marshal(plain(m))
	if err != nil || len(m.Extra) == 0 {
		return base, err
	}
	merged := map[string]any{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if _, ok := metricsKnownKeys[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

type ScheduledTask struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	Priority   *int           `json:"priority,omitempty"`
	AssignedTo string         `json:"assignedTo,omitempty"`
	CreatedAt  string         `json:"createdAt,omitempty"`
	UpdatedAt  string         `json:"updatedAt,omitempty"`
	NextRunAt  string         `json:"nextRunAt,omitempty"`
	LastRunAt  string         `json:"lastRunAt,omitempty"`
	Progress   *float64       `json:"progress,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type TaskCreateRequest struct {
	Name     string   `json:"name"`
	Payload  any      `json:"payload,omitempty"`
	Priority *int     `json:"priority,omitempty"`
	Schedule string   `json:"schedule,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type TaskUpdateRequest struct {
	Status   string `json:"status,omitempty"`
	Priority *int   `json:"priority,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

type TaskActionResponse struct {
	Acknowledged bool           `json:"acknowledged"`
	Task         *ScheduledTask `json:"task,omitempty"`
	Message      string         `json:"message,omitempty"`
}

type AckResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

type MonitoringAlert struct {
	ID            string `json:"id"`
	Severity      string `json:"severity"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	RaisedAt      string `json:"raisedAt"`
	ClearedAt     string `json:"clearedAt,omitempty"`
	RelatedTaskID string `json:"relatedTaskId,omitempty"`
}

type TimelineEntry struct {
	Timestamp string         `json:"timestamp"`
	Label     string         `json:"label"`
	Value     *float64       `json:"value,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type MonitoringSnapshot struct {
	Metrics  MetricsResponse   `json:"metrics"`
	Health   HealthResponse    `json:"health"`
	Alerts   []MonitoringAlert `json:"alerts"`
	Timeline []TimelineEntry   `json:"timeline,omitempty"`
}
