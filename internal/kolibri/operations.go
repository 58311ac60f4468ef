package kolibri

import (
	"context"
	"net/http"
	"net/url"
)

const (
	apiPrefix    = "/api/v1"
	vmStreamPath = apiPrefix + "/vm/stream"
)

func (c *Client) Dialog(ctx context.Context, req DialogRequest) (*DialogResponse, error) {
	var out DialogResponse
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: apiPrefix + "/dialog", Body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RunVM(ctx context.Context, req VMRunRequest) (*VMRunResponse, error) {
	var out VMRunResponse
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: apiPrefix + "/vm/run", Body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamVM starts a streamed VM run and opens its trace channel.
func (c *Client) StreamVM(ctx context.Context, req VMStreamRequest, opts StreamOptions, h Handlers) (*Session, error) {
	return c.StreamSession(ctx, vmStreamPath, req, opts, h)
}

// Memory lists stored values and programs whose keys start with prefix.
func (c *Client) Memory(ctx context.Context, prefix string) (*MemoryResponse, error) {
	var out MemoryResponse
	query := url.Values{"prefix": []string{prefix}}
	if err := c.Do(ctx, Request{Path: apiPrefix + "/fkv/get", Query: query}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitProgram(ctx context.Context, req ProgramSubmitRequest) (*ProgramSubmitResponse, error) {
	var out ProgramSubmitResponse
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: apiPrefix + "/program/submit", Body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubmitChain(ctx context.Context, req ChainSubmitRequest) (*ChainSubmitResponse, error) {
	var out ChainSubmitResponse
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: apiPrefix + "/chain/submit", Body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.Do(ctx, Request{Path: apiPrefix + "/health"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Metrics(ctx context.Context) (*MetricsResponse, error) {
	var out MetricsResponse
	if err := c.Do(ctx, Request{Path: apiPrefix + "/metrics"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTasks(ctx context.Context) ([]ScheduledTask, error) {
	var out []ScheduledTask
	if err := c.Do(ctx, Request{Path: apiPrefix + "/control/tasks"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateTask(ctx context.Context, req TaskCreateRequest) (*TaskActionResponse, error) {
	var out TaskActionResponse
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: apiPrefix + "/control/tasks", Body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateTask(ctx context.Context, id string, req TaskUpdateRequest) (*TaskActionResponse, error) {
	var out TaskActionResponse
	path := apiPrefix + "/control/tasks/" + url.PathEscape(id)
	if err := c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelTask deletes a scheduled task.
func (c *Client) CancelTask(ctx context.Context, id string) (*TaskActionResponse, error) {
	var out TaskActionResponse
	path := apiPrefix + "/control/tasks/" + url.PathEscape(id)
	if err := c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Monitoring(ctx context.Context) (*MonitoringSnapshot, error) {
	var out MonitoringSnapshot
	if err := c.Do(ctx, Request{Path: apiPrefix + "/control/monitoring"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AcknowledgeAlert(ctx context.Context, id string) (*AckResponse, error) {
	var out AckResponse
	path := apiPrefix + "/control/monitoring/alerts/" + url.PathEscape(id) + "/ack"
	if err := c.Do(ctx, Request{Method: http.MethodPost, Path: path}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdatePeer(ctx context.Context, id string, req PeerCommandRequest) (*PeerCommandResponse, error) {
	var out PeerCommandResponse
	path := apiPrefix + "/control/cluster/peers/" + url.PathEscape(id)
	if err := c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: req}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisconnectPeer removes a peer from the cluster.
func (c *Client) DisconnectPeer(ctx context.Context, id string) (*PeerCommandResponse, error) {
	var out PeerCommandResponse
	path := apiPrefix + "/control/cluster/peers/" + url.PathEscape(id)
	if err := c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
