package devnode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testNode struct {
	srv    *httptest.Server
	server *Server
	node   *Node
}

func newTestNode(t *testing.T, opts Options) *testNode {
	t.Helper()
	fx, err := LoadFixtures("")
	require.NoError(t, err)
	node := NewNode(fx)
	server := NewServer(node, opts)
	srv := httptest.NewServer(server.Engine())
	t.Cleanup(srv.Close)
	return &testNode{srv: srv, server: server, node: node}
}

func (n *testNode) client(opts kolibri.Options) *kolibri.Client {
	opts.BaseURL = n.srv.URL
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	return kolibri.New(opts)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{})
	c := n.client(kolibri.Options{})

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.9.0-dev", health.Version)
	assert.Len(t, health.Peers, 3)
	require.NotNil(t, health.Blocks)
	assert.Equal(t, 128, *health.Blocks)

	metrics, err := c.Metrics(context.Background())
	require.NoError(t, err)
	require.NotNil(t, metrics.TasksInFlight)
	assert.Equal(t, 1, *metrics.TasksInFlight)
	assert.Equal(t, 0.71, metrics.Extra["poeAverage"])
	assert.Contains(t, metrics.Extra, "sessions")
}

func TestDialogAndMemory(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{})
	c := n.client(kolibri.Options{})

	dialog, err := c.Dialog(context.Background(), kolibri.DialogRequest{Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Kolibri dev node received: hello", dialog.Answer)

	_, err = c.Dialog(context.Background(), kolibri.DialogRequest{})
	apiErr, ok := kolibri.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "input is required", apiErr.Message)

	mem, err := c.Memory(context.Background(), "config:")
	require.NoError(t, err)
	assert.Len(t, mem.Values, 2)
	assert.Empty(t, mem.Programs)

	mem, err = c.Memory(context.Background(), "prog-")
	require.NoError(t, err)
	assert.Empty(t, mem.Values)
	assert.Len(t, mem.Programs, 2)
}

func TestProgramAndChainSubmit(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{})
	c := n.client(kolibri.Options{})
	ctx := context.Background()

	prog, err := c.SubmitProgram(ctx, kolibri.ProgramSubmitRequest{Bytecode: []int{1, 2, 3, 3}, Notes: "demo"})
	require.NoError(t, err)
	require.NotEmpty(t, prog.ProgramID)
	require.NotNil(t, prog.PoE)
	assert.Equal(t, 0.75, *prog.PoE)

	chain, err := c.SubmitChain(ctx, kolibri.ChainSubmitRequest{ProgramID: prog.ProgramID})
	require.NoError(t, err)
	assert.Equal(t, "accepted", chain.Status)
	require.NotNil(t, chain.Position)
	assert.Equal(t, 129, *chain.Position)

	_, err = c.SubmitChain(ctx, kolibri.ChainSubmitRequest{ProgramID: "missing"})
	require.Error(t, err)
	assert.Equal(t, "Endpoint not found or unavailable.", kolibri.Classify(err))

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 129, *health.Blocks)
}

func TestTaskLifecycle(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{})
	c := n.client(kolibri.Options{})
	ctx := context.Background()

	created, err := c.CreateTask(ctx, kolibri.TaskCreateRequest{Name: "reindex", Tags: []string{"nightly"}})
	require.NoError(t, err)
	require.True(t, created.Acknowledged)
	require.NotNil(t, created.Task)
	assert.Equal(t, "queued", created.Task.Status)

	tasks, err := c.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	running := "running"
	updated, err := c.UpdateTask(ctx, created.Task.ID, kolibri.TaskUpdateRequest{Status: running})
	require.NoError(t, err)
	assert.Equal(t, running, updated.Task.Status)

	cancelled, err := c.CancelTask(ctx, created.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", cancelled.Task.Status)

	_, err = c.CancelTask(ctx, created.Task.ID)
	apiErr, ok := kolibri.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestMonitoringAndPeers(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{})
	c := n.client(kolibri.Options{})
	ctx := context.Background()

	snap, err := c.Monitoring(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Alerts, 2)
	assert.Equal(t, "alert-disk", snap.Alerts[0].ID)

	ack, err := c.AcknowledgeAlert(ctx, "alert-disk")
	require.NoError(t, err)
	assert.True(t, ack.Acknowledged)

	quarantine := true
	peer, err := c.UpdatePeer(ctx, "peer-gamma", kolibri.PeerCommandRequest{Quarantine: &quarantine})
	require.NoError(t, err)
	assert.Equal(t, "quarantined", peer.Peer.Status)

	removed, err := c.DisconnectPeer(ctx, "peer-beta")
	require.NoError(t, err)
	assert.Equal(t, "disconnected", removed.Peer.Status)

	snap, err = c.Monitoring(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Health.Peers, 2)
	assert.NotEmpty(t, snap.Alerts[0].ClearedAt)
	assert.GreaterOrEqual(t, len(snap.Timeline), 3)
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{APIToken: "s3cret"})

	_, err := n.client(kolibri.Options{}).Health(context.Background())
	assert.Equal(t, "Authentication required.", kolibri.Classify(err))

	_, err = n.client(kolibri.Options{Token: "s3cret"}).Health(context.Background())
	assert.NoError(t, err)

	_, err = n.client(kolibri.Options{Headers: map[string]string{"X-API-Key": "s3cret"}}).Health(context.Background())
	assert.NoError(t, err)
}

func TestPrometheusEndpoint(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{MetricsEnabled: true})
	_, err := n.client(kolibri.Options{}).Health(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(n.srv.URL + "/metrics/prom")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "kolibri_devnode_http_requests_total")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	disabled := newTestNode(t, Options{})
	resp, err = http.Get(disabled.srv.URL + "/metrics/prom")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type collected struct {
	mu     sync.Mutex
	opened int
	events []kolibri.Message
}

func (c *collected) handlers() kolibri.Handlers {
	return kolibri.Handlers{
		OnOpen: func() {
			c.mu.Lock()
			c.opened++
			c.mu.Unlock()
		},
		OnEvent: func(msg kolibri.Message) {
			c.mu.Lock()
			c.events = append(c.events, msg)
			c.mu.Unlock()
		},
	}
}

func (c *collected) snapshot() (int, []kolibri.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened, append([]kolibri.Message(nil), c.events...)
}

func runStream(t *testing.T, c *kolibri.Client, req kolibri.VMStreamRequest, opts kolibri.StreamOptions) (kolibri.Outcome, *collected) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got := &collected{}
	out, err := kolibri.RunUntilTerminal(ctx, func(ctx context.Context, h kolibri.Handlers) (*kolibri.Session, error) {
		return c.StreamVM(ctx, req, opts, h)
	}, got.handlers())
	require.NoError(t, err)
	return out, got
}

func TestStreamOverBothTransports(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		opts kolibri.StreamOptions
		kind kolibri.TransportKind
	}{
		{"sse", kolibri.StreamOptions{}, kolibri.TransportSSE},
		{"websocket", kolibri.StreamOptions{PreferWebSocket: true}, kolibri.TransportWebSocket},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			n := newTestNode(t, Options{StreamDelay: time.Millisecond})
			c := n.client(kolibri.Options{})

			out, got := runStream(t, c, kolibri.VMStreamRequest{VMRunRequest: kolibri.VMRunRequest{Program: []int{1, 2, 3, 4}}}, tc.opts)
			require.NoError(t, out.Err)
			require.NotNil(t, out.Last)
			assert.Equal(t, tc.kind, out.Session.Transport)
			assert.Equal(t, kolibri.EventResult, out.Last.Type())
			payload, ok := out.Last.Event.Payload.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, float64(10), payload["result"])

			opened, events := got.snapshot()
			assert.Equal(t, 1, opened)
			var states int
			for _, msg := range events {
				if msg.Type() == kolibri.EventState {
					states++
				}
			}
			assert.Equal(t, 4, states)
			assert.Equal(t, kolibri.EventLog, events[0].Type())
			assert.Equal(t, kolibri.EventResult, events[len(events)-1].Type())
		})
	}
}

func TestStreamOutOfGasEndsWithError(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{})
	gas := 3
	out, _ := runStream(t, n.client(kolibri.Options{}), kolibri.VMStreamRequest{
		VMRunRequest: kolibri.VMRunRequest{Program: []int{2, 2, 2}, GasLimit: &gas},
	}, kolibri.StreamOptions{})
	require.NotNil(t, out.Last)
	assert.Equal(t, kolibri.EventError, out.Last.Type())
}

func TestStreamStoredProgram(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{})
	out, _ := runStream(t, n.client(kolibri.Options{}), kolibri.VMStreamRequest{ProgramID: "prog-sum"}, kolibri.StreamOptions{PreferWebSocket: true})
	require.NotNil(t, out.Last)
	payload := out.Last.Event.Payload.(map[string]any)
	assert.Equal(t, float64(16), payload["result"])
}

func TestStreamHandshakeErrors(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{})
	c := n.client(kolibri.Options{})

	_, err := c.StreamVM(context.Background(), kolibri.VMStreamRequest{}, kolibri.StreamOptions{}, kolibri.Handlers{})
	apiErr, ok := kolibri.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	_, err = c.StreamVM(context.Background(), kolibri.VMStreamRequest{ProgramID: "nope"}, kolibri.StreamOptions{}, kolibri.Handlers{})
	apiErr, ok = kolibri.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestStreamUnknownSession(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{})
	resp, err := http.Get(n.srv.URL + "/api/v1/vm/stream/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionStreamsOnce(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{})
	id, err := n.node.OpenSession(kolibri.VMStreamRequest{VMRunRequest: kolibri.VMRunRequest{Program: []int{1}}})
	require.NoError(t, err)

	resp, err := http.Get(n.srv.URL + "/api/v1/vm/stream/" + id)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))
	assert.Contains(t, string(body), "event: result")

	resp, err = http.Get(n.srv.URL + "/api/v1/vm/stream/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunVM(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{})
	c := n.client(kolibri.Options{})

	resp, err := c.RunVM(context.Background(), kolibri.VMRunRequest{Program: []int{3, 4}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, float64(7), resp.Result)
	require.NotNil(t, resp.Steps)
	assert.Equal(t, 2, *resp.Steps)
}

func TestOpenAPIIsPublic(t *testing.T) {
	t.Parallel()

	n := newTestNode(t, Options{APIToken: "s3cret"})
	resp, err := http.Get(n.srv.URL + "/openapi.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"/vm/stream/{id}"`)

	resp, err = http.Get(n.srv.URL + "/openapi.yaml")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/yaml"))
}
