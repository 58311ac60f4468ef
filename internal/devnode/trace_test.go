package devnode

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolibri-omega/kolibri-studio/internal/kolibri"
)

func fixedStamp() string { return "2026-01-01T00:00:00Z" }

func TestBuildTraceShape(t *testing.T) {
	t.Parallel()

	trace := buildTrace(kolibri.VMStreamRequest{VMRunRequest: kolibri.VMRunRequest{Program: []int{1, 2, 3, 4, 5}}}, fixedStamp)
	kinds := make([]string, 0, len(trace))
	for _, evt := range trace {
		kinds = append(kinds, evt.Type)
		assert.Equal(t, "2026-01-01T00:00:00Z", evt.Timestamp)
	}
	assert.Equal(t, []string{"log", "state", "state", "state", "state", "log", "state", "result"}, kinds)

	last := trace[len(trace)-1]
	require.NotNil(t, last.Step)
	assert.Equal(t, 5, *last.Step)
	assert.Equal(t, 15, last.Payload.(map[string]any)["result"])
}

func TestBuildTraceErrors(t *testing.T) {
	t.Parallel()

	empty := buildTrace(kolibri.VMStreamRequest{}, fixedStamp)
	assert.Equal(t, kolibri.EventError, empty[len(empty)-1].Type)

	gas := 2
	starved := buildTrace(kolibri.VMStreamRequest{VMRunRequest: kolibri.VMRunRequest{Program: []int{0, 0, 0}, GasLimit: &gas}}, fixedStamp)
	last := starved[len(starved)-1]
	assert.Equal(t, kolibri.EventError, last.Type)
	require.NotNil(t, last.Step)
	assert.Equal(t, 2, *last.Step)
}

func TestSummarizeMatchesTrace(t *testing.T) {
	t.Parallel()

	gas := 4
	sum := summarize([]int{0, 1, 2}, &gas)
	assert.Equal(t, "out of gas at step 2", sum.Err)
	assert.Equal(t, 2, sum.Steps)
	assert.Equal(t, 3, sum.GasUsed)

	sum = summarize([]int{0, 1, 2}, nil)
	assert.Empty(t, sum.Err)
	assert.Equal(t, 3, sum.Result)
	assert.Equal(t, 6, sum.GasUsed)
}

func TestScoreProgram(t *testing.T) {
	t.Parallel()

	poe, mdl := scoreProgram(nil)
	assert.Zero(t, poe)
	assert.Zero(t, mdl)

	poe, mdl = scoreProgram([]int{7, 7, 7, 7})
	assert.Equal(t, 0.25, poe)
	assert.Equal(t, 4.0, mdl)
}

func TestLoadFixturesFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "node.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":"custom","blocks":3}`), 0o600))
	fx, err := LoadFixtures(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", fx.Version)

	node := NewNode(fx)
	health := node.Health()
	assert.Equal(t, 3, *health.Blocks)
	assert.Empty(t, health.Peers)

	_, err = LoadFixtures(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
