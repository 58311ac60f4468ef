package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequestCountsOutcome(t *testing.T) {
	before := testutil.ToFloat64(requestTotal.WithLabelValues("POST", "timeout"))
	ObserveRequest("POST", "timeout", 20*time.Millisecond)
	after := testutil.ToFloat64(requestTotal.WithLabelValues("POST", "timeout"))
	assert.Equal(t, before+1, after)
}

func TestObserveRequestDefaults(t *testing.T) {
	before := testutil.ToFloat64(requestTotal.WithLabelValues("GET", "unknown"))
	ObserveRequest("", "", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(requestTotal.WithLabelValues("GET", "unknown")))
}

func TestObserveStreamEventRawKind(t *testing.T) {
	before := testutil.ToFloat64(streamEvents.WithLabelValues("sse", "raw"))
	ObserveStreamEvent("sse", "")
	assert.Equal(t, before+1, testutil.ToFloat64(streamEvents.WithLabelValues("sse", "raw")))
}

func TestObserveRefresh(t *testing.T) {
	ok := testutil.ToFloat64(refreshTotal.WithLabelValues("success"))
	failed := testutil.ToFloat64(refreshTotal.WithLabelValues("failed"))
	ObserveRefresh(time.Millisecond, true)
	ObserveRefresh(time.Millisecond, false)
	assert.Equal(t, ok+1, testutil.ToFloat64(refreshTotal.WithLabelValues("success")))
	assert.Equal(t, failed+1, testutil.ToFloat64(refreshTotal.WithLabelValues("failed")))
}
