package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test")

	p.ObserveAssignment("assigned")
	p.ObserveAssignment("assigned")
	p.ObserveAssignment("rate_limited")
	p.ObserveTransition("serving")
	p.SetActive("A", 4)
	p.ObserveNotification("dropped")
	p.ObserveEventDropped("hub")
	p.ObserveRequest("POST", 429)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.assignments.WithLabelValues("assigned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.assignments.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.transitions.WithLabelValues("serving")))
	assert.Equal(t, 4.0, testutil.ToFloat64(p.active.WithLabelValues("A")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requests.WithLabelValues("POST", "429")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 6)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NewNop()
	r.ObserveAssignment("assigned")
	r.SetActive("A", 1)
}
