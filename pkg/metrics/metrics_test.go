package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainingMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewTrainingMetrics(registry)
	require.NoError(t, err)

	m.RecordEpoch(3, 0.4, 0.5, 0.7, 1e-3, 1.5)
	m.RecordFold("01", 0.8)
	m.ObserveGradNorm(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Epoch))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.ValLoss))
	assert.Equal(t, 0.7, testutil.ToFloat64(m.ValF1))
	assert.Equal(t, 0.8, testutil.ToFloat64(m.FoldF1.WithLabelValues("01")))

	_, err = NewTrainingMetrics(registry)
	assert.Error(t, err, "registering twice must fail")
}

func TestAnnotationMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAnnotationMetrics(registry)
	require.NoError(t, err)

	tests := []struct {
		route string
		code  int
	}{
		{"/api/stats", 200},
		{"/api/stats", 200},
		{"/api/sessions/:idx", 404},
	}
	for _, tt := range tests {
		m.RecordRequest(tt.route, tt.code)
	}
	m.RecordEdit("add")
	m.RecordSave("done")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/api/stats", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/api/sessions/:idx", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Edits.WithLabelValues("add")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Saves.WithLabelValues("done")))
}

func TestNilMetrics(t *testing.T) {
	var tm *TrainingMetrics
	var am *AnnotationMetrics
	assert.NotPanics(t, func() {
		tm.RecordEpoch(1, 0, 0, 0, 0, 0)
		tm.ObserveGradNorm(1)
		tm.RecordFold("x", 1)
		am.RecordRequest("/", 200)
		am.RecordEdit("undo")
		am.RecordSave("bad")
		am.ObserveDetection(0.1)
	})
}

func TestUnregistered(t *testing.T) {
	m, err := NewAnnotationMetrics(nil)
	require.NoError(t, err)
	m.ObserveDetection(0.01)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Detection))
}
