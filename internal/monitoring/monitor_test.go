package monitoring

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_GetMetrics(t *testing.T) {
	m := NewMonitor()
	m.RecordMetric("test_metric", 42)

	metrics := m.GetMetrics()

	value, exists := metrics["test_metric"]
	require.True(t, exists)
	assert.Equal(t, 42, value)

	_, exists = metrics["uptime_seconds"]
	assert.True(t, exists)
}

func TestMonitor_RecordComponent(t *testing.T) {
	m := NewMonitor()

	m.RecordComponent("ordering", map[string]interface{}{
		"sessions": 3,
	})

	value, exists := m.GetMetric("ordering_sessions")
	require.True(t, exists)
	assert.Equal(t, 3, value)

	_, exists = m.GetMetric("ordering_last_reported")
	assert.True(t, exists)
}

func TestMonitor_Reset(t *testing.T) {
	m := NewMonitor()
	m.RecordMetric("test_metric", 42)

	m.Reset()

	metrics := m.GetMetrics()
	_, exists := metrics["test_metric"]
	assert.False(t, exists)

	// uptime is added on every read
	_, exists = metrics["uptime_seconds"]
	assert.True(t, exists)
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.TasksCreated("kitchen", 3)
	m.TaskTransition("kitchen", "pending", "preparing", 90*time.Second)
	m.Settlement("full", "ok", 42.5)
	m.Settlement("full", "rejected", 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.tasksCreated.WithLabelValues("kitchen")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskTransitions.WithLabelValues("pending", "preparing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues("full", "rejected")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "maitred_tasks_created_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TasksCreated("bar", 1)
		m.Rollback("add_item")
		m.OpenSessions(2)
	})
}
