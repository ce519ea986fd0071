package monitoring

import (
	"sync"
	"time"
)

// Monitor keeps a runtime snapshot of named values served on /health
type Monitor struct {
	metrics      map[string]interface{}
	metricsMutex sync.RWMutex
	startTime    time.Time
}

// NewMonitor creates a new monitoring instance
func NewMonitor() *Monitor {
	return &Monitor{
		metrics:   make(map[string]interface{}),
		startTime: time.Now(),
	}
}

// RecordMetric records a metric value
func (m *Monitor) RecordMetric(name string, value interface{}) {
	m.metricsMutex.Lock()
	defer m.metricsMutex.Unlock()
	m.metrics[name] = value
}

// GetMetric returns a specific metric value
func (m *Monitor) GetMetric(name string) (interface{}, bool) {
	m.metricsMutex.RLock()
	defer m.metricsMutex.RUnlock()
	value, exists := m.metrics[name]
	return value, exists
}

// GetMetrics returns all current metrics
func (m *Monitor) GetMetrics() map[string]interface{} {
	m.metricsMutex.RLock()
	defer m.metricsMutex.RUnlock()

	metrics := make(map[string]interface{}, len(m.metrics)+1)
	for k, v := range m.metrics {
		metrics[k] = v
	}
	metrics["uptime_seconds"] = time.Since(m.startTime).Seconds()

	return metrics
}

// Reset clears all metrics
func (m *Monitor) Reset() {
	m.metricsMutex.Lock()
	defer m.metricsMutex.Unlock()
	m.metrics = make(map[string]interface{})
}

// RecordComponent stores a group of values under a component prefix and
// stamps when the component last reported.
func (m *Monitor) RecordComponent(component string, values map[string]interface{}) {
	m.metricsMutex.Lock()
	defer m.metricsMutex.Unlock()

	prefix := component + "_"
	for k, v := range values {
		m.metrics[prefix+k] = v
	}
	m.metrics[prefix+"last_reported"] = time.Now().Format(time.RFC3339)
}
