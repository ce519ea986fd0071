package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors on a private registry. A nil
// *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tasksCreated      *prometheus.CounterVec
	taskTransitions   *prometheus.CounterVec
	taskStageDuration *prometheus.HistogramVec
	taskSLA           *prometheus.GaugeVec
	itemsOrdered      *prometheus.CounterVec
	rollbacks         *prometheus.CounterVec
	settlements       *prometheus.CounterVec
	settledAmount     prometheus.Histogram
	openSessions      prometheus.Gauge
}

// NewMetrics creates and registers every collector
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		tasksCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maitred_tasks_created_total",
				Help: "Preparation tasks created",
			},
			[]string{"role"},
		),
		taskTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maitred_task_transitions_total",
				Help: "Preparation task status transitions",
			},
			[]string{"from", "to"},
		),
		taskStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maitred_task_stage_seconds",
				Help:    "Time a task spent in a status before moving on",
				Buckets: prometheus.LinearBuckets(0, 120, 15), // 2-minute buckets
			},
			[]string{"role", "status"},
		),
		taskSLA: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "maitred_tasks_by_sla",
				Help: "Active tasks per station and SLA state at the last board read",
			},
			[]string{"role", "state"},
		),
		itemsOrdered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maitred_items_ordered_total",
				Help: "Units added to orders",
			},
			[]string{"type"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maitred_optimistic_rollbacks_total",
				Help: "Local mutations restored after a failed write",
			},
			[]string{"op"},
		),
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maitred_settlements_total",
				Help: "Payment settlements by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		settledAmount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "maitred_settled_amount",
				Help:    "Amount due per successful settlement",
				Buckets: prometheus.ExponentialBuckets(5, 2, 10),
			},
		),
		openSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "maitred_open_order_sessions",
				Help: "Order sessions held in memory",
			},
		),
	}

	registry.MustRegister(
		m.tasksCreated,
		m.taskTransitions,
		m.taskStageDuration,
		m.taskSLA,
		m.itemsOrdered,
		m.rollbacks,
		m.settlements,
		m.settledAmount,
		m.openSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) TasksCreated(role string, n int) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(role).Add(float64(n))
}

// TaskTransition records a status change and how long the task sat in the
// previous status.
func (m *Metrics) TaskTransition(role, from, to string, inStatus time.Duration) {
	if m == nil {
		return
	}
	m.taskTransitions.WithLabelValues(from, to).Inc()
	m.taskStageDuration.WithLabelValues(role, from).Observe(inStatus.Seconds())
}

func (m *Metrics) TaskSLA(role, state string, count int) {
	if m == nil {
		return
	}
	m.taskSLA.WithLabelValues(role, state).Set(float64(count))
}

func (m *Metrics) ItemsOrdered(itemType string, n int) {
	if m == nil {
		return
	}
	m.itemsOrdered.WithLabelValues(itemType).Add(float64(n))
}

func (m *Metrics) Rollback(op string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(op).Inc()
}

func (m *Metrics) Settlement(mode, outcome string, amount float64) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(mode, outcome).Inc()
	if outcome == "ok" {
		m.settledAmount.Observe(amount)
	}
}

func (m *Metrics) OpenSessions(n int) {
	if m == nil {
		return
	}
	m.openSessions.Set(float64(n))
}
