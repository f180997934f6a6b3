package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects scheduler operation counters for Prometheus scraping.
type Metrics struct {
	tasksStarted        prometheus.Counter
	tasksCompleted      prometheus.Counter
	taskFailures        *prometheus.CounterVec
	reservationWarnings *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		tasksStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_tasks_started_total",
			Help: "Total number of tasks started",
		}),
		tasksCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_tasks_completed_total",
			Help: "Total number of tasks completed",
		}),
		taskFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_task_failures_total",
			Help: "Total number of failed start/complete attempts",
		}, []string{"operation", "code"}),
		reservationWarnings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_reservation_warnings_total",
			Help: "Total number of material reservation warnings",
		}, []string{"severity"}),
		operationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scheduler_operation_duration_seconds",
			Help:    "Duration of scheduler transactions in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksStarted.Inc()
}

func (m *Metrics) TaskCompleted() {
	if m == nil {
		return
	}
	m.tasksCompleted.Inc()
}

func (m *Metrics) TaskFailed(operation, code string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) ReservationWarning(critical bool) {
	if m == nil {
		return
	}
	severity := "warning"
	if critical {
		severity = "critical"
	}
	m.reservationWarnings.WithLabelValues(severity).Inc()
}

func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
