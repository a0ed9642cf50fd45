package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cartbroker"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Remote table calls by table, operation and outcome.",
		},
		[]string{"table", "op", "result"},
	)

	cacheRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refreshes_total",
			Help:      "Snapshot refreshes by table and outcome.",
		},
		[]string{"table", "result"},
	)

	skippedRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_skipped_rows_total",
			Help:      "Malformed rows excluded from the snapshot.",
		},
		[]string{"table"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transitions_total",
			Help:      "Reservation lifecycle transitions and rejections.",
		},
		[]string{"transition"},
	)

	schedulerJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduler job runs by job and outcome.",
		},
		[]string{"job", "result"},
	)

	remindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Reminders delivered by kind.",
		},
		[]string{"kind"},
	)

	sessionsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed by the sweep.",
		},
	)

	outboxTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_tasks_total",
			Help:      "Outbox task outcomes.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			gatewayCalls,
			cacheRefreshes,
			skippedRows,
			transitions,
			schedulerJobs,
			remindersSent,
			sessionsEvicted,
			outboxTasks,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncGatewayCall(table, op, result string) {
	gatewayCalls.WithLabelValues(table, op, result).Inc()
}

func IncRefresh(table, result string) {
	cacheRefreshes.WithLabelValues(table, result).Inc()
}

func AddSkippedRows(table string, n int) {
	if n > 0 {
		skippedRows.WithLabelValues(table).Add(float64(n))
	}
}

func IncTransition(transition string) {
	transitions.WithLabelValues(transition).Inc()
}

func IncJob(job, result string) {
	schedulerJobs.WithLabelValues(job, result).Inc()
}

func IncReminder(kind string) {
	remindersSent.WithLabelValues(kind).Inc()
}

func AddSessionsEvicted(n int) {
	if n > 0 {
		sessionsEvicted.Add(float64(n))
	}
}

func IncOutbox(result string) {
	outboxTasks.WithLabelValues(result).Inc()
}
