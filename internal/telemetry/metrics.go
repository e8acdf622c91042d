package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TransitionsTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lifecycle_transitions_total", Help: "Accepted job state transitions by target state"}, []string{"to"})
	TransitionRejects    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lifecycle_transition_rejects_total", Help: "Rejected transition requests by error code"}, []string{"code"})
	MessagesTotal        = prometheus.NewCounter(prometheus.CounterOpts{Name: "lifecycle_messages_total", Help: "User transcript entries appended"})
	ApplicationsTotal    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lifecycle_applications_total", Help: "Application events by outcome"}, []string{"outcome"})
	NotificationsTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lifecycle_notifications_total", Help: "Notifications created by type"}, []string{"type"})
	NotificationFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "lifecycle_notification_failures_total", Help: "Notifications that could not be created"})
	PushFailures         = prometheus.NewCounter(prometheus.CounterOpts{Name: "lifecycle_push_failures_total", Help: "Realtime events that could not be published"})
	RealtimeDelivered    = prometheus.NewCounter(prometheus.CounterOpts{Name: "lifecycle_realtime_delivered_total", Help: "Events delivered to observers"})
	RealtimeDropped      = prometheus.NewCounter(prometheus.CounterOpts{Name: "lifecycle_realtime_dropped_total", Help: "Events dropped for slow observers"})
	ObserversGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "lifecycle_observers", Help: "Observers registered on this process"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "lifecycle_rate_limit_rejects_total", Help: "Messages rejected by rate limiter"})
	OperationDuration    = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "lifecycle_operation_seconds", Help: "Coordinator operation latency", Buckets: prometheus.DefBuckets}, []string{"op"})

	MediaEnqueued    = prometheus.NewCounter(prometheus.CounterOpts{Name: "media_tasks_enqueued_total", Help: "Progress photo tasks enqueued"})
	WorkerSuccess    = prometheus.NewCounter(prometheus.CounterOpts{Name: "media_tasks_completed_total", Help: "Media tasks completed successfully"})
	WorkerFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "media_tasks_failed_total", Help: "Media tasks that failed and will retry"})
	WorkerDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{Name: "media_tasks_dead_letter_total", Help: "Media tasks moved to DLQ"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "media_queue_depth", Help: "Ready media queue depth"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "media_tasks_inflight", Help: "Media tasks currently leased"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TransitionsTotal,
			TransitionRejects,
			MessagesTotal,
			ApplicationsTotal,
			NotificationsTotal,
			NotificationFailures,
			PushFailures,
			RealtimeDelivered,
			RealtimeDropped,
			ObserversGauge,
			RateLimitRejects,
			OperationDuration,
			MediaEnqueued,
			WorkerSuccess,
			WorkerFailures,
			WorkerDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
