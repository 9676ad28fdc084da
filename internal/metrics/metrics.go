package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the Teamspace server.
// Every method is safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Week progression.
	VotesTotal            *prometheus.CounterVec
	WeekTransitionsTotal  *prometheus.CounterVec
	StateLockRetriesTotal prometheus.Counter

	// Invitations and uploads.
	InvitesTotal     *prometheus.CounterVec
	UploadsTotal     prometheus.Counter
	UploadBytesTotal prometheus.Counter

	// Notification dispatcher.
	NotificationsTotal *prometheus.CounterVec
	NotifyQueueDepth   prometheus.Gauge
	NotifySendDuration prometheus.Histogram

	// Live updates.
	LiveSubscribers prometheus.Gauge
	LiveEventsTotal *prometheus.CounterVec

	// Rate limiting.
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamspace_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"kind", "method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "teamspace_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "teamspace_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"kind", "method", "path_pattern"}),

		VotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamspace_votes_total",
			Help: "Total number of week votes by action and result.",
		}, []string{"action", "result"}),

		WeekTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamspace_week_transitions_total",
			Help: "Total number of project week transitions.",
		}, []string{"kind"}),

		StateLockRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamspace_state_lock_retries_total",
			Help: "Total number of project transactions retried after a serialization failure.",
		}),

		InvitesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamspace_invites_total",
			Help: "Total number of invitation events by outcome.",
		}, []string{"outcome"}),

		UploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamspace_uploads_total",
			Help: "Total number of stored uploads.",
		}),

		UploadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamspace_upload_bytes_total",
			Help: "Total number of bytes written to upload storage.",
		}),

		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamspace_notifications_total",
			Help: "Total number of notification deliveries by status.",
		}, []string{"status"}),

		NotifyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teamspace_notify_queue_depth",
			Help: "Current number of queued notifications.",
		}),

		NotifySendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "teamspace_notify_send_duration_seconds",
			Help:    "Duration of a single notification delivery in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		LiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teamspace_live_subscribers",
			Help: "Number of connected live update subscribers.",
		}),

		LiveEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamspace_live_events_total",
			Help: "Total number of live events by delivery status.",
		}, []string{"status"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamspace_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"limiter_type", "scope"}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamspace_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamspace_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teamspace_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.VotesTotal,
		m.WeekTransitionsTotal,
		m.StateLockRetriesTotal,
		m.InvitesTotal,
		m.UploadsTotal,
		m.UploadBytesTotal,
		m.NotificationsTotal,
		m.NotifyQueueDepth,
		m.NotifySendDuration,
		m.LiveSubscribers,
		m.LiveEventsTotal,
		m.RateLimitRejectionsTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	if m == nil {
		return
	}
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(kind, method, pattern string, status int, seconds float64, bytes int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(kind, method, pattern, fmt.Sprintf("%d", status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(kind, method, pattern).Observe(seconds)
	m.HTTPResponseSize.WithLabelValues(kind, method, pattern).Observe(float64(bytes))
}

// IncVote counts a vote attempt. result is one of accepted, duplicate or
// rejected.
func (m *Metrics) IncVote(action, result string) {
	if m == nil {
		return
	}
	m.VotesTotal.WithLabelValues(action, result).Inc()
}

// IncTransition counts a week advance or a project completion.
func (m *Metrics) IncTransition(kind string) {
	if m == nil {
		return
	}
	m.WeekTransitionsTotal.WithLabelValues(kind).Inc()
}

// IncLockRetry counts a retried project transaction.
func (m *Metrics) IncLockRetry() {
	if m == nil {
		return
	}
	m.StateLockRetriesTotal.Inc()
}

// IncInvite counts an invitation event.
func (m *Metrics) IncInvite(outcome string) {
	if m == nil {
		return
	}
	m.InvitesTotal.WithLabelValues(outcome).Inc()
}

// ObserveUpload records a stored upload of the given size.
func (m *Metrics) ObserveUpload(size int64) {
	if m == nil {
		return
	}
	m.UploadsTotal.Inc()
	m.UploadBytesTotal.Add(float64(size))
}

// IncNotification counts a notification delivery. status is one of sent,
// failed or dropped.
func (m *Metrics) IncNotification(status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

// SetNotifyQueueDepth reports the number of queued notifications.
func (m *Metrics) SetNotifyQueueDepth(n int) {
	if m == nil {
		return
	}
	m.NotifyQueueDepth.Set(float64(n))
}

// ObserveNotifySend records the duration of a single delivery.
func (m *Metrics) ObserveNotifySend(seconds float64) {
	if m == nil {
		return
	}
	m.NotifySendDuration.Observe(seconds)
}

// AddLiveSubscribers adjusts the connected subscriber gauge by delta.
func (m *Metrics) AddLiveSubscribers(delta int) {
	if m == nil {
		return
	}
	m.LiveSubscribers.Add(float64(delta))
}

// IncLiveEvent counts a live event delivery. status is delivered or dropped.
func (m *Metrics) IncLiveEvent(status string) {
	if m == nil {
		return
	}
	m.LiveEventsTotal.WithLabelValues(status).Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(limiterType, scope string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(limiterType, scope).Inc()
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	if m == nil {
		return
	}
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}
