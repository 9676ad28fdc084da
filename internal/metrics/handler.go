package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics summary endpoint.
type Summary struct {
	HTTP          httpSummary        `json:"http"`
	Votes         voteSummary        `json:"votes"`
	Notifications notifySummary      `json:"notifications"`
	Live          liveSummary        `json:"live"`
	Invites       map[string]float64 `json:"invites"`
	Uploads       uploadSummary      `json:"uploads"`
	RateLimit     rateLimitInfo      `json:"rateLimit"`
	Auth          authInfo           `json:"auth"`
	DB            dbInfo             `json:"db"`
	Server        serverInfo         `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type voteSummary struct {
	Accepted    float64 `json:"accepted"`
	Duplicates  float64 `json:"duplicates"`
	Rejected    float64 `json:"rejected"`
	Advances    float64 `json:"advances"`
	Completions float64 `json:"completions"`
	LockRetries float64 `json:"lockRetries"`
}

type notifySummary struct {
	QueueDepth float64 `json:"queueDepth"`
	Sent       float64 `json:"sent"`
	Failed     float64 `json:"failed"`
	Dropped    float64 `json:"dropped"`
	P95Send    float64 `json:"p95Send"`
}

type liveSummary struct {
	Subscribers float64 `json:"subscribers"`
	Delivered   float64 `json:"delivered"`
	Dropped     float64 `json:"dropped"`
}

type uploadSummary struct {
	Count float64 `json:"count"`
	Bytes float64 `json:"bytes"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type authInfo struct {
	Failures  float64 `json:"failures"`
	Successes float64 `json:"successes"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
	MaxConns      float64 `json:"maxConns"`
	EmptyAcquires float64 `json:"emptyAcquires"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleLive(w)
	}
}

func (m *Metrics) handleLive(w http.ResponseWriter) {
	families, err := m.registry.Gather()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	requests := fam["teamspace_http_requests_total"]
	latency := fam["teamspace_http_request_duration_seconds"]
	votes := fam["teamspace_votes_total"]
	transitions := fam["teamspace_week_transitions_total"]
	notifications := fam["teamspace_notifications_total"]
	liveEvents := fam["teamspace_live_events_total"]

	invites := make(map[string]float64)
	if f := fam["teamspace_invites_total"]; f != nil {
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "outcome" {
					invites[lp.GetValue()] += metric.GetCounter().GetValue()
				}
			}
		}
	}

	summary := Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(requests),
			ErrorRate:     computeErrorRate(requests),
			P50Latency:    histogramPercentile(latency, 0.50),
			P95Latency:    histogramPercentile(latency, 0.95),
			P99Latency:    histogramPercentile(latency, 0.99),
		},
		Votes: voteSummary{
			Accepted:    counterWithLabel(votes, "result", "accepted"),
			Duplicates:  counterWithLabel(votes, "result", "duplicate"),
			Rejected:    counterWithLabel(votes, "result", "rejected"),
			Advances:    counterWithLabel(transitions, "kind", "advanced"),
			Completions: counterWithLabel(transitions, "kind", "completed"),
			LockRetries: sumCounter(fam["teamspace_state_lock_retries_total"]),
		},
		Notifications: notifySummary{
			QueueDepth: gaugeValue(fam["teamspace_notify_queue_depth"]),
			Sent:       counterWithLabel(notifications, "status", "sent"),
			Failed:     counterWithLabel(notifications, "status", "failed"),
			Dropped:    counterWithLabel(notifications, "status", "dropped"),
			P95Send:    histogramPercentile(fam["teamspace_notify_send_duration_seconds"], 0.95),
		},
		Live: liveSummary{
			Subscribers: gaugeValue(fam["teamspace_live_subscribers"]),
			Delivered:   counterWithLabel(liveEvents, "status", "delivered"),
			Dropped:     counterWithLabel(liveEvents, "status", "dropped"),
		},
		Invites: invites,
		Uploads: uploadSummary{
			Count: sumCounter(fam["teamspace_uploads_total"]),
			Bytes: sumCounter(fam["teamspace_upload_bytes_total"]),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["teamspace_ratelimit_rejections_total"]),
		},
		Auth: authInfo{
			Failures:  sumCounter(fam["teamspace_auth_failures_total"]),
			Successes: sumCounter(fam["teamspace_auth_successes_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["teamspace_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["teamspace_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["teamspace_db_pool_acquired_conns"]),
			MaxConns:      gaugeValue(fam["teamspace_db_pool_max_conns"]),
			EmptyAcquires: sumCounter(fam["teamspace_db_pool_empty_acquires_total"]),
		},
		Server: serverInfo{
			StartTime:     gaugeValue(fam["teamspace_server_start_time_seconds"]),
			UptimeSeconds: float64(time.Now().Unix()) - gaugeValue(fam["teamspace_server_start_time_seconds"]),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if hasLabel(m, labelName, labelValue) && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '5' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
