package metrics

import "github.com/prometheus/client_golang/prometheus"

// CrisisMetrics exposes counters/histograms for detection, the escalation
// workflow and the HTTP surface. All methods are nil-safe.
type CrisisMetrics struct {
	assessments      *prometheus.CounterVec
	detectionLatency prometheus.Histogram
	eventCreations   *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	persistRetries   prometheus.Counter
	failsafeAlerts   prometheus.Counter
	historyLookups   *prometheus.CounterVec
	slaBreaches      *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

func NewCrisisMetrics(reg prometheus.Registerer) *CrisisMetrics {
	m := &CrisisMetrics{
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellbeing",
			Subsystem: "crisis",
			Name:      "assessments_total",
			Help:      "Crisis assessments by overall level",
		}, []string{"level"}),
		detectionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wellbeing",
			Subsystem: "crisis",
			Name:      "detection_latency_seconds",
			Help:      "Latency of the three-stage detection pipeline",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		eventCreations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellbeing",
			Subsystem: "crisis",
			Name:      "event_creations_total",
			Help:      "Crisis event creation attempts by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellbeing",
			Subsystem: "crisis",
			Name:      "transitions_total",
			Help:      "Crisis event transition attempts by outcome",
		}, []string{"outcome"}),
		persistRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wellbeing",
			Subsystem: "crisis",
			Name:      "persist_retries_total",
			Help:      "Retries after transient event store failures",
		}),
		failsafeAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wellbeing",
			Subsystem: "crisis",
			Name:      "failsafe_alerts_total",
			Help:      "Fail-safe alerts raised for events that could not be stored",
		}),
		historyLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellbeing",
			Subsystem: "crisis",
			Name:      "history_lookups_total",
			Help:      "User history lookups by result",
		}, []string{"result"}),
		slaBreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellbeing",
			Subsystem: "crisis",
			Name:      "sla_breaches_total",
			Help:      "Open crisis events that missed a review or resolution deadline",
		}, []string{"deadline"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellbeing",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wellbeing",
			Subsystem: "http",
			Name:      "request_latency_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.assessments, m.detectionLatency, m.eventCreations, m.transitions,
		m.persistRetries, m.failsafeAlerts, m.historyLookups, m.slaBreaches, m.httpRequests, m.httpLatency,
	)
	return m
}

func (m *CrisisMetrics) ObserveAssessment(level string, seconds float64) {
	if m == nil {
		return
	}
	m.assessments.WithLabelValues(level).Inc()
	m.detectionLatency.Observe(seconds)
}

func (m *CrisisMetrics) ObserveEventCreation(outcome string) {
	if m == nil {
		return
	}
	m.eventCreations.WithLabelValues(outcome).Inc()
}

func (m *CrisisMetrics) ObserveTransition(outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(outcome).Inc()
}

func (m *CrisisMetrics) ObservePersistRetry() {
	if m == nil {
		return
	}
	m.persistRetries.Inc()
}

func (m *CrisisMetrics) ObserveFailsafeAlert() {
	if m == nil {
		return
	}
	m.failsafeAlerts.Inc()
}

// ObserveHistoryLookup records whether the context lookup degraded.
func (m *CrisisMetrics) ObserveHistoryLookup(degraded bool) {
	if m == nil {
		return
	}
	result := "ok"
	if degraded {
		result = "degraded"
	}
	m.historyLookups.WithLabelValues(result).Inc()
}

func (m *CrisisMetrics) ObserveSLABreach(deadline string) {
	if m == nil {
		return
	}
	m.slaBreaches.WithLabelValues(deadline).Inc()
}

func (m *CrisisMetrics) ObserveHTTPRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(seconds)
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
