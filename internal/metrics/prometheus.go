package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phishguard_scan_duration_seconds",
			Help:    "URL analysis duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"classification"},
	)

	ScanTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_scan_total",
			Help: "Total number of URL scans processed",
		},
		[]string{"status"},
	)

	RiskScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "phishguard_risk_score",
			Help:    "Final risk score distribution",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	SignalDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_signal_degraded_total",
			Help: "Scans where a signal source was unavailable",
		},
		[]string{"signal"},
	)

	FeedbackSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_feedback_submitted_total",
			Help: "Feedback submissions by initial status",
		},
		[]string{"status"},
	)

	ReviewDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_review_decisions_total",
			Help: "Admin review decisions",
		},
		[]string{"decision"},
	)

	RetrainTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "phishguard_retrain_triggered_total",
			Help: "Retraining signals emitted",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phishguard_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(ScanDuration)
	prometheus.MustRegister(ScanTotal)
	prometheus.MustRegister(RiskScore)
	prometheus.MustRegister(SignalDegraded)
	prometheus.MustRegister(FeedbackSubmitted)
	prometheus.MustRegister(ReviewDecisions)
	prometheus.MustRegister(RetrainTriggered)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
