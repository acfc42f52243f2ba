// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Safety metrics
	SafetyDecisions  *prometheus.CounterVec
	SourceFailures   *prometheus.CounterVec
	SourceLatency    *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	PriceConfidences *prometheus.CounterVec

	// Quote metrics
	QuotesRequested *prometheus.CounterVec
	QuoteLookups    *prometheus.CounterVec
	RouteSteps      *prometheus.HistogramVec

	// Ledger metrics
	LedgerOperations  *prometheus.CounterVec
	DepositsProcessed *prometheus.CounterVec
	CreditsExpired    prometheus.Counter

	// HTTP metrics
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimited         prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dust_sweeper"
	}

	return &Metrics{
		// Safety metrics
		SafetyDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "decisions_total",
			Help:      "Per-token safety decisions by result",
		}, []string{"result"}),
		SourceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "source_failures_total",
			Help:      "Failed or timed out external source calls",
		}, []string{"component", "source"}),
		SourceLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "source_latency_seconds",
			Help:      "External source call latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"component", "source"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and outcome (hit, miss)",
		}, []string{"cache", "outcome"}),
		PriceConfidences: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "price_confidence_total",
			Help:      "Validated prices by confidence tier",
		}, []string{"confidence"}),

		// Quote metrics
		QuotesRequested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "requested_total",
			Help:      "Quote requests by outcome",
		}, []string{"outcome"}),
		QuoteLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "lookups_total",
			Help:      "Quote reads by result (active, expired, not_found)",
		}, []string{"result"}),
		RouteSteps: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "route_steps",
			Help:      "Number of route steps per quote by step type",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}, []string{"type"}),

		// Ledger metrics
		LedgerOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "operations_total",
			Help:      "Ledger operations by type and outcome",
		}, []string{"operation", "outcome"}),
		DepositsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "deposits_processed_total",
			Help:      "Deposit notifications by origin and outcome",
		}, []string{"origin", "outcome"}),
		CreditsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credits",
			Name:      "accounts_expired_total",
			Help:      "Accounts zeroed by credit expiry",
		}),

		// HTTP metrics
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSafetyDecision counts a per-token verdict: blocked, approval or auto.
func RecordSafetyDecision(result string) {
	DefaultMetrics.SafetyDecisions.WithLabelValues(result).Inc()
}

// RecordSourceCall records latency and, on error, a failure for an external source.
func RecordSourceCall(component, source string, seconds float64, err error) {
	DefaultMetrics.SourceLatency.WithLabelValues(component, source).Observe(seconds)
	if err != nil {
		DefaultMetrics.SourceFailures.WithLabelValues(component, source).Inc()
	}
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(cacheName string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	DefaultMetrics.CacheLookups.WithLabelValues(cacheName, outcome).Inc()
}

// RecordPriceConfidence counts a validated price by tier.
func RecordPriceConfidence(confidence string) {
	DefaultMetrics.PriceConfidences.WithLabelValues(confidence).Inc()
}

// RecordQuoteRequest counts a quote request outcome.
func RecordQuoteRequest(outcome string) {
	DefaultMetrics.QuotesRequested.WithLabelValues(outcome).Inc()
}

// RecordQuoteLookup counts a quote read result.
func RecordQuoteLookup(result string) {
	DefaultMetrics.QuoteLookups.WithLabelValues(result).Inc()
}

// RecordRouteSteps observes how many steps of a type a route has.
func RecordRouteSteps(stepType string, n int) {
	DefaultMetrics.RouteSteps.WithLabelValues(stepType).Observe(float64(n))
}

// RecordLedgerOperation counts a ledger operation outcome.
func RecordLedgerOperation(operation, outcome string) {
	DefaultMetrics.LedgerOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordDeposit counts a deposit notification by origin (webhook, chain, nats).
func RecordDeposit(origin, outcome string) {
	DefaultMetrics.DepositsProcessed.WithLabelValues(origin, outcome).Inc()
}

// RecordCreditsExpired adds n expired accounts.
func RecordCreditsExpired(n int) {
	DefaultMetrics.CreditsExpired.Add(float64(n))
}

// RecordHTTPRequest observes an HTTP request.
func RecordHTTPRequest(route, method, status string, seconds float64) {
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route, method, status).Observe(seconds)
}

// RecordRateLimited counts a rejected request.
func RecordRateLimited() {
	DefaultMetrics.RateLimited.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
