package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	stepDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the engine and its
// HTTP surface.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Execution metrics
	ExecutionStartsTotal      *prometheus.CounterVec
	ExecutionCompletionsTotal *prometheus.CounterVec
	ExecutionsActive          *prometheus.GaugeVec
	ReviewDecisionsTotal      *prometheus.CounterVec

	// Step metrics
	StepAttemptsTotal *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	LLMTokensTotal    *prometheus.CounterVec
	BudgetDenials     prometheus.Counter

	// System metrics
	PlaybooksLoaded prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playbook_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playbook_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playbook_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Executions
		ExecutionStartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playbook_executions_total",
			Help: "Total number of execution starts.",
		}, []string{"playbook_id"}),
		ExecutionCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playbook_execution_completions_total",
			Help: "Total number of executions reaching a terminal state.",
		}, []string{"playbook_id", "final_status"}),
		ExecutionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "playbook_executions_active",
			Help: "Number of non-terminal executions.",
		}, []string{"playbook_id"}),
		ReviewDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playbook_review_decisions_total",
			Help: "Total number of review decisions submitted.",
		}, []string{"playbook_id", "decision"}),

		// Steps
		StepAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playbook_step_attempts_total",
			Help: "Total number of step attempts.",
		}, []string{"playbook_id", "step_type", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playbook_step_duration_seconds",
			Help:    "Step attempt duration in seconds.",
			Buckets: stepDurationBuckets,
		}, []string{"playbook_id", "step_type"}),
		LLMTokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playbook_llm_tokens_total",
			Help: "Total LLM tokens consumed.",
		}, []string{"playbook_id", "direction"}),
		BudgetDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playbook_budget_denials_total",
			Help: "Total number of budget guard denials.",
		}),

		// System
		PlaybooksLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playbook_definitions_loaded",
			Help: "Number of loaded playbook definitions.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		m.ExecutionStartsTotal,
		m.ExecutionCompletionsTotal,
		m.ExecutionsActive,
		m.ReviewDecisionsTotal,
		m.StepAttemptsTotal,
		m.StepDuration,
		m.LLMTokensTotal,
		m.BudgetDenials,
		m.PlaybooksLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordExecutionStart records an execution start.
func (m *Metrics) RecordExecutionStart(playbookID string) {
	m.ExecutionStartsTotal.WithLabelValues(playbookID).Inc()
	m.ExecutionsActive.WithLabelValues(playbookID).Inc()
}

// RecordExecutionCompletion records an execution reaching a terminal state.
func (m *Metrics) RecordExecutionCompletion(playbookID, finalStatus string) {
	m.ExecutionCompletionsTotal.WithLabelValues(playbookID, finalStatus).Inc()
	m.ExecutionsActive.WithLabelValues(playbookID).Dec()
}

// RecordReviewDecision records a submitted review decision.
func (m *Metrics) RecordReviewDecision(playbookID, decision string) {
	m.ReviewDecisionsTotal.WithLabelValues(playbookID, decision).Inc()
}

// RecordStepAttempt records one step attempt with its outcome and duration.
func (m *Metrics) RecordStepAttempt(playbookID, stepType, status string, duration time.Duration) {
	m.StepAttemptsTotal.WithLabelValues(playbookID, stepType, status).Inc()
	m.StepDuration.WithLabelValues(playbookID, stepType).Observe(duration.Seconds())
}

// RecordLLMTokens records provider token consumption.
func (m *Metrics) RecordLLMTokens(playbookID string, inputTokens, outputTokens int) {
	m.LLMTokensTotal.WithLabelValues(playbookID, "input").Add(float64(inputTokens))
	m.LLMTokensTotal.WithLabelValues(playbookID, "output").Add(float64(outputTokens))
}

// RecordBudgetDenial records a budget guard denial.
func (m *Metrics) RecordBudgetDenial() {
	m.BudgetDenials.Inc()
}

// SetPlaybooksLoaded sets the number of loaded playbook definitions.
func (m *Metrics) SetPlaybooksLoaded(count float64) {
	m.PlaybooksLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
