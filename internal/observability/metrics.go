// Package observability exposes Prometheus metrics for the command
// pipeline and serves them alongside a health endpoint.
package observability

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Command pipeline metrics
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talon_commands_total",
			Help: "Total number of processed commands",
		},
		[]string{"talent", "status"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talon_command_duration_seconds",
			Help:    "Command processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"talent"},
	)

	// Gateway metrics
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talon_gateway_calls_total",
			Help: "Total number of language model calls",
		},
		[]string{"provider", "status"},
	)

	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talon_gateway_call_duration_seconds",
			Help:    "Language model call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Retrieval metrics
	retrievalQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talon_retrieval_queries_total",
			Help: "Total number of vector retrieval queries",
		},
		[]string{"partition"},
	)

	// Learning metrics
	rulesFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "talon_rules_fired_total",
			Help: "Total number of automation rules fired",
		},
	)

	correctionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talon_corrections_total",
			Help: "Total number of user corrections handled",
		},
		[]string{"outcome"},
	)

	consolidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talon_consolidations_total",
			Help: "Total number of background consolidation runs",
		},
		[]string{"status"},
	)

	// System metrics
	bufferTurns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "talon_buffer_turns",
			Help: "Current number of turns in the conversation buffer",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics. Safe to call more than
// once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			commandsTotal,
			commandDuration,
			gatewayCallsTotal,
			gatewayCallDuration,
			retrievalQueriesTotal,
			rulesFiredTotal,
			correctionsTotal,
			consolidationsTotal,
			bufferTurns,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordCommand records one processed command.
func RecordCommand(talent string, success bool, duration time.Duration) {
	commandsTotal.WithLabelValues(talent, statusLabel(success)).Inc()
	commandDuration.WithLabelValues(talent).Observe(duration.Seconds())
}

// RecordGatewayCall records one language model call.
func RecordGatewayCall(provider string, success bool, duration time.Duration) {
	gatewayCallsTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	gatewayCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordRetrievalQuery records one vector search against a partition.
func RecordRetrievalQuery(partition string) {
	retrievalQueriesTotal.WithLabelValues(partition).Inc()
}

// RecordRuleFired records an automation rule firing.
func RecordRuleFired() {
	rulesFiredTotal.Inc()
}

// RecordCorrection records a handled correction by outcome:
// "replayed", "clarification", or "failed".
func RecordCorrection(outcome string) {
	correctionsTotal.WithLabelValues(outcome).Inc()
}

// RecordConsolidation records a consolidation run by status:
// "stored", "skipped", or "dropped".
func RecordConsolidation(status string) {
	consolidationsTotal.WithLabelValues(status).Inc()
}

// SetBufferTurns sets the conversation buffer gauge.
func SetBufferTurns(count int) {
	bufferTurns.Set(float64(count))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Server serves /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server on addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[Metrics] serving on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Metrics] server stopped: %v", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
