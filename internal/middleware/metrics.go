package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Update metrics
	updatesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpmgr_bot_updates_received_total",
		Help: "Total number of updates received",
	}, []string{"kind"})

	// Command metrics
	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpmgr_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	// Admission metrics
	admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpmgr_bot_admissions_total",
		Help: "Flood admission decisions",
	}, []string{"decision"})

	admissionFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grpmgr_bot_admission_fail_open_total",
		Help: "Events admitted because the flood state was unavailable",
	})

	// Formatting metrics
	parseFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grpmgr_bot_parse_fallbacks_total",
		Help: "Messages sent as plain text after a formatting error",
	})

	renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "grpmgr_bot_render_duration_seconds",
		Help:    "Duration of parse and render",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})

	// Cache metrics
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpmgr_bot_cache_hits_total",
		Help: "Total number of cache hits",
	}, []string{"tier"})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grpmgr_bot_cache_misses_total",
		Help: "Total number of cache misses",
	})

	// Outbound metrics
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpmgr_bot_messages_sent_total",
		Help: "Total number of messages sent",
	}, []string{"status"})

	governorWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "grpmgr_bot_governor_wait_seconds",
		Help:    "Time spent waiting for the outbound governor",
		Buckets: prometheus.DefBuckets,
	})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpmgr_bot_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "status"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordUpdateReceived records an incoming update
func (m *Metrics) RecordUpdateReceived(kind string) {
	updatesReceived.WithLabelValues(kind).Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordAdmission records a flood admission decision
func (m *Metrics) RecordAdmission(decision Decision) {
	admissions.WithLabelValues(decision.String()).Inc()
}

// RecordFailOpen records an admission made without flood state
func (m *Metrics) RecordFailOpen() {
	admissionFailOpen.Inc()
}

// RecordParseFallback records a message sent as plain text
func (m *Metrics) RecordParseFallback() {
	parseFallbacks.Inc()
}

// RecordRender records a parse and render
func (m *Metrics) RecordRender(duration time.Duration) {
	renderDuration.Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit on tier
func (m *Metrics) RecordCacheHit(tier string) {
	cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordMessageSent records an outbound message
func (m *Metrics) RecordMessageSent(status string) {
	messagesSent.WithLabelValues(status).Inc()
}

// RecordGovernorWait records time blocked on the outbound governor
func (m *Metrics) RecordGovernorWait(d time.Duration) {
	governorWait.Observe(d.Seconds())
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string) {
	storageOperations.WithLabelValues(operation, status).Inc()
}

// NewMetricsServer builds the metrics HTTP server
func NewMetricsServer(port int, path string) *http.Server {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// StartMetricsServer serves metrics until ctx is done
func StartMetricsServer(ctx context.Context, port int, path string) error {
	server := NewMetricsServer(port, path)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
