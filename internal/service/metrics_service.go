package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and
// the participant lifecycle.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	participantsAdded  *prometheus.CounterVec
	statusTransitions  *prometheus.CounterVec
	historyEntries     *prometheus.CounterVec
	feedPublished      *prometheus.CounterVec
	directorySize      prometheus.Gauge
	directoryRefreshes *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
}

// MetricsSnapshot is a lightweight summary of request traffic.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requestsTotal"`
	AverageRequestDurationMs float64   `json:"averageRequestDurationMs"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	participantsAdded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participants_added_total",
		Help: "Participants created by intake source",
	}, []string{"source"})

	statusTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participant_status_transitions_total",
		Help: "Participant status changes by origin and target status",
	}, []string{"from", "to"})

	historyEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participant_history_entries_total",
		Help: "History entries appended by type",
	}, []string{"type"})

	feedPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participant_feed_events_total",
		Help: "Change feed publications by event type and result",
	}, []string{"type", "result"})

	directorySize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "participant_directory_size",
		Help: "Participants held in the live directory",
	})

	directoryRefreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participant_directory_refreshes_total",
		Help: "Directory snapshot reloads by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, participantsAdded, statusTransitions, historyEntries,
		feedPublished, directorySize, directoryRefreshes, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:           registry,
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		participantsAdded:  participantsAdded,
		statusTransitions:  statusTransitions,
		historyEntries:     historyEntries,
		feedPublished:      feedPublished,
		directorySize:      directorySize,
		directoryRefreshes: directoryRefreshes,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordParticipantCreated counts an intake.
func (m *MetricsService) RecordParticipantCreated(source string) {
	if m == nil {
		return
	}
	m.participantsAdded.WithLabelValues(source).Inc()
}

// RecordStatusTransition counts a status change.
func (m *MetricsService) RecordStatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordHistoryEntry counts an appended history entry.
func (m *MetricsService) RecordHistoryEntry(entryType string) {
	if m == nil {
		return
	}
	m.historyEntries.WithLabelValues(entryType).Inc()
}

// RecordFeedPublish counts a change feed publication attempt.
func (m *MetricsService) RecordFeedPublish(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.feedPublished.WithLabelValues(eventType, result).Inc()
}

// SetDirectorySize reports the number of participants held locally.
func (m *MetricsService) SetDirectorySize(n int) {
	if m == nil {
		return
	}
	m.directorySize.Set(float64(n))
}

// RecordDirectoryRefresh counts a snapshot reload.
func (m *MetricsService) RecordDirectoryRefresh(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.directoryRefreshes.WithLabelValues(result).Inc()
}

// Snapshot returns aggregated request metrics.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}
	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
