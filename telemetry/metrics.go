// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommandsTotal    *prometheus.CounterVec // labels: command, status
	AIRequestsFailed *prometheus.CounterVec // labels: provider
	SegmentsSent     prometheus.Counter
	MusicLookups     *prometheus.CounterVec // labels: source, status

	// Histograms (seconds)
	CommandDuration   *prometheus.HistogramVec
	AIRequestDuration *prometheus.HistogramVec

	// Gauges
	QueueDepthGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "slashbot_commands_total", Help: "Slash command invocations by command and outcome"}, []string{"command", "status"})
		AIRequestsFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "slashbot_ai_requests_failed_total", Help: "Failed completion requests by provider"}, []string{"provider"})
		SegmentsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "slashbot_segments_sent_total", Help: "Chunked response segments delivered as follow-up messages"})
		MusicLookups = promauto.NewCounterVec(prometheus.CounterOpts{Name: "slashbot_music_lookups_total", Help: "Music searches and track lookups by source and outcome"}, []string{"source", "status"})
		CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "slashbot_command_duration_seconds", Help: "Time to produce the initial command response", Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}}, []string{"command"})
		AIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "slashbot_ai_request_duration_seconds", Help: "Completion request duration seconds", Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90}}, []string{"provider"})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "slashbot_queue_depth", Help: "Tracks queued across all guild players"})
	})
}

// RecordCommand counts one dispatch and observes how long the handler took.
func RecordCommand(command, status string, d time.Duration) {
	if CommandsTotal != nil {
		CommandsTotal.WithLabelValues(command, status).Inc()
	}
	if CommandDuration != nil {
		CommandDuration.WithLabelValues(command).Observe(d.Seconds())
	}
}

// RecordAIRequest observes a completion call; err != nil also bumps the failure counter.
func RecordAIRequest(provider string, d time.Duration, err error) {
	if AIRequestDuration != nil {
		AIRequestDuration.WithLabelValues(provider).Observe(d.Seconds())
	}
	if err != nil && AIRequestsFailed != nil {
		AIRequestsFailed.WithLabelValues(provider).Inc()
	}
}

// RecordMusicLookup counts a lookup against source (spotify, ytdlp, youtube).
func RecordMusicLookup(source string, err error) {
	if MusicLookups == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	MusicLookups.WithLabelValues(source, status).Inc()
}

// AddSegmentsSent adds n delivered segments.
func AddSegmentsSent(n int) {
	if SegmentsSent != nil && n > 0 {
		SegmentsSent.Add(float64(n))
	}
}

// SetQueueDepth records the current number of queued tracks.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
