// Package observe provides application-wide observability primitives for
// posecoach: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all posecoach metrics.
const meterName = "github.com/MrWong99/posecoach"

// Cue status attribute values.
const (
	CueSpoken     = "spoken"
	CueSuppressed = "suppressed"
	CueDropped    = "dropped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// Frames counts analysed frames. Attribute: exercise.
	Frames metric.Int64Counter

	// FrameDuration tracks the time spent analysing one frame.
	FrameDuration metric.Float64Histogram

	// Score records the posture score of every analysed frame.
	Score metric.Float64Histogram

	// Reps counts half-cycle repetitions. Attribute: exercise.
	Reps metric.Int64Counter

	// Cues counts corrective cues. Attributes: key, status
	// (spoken|suppressed|dropped).
	Cues metric.Int64Counter

	// TTSDuration tracks text-to-speech synthesis latency per cue.
	// Attribute: provider.
	TTSDuration metric.Float64Histogram

	// TTSErrors counts failed synthesis attempts. Attribute: provider.
	TTSErrors metric.Int64Counter

	// ActiveSessions tracks the number of live coaching sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// synthesis and HTTP latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// frameBuckets covers per-frame analysis, which is pure computation.
var frameBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01,
}

var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 95, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("posecoach.frames",
		metric.WithDescription("Total analysed frames by exercise."),
	); err != nil {
		return nil, err
	}
	if met.FrameDuration, err = m.Float64Histogram("posecoach.frame.duration",
		metric.WithDescription("Time spent analysing one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Score, err = m.Float64Histogram("posecoach.score",
		metric.WithDescription("Posture score per analysed frame."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Reps, err = m.Int64Counter("posecoach.reps",
		metric.WithDescription("Total counted repetition half-cycles by exercise."),
	); err != nil {
		return nil, err
	}
	if met.Cues, err = m.Int64Counter("posecoach.cues",
		metric.WithDescription("Total corrective cues by key and status."),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("posecoach.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis per cue."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSErrors, err = m.Int64Counter("posecoach.tts.errors",
		metric.WithDescription("Total failed text-to-speech syntheses by provider."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("posecoach.active_sessions",
		metric.WithDescription("Number of live coaching sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("posecoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame records one analysed frame: the frame counter, the analysis
// latency and the resulting score.
func (m *Metrics) RecordFrame(ctx context.Context, exercise string, d time.Duration, score float64) {
	attrs := metric.WithAttributes(attribute.String("exercise", exercise))
	m.Frames.Add(ctx, 1, attrs)
	m.FrameDuration.Record(ctx, d.Seconds(), attrs)
	m.Score.Record(ctx, score, attrs)
}

// RecordReps adds n repetition half-cycles for exercise. n <= 0 is ignored.
func (m *Metrics) RecordReps(ctx context.Context, exercise string, n int) {
	if n <= 0 {
		return
	}
	m.Reps.Add(ctx, int64(n), metric.WithAttributes(attribute.String("exercise", exercise)))
}

// RecordCue records a corrective cue with the given status.
func (m *Metrics) RecordCue(ctx context.Context, key, status string) {
	m.Cues.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("key", key),
			attribute.String("status", status),
		),
	)
}

// RecordTTS records one synthesis attempt. A non-nil err increments the
// error counter in addition to the latency histogram.
func (m *Metrics) RecordTTS(ctx context.Context, provider string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	m.TTSDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.TTSErrors.Add(ctx, 1, attrs)
	}
}
