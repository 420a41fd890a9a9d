package observability

import (
	"context"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Observability records question-level OpenTelemetry metrics, exported
// through Prometheus, and traces question handling.
type Observability struct {
	meterProvider    *metric.MeterProvider
	meter            otelmetric.Meter
	questionCounter  otelmetric.Int64Counter
	questionDuration otelmetric.Float64Histogram

	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
}

type options struct {
	registerer promclient.Registerer
	processors []sdktrace.SpanProcessor
}

type Option func(*options)

// WithRegisterer exports metrics to reg instead of the default registry.
func WithRegisterer(reg promclient.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithSpanProcessor receives every finished span.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) { o.processors = append(o.processors, sp) }
}

// New builds the meter and tracer providers. A failing exporter yields a
// no-op value so callers never need to nil-check.
func New(serviceName string, opts ...Option) (*Observability, error) {
	o := &options{registerer: promclient.DefaultRegisterer}
	for _, opt := range opts {
		opt(o)
	}

	exporter, err := prometheus.New(prometheus.WithRegisterer(o.registerer))
	if err != nil {
		return &Observability{}, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	tpOpts := make([]sdktrace.TracerProviderOption, 0, len(o.processors))
	for _, sp := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}
	tracerProvider := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tracerProvider)

	meter := provider.Meter(serviceName)

	questionCounter, _ := meter.Int64Counter(
		"questions.answered",
		otelmetric.WithDescription("Number of questions answered"),
	)

	questionDuration, _ := meter.Float64Histogram(
		"questions.duration",
		otelmetric.WithDescription("Question answering duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:    provider,
		meter:            meter,
		questionCounter:  questionCounter,
		questionDuration: questionDuration,
		tracerProvider:   tracerProvider,
		tracer:           tracerProvider.Tracer(serviceName),
	}, nil
}

// RecordQuestion counts one answered question.
func (o *Observability) RecordQuestion(ctx context.Context, intent, dataSource string, fallback bool) {
	if o == nil || o.questionCounter == nil {
		return
	}
	o.questionCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("intent", intent),
		attribute.String("data_source", dataSource),
		attribute.Bool("fallback", fallback),
	))
}

func (o *Observability) RecordQuestionDuration(ctx context.Context, duration time.Duration, intent string) {
	if o == nil || o.questionDuration == nil {
		return
	}
	o.questionDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("intent", intent),
	))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
	_ = o.tracerProvider.Shutdown(ctx)
}
