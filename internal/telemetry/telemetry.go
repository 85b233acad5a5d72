// Package telemetry holds the otel instruments recorded by the monitor.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/moffa90/go-qbmidi"

const (
	LinksFound   = "qbmidi.links.found"
	LinksRemoved = "qbmidi.links.removed"
	Requests     = "qbmidi.requests"
	LockFailures = "qbmidi.lock.failures"
)

// Result attribute values for Requests.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Descriptor defines metadata used when registering instruments.
type Descriptor struct {
	Description string
	Unit        string
}

var descriptors = map[string]Descriptor{
	LinksFound:   {Description: "Links created by discovery", Unit: "{link}"},
	LinksRemoved: {Description: "Dead links pruned from the roster", Unit: "{link}"},
	Requests:     {Description: "Queued requests handled", Unit: "{request}"},
	LockFailures: {Description: "Monitor cycles skipped for lack of the lock", Unit: "{cycle}"},
}

// Telemetry records monitor counters and spans.
type Telemetry struct {
	tracer   trace.Tracer
	counters map[string]metric.Int64Counter
}

// New registers the counters on mp and takes a tracer from tp.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)

	t := &Telemetry{
		tracer:   tp.Tracer(instrumentationName),
		counters: make(map[string]metric.Int64Counter, len(descriptors)),
	}
	for name, d := range descriptors {
		counter, err := meter.Int64Counter(
			name,
			metric.WithDescription(d.Description),
			metric.WithUnit(d.Unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", name, err)
		}
		t.counters[name] = counter
	}

	return t, nil
}

// NewNoop returns a Telemetry that records nothing.
func NewNoop() *Telemetry {
	t, err := New(metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	if err != nil {
		panic(err)
	}
	return t
}

// Tracer returns the tracer used for monitor spans.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Start opens a span named name.
func (t *Telemetry) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Add increments the named counter by n. Unknown names are ignored.
func (t *Telemetry) Add(ctx context.Context, name string, n int, attrs ...attribute.KeyValue) {
	counter, ok := t.counters[name]
	if !ok || n <= 0 {
		return
	}
	counter.Add(ctx, int64(n), metric.WithAttributes(attrs...))
}

// Request counts one handled request of kind.
func (t *Telemetry) Request(ctx context.Context, kind string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	t.Add(ctx, Requests, 1,
		attribute.String("kind", kind),
		attribute.String("result", result),
	)
}
