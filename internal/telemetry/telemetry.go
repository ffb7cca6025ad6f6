// Package telemetry is the ambient logging/metrics/tracing stack shared by
// every component of an edge: a small bundle built once per EdgeWrapper
// and passed down by handle, never as package globals.
package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	noop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry bundles the logger, metrics registry, and tracer an edge's
// components are constructed with.
type Telemetry struct {
	Log     zerolog.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
}

// New builds a Telemetry for the given edge id, writing structured logs to
// w (os.Stderr in production, a buffer in tests) and registering metrics
// against reg. A nil reg uses prometheus.NewRegistry so tests never
// collide with the global default registry. The tracer is a no-op unless
// the caller later wires a real trace.TracerProvider through SetTracer;
// event collection is an external collaborator, so the core must run
// without one attached.
func New(edgeID string, w io.Writer, reg prometheus.Registerer) (*Telemetry, error) {
	if w == nil {
		w = os.Stderr
	}
	logger := zerolog.New(w).With().
		Timestamp().
		Str("edge_id", edgeID).
		Logger()

	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Log:     logger,
		Metrics: metrics,
		Tracer:  noop.NewTracerProvider().Tracer("edgecache"),
	}, nil
}

// SetTracer swaps in a real tracer, e.g. one backed by an OTLP exporter
// wired up by a caller outside this repo's scope.
func (t *Telemetry) SetTracer(tr trace.Tracer) {
	t.Tracer = tr
}

// StartSpan is a thin convenience wrapper so call sites stay one-line
// but carry span context when a real tracer is attached.
func (t *Telemetry) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.Tracer.Start(ctx, name)
}

// Component returns a child logger tagged with component.
func (t *Telemetry) Component(component string) zerolog.Logger {
	return t.Log.With().Str("component", component).Logger()
}
