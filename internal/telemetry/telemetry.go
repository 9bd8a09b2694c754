// Package telemetry wraps the OpenTelemetry tracer and meter used around the
// spawn sequence. Providers default to the otel globals, which are no-ops
// until an exporter is installed.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/AltairaLabs/codegen-orchestrator"

// Span names for the spawn sequence
const (
	SpanSpawn            = "session.spawn"
	SpanWorkspacePrepare = "workspace.prepare"
	SpanCredentialFetch  = "credential.fetch"
	SpanGitSetup         = "git.setup"
	SpanProcessStart     = "process.start"
)

// Telemetry records spans and session counters
type Telemetry struct {
	tracer   trace.Tracer
	started  metric.Int64Counter
	terminal metric.Int64Counter
	duration metric.Float64Histogram
}

// New uses the global otel providers
func New() *Telemetry {
	return NewWithProviders(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewWithProviders uses explicit providers. Instrument creation failures fall
// back to no-op instruments from the same meter.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) *Telemetry {
	meter := mp.Meter(instrumentationName)
	started, _ := meter.Int64Counter("sessions.started",
		metric.WithDescription("Sessions that reached RUNNING"))
	terminal, _ := meter.Int64Counter("sessions.terminal",
		metric.WithDescription("Sessions that reached a terminal state"))
	duration, _ := meter.Float64Histogram("sessions.duration",
		metric.WithDescription("Wall-clock session duration"),
		metric.WithUnit("s"))
	return &Telemetry{
		tracer:   tp.Tracer(instrumentationName),
		started:  started,
		terminal: terminal,
		duration: duration,
	}
}

// Start opens a span. Attributes must never include secret material.
func (t *Telemetry) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End closes span, marking it failed when err is non-nil
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SessionStarted counts a session entering RUNNING
func (t *Telemetry) SessionStarted(ctx context.Context, provider, agentType string) {
	if t.started == nil {
		return
	}
	t.started.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("agent_type", agentType),
	))
}

// SessionTerminal counts a terminal transition and records its duration
func (t *Telemetry) SessionTerminal(ctx context.Context, status, reason string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("reason", reason),
	)
	if t.terminal != nil {
		t.terminal.Add(ctx, 1, attrs)
	}
	if t.duration != nil {
		t.duration.Record(ctx, d.Seconds(), attrs)
	}
}
