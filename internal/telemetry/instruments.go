package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BackendInstruments 通过 OTLP 导出后端调用指标，与 Prometheus collector 并行。
// nil 接收者上的方法均为 no-op。
type BackendInstruments struct {
	calls    metric.Int64Counter
	tokens   metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

// Meter returns a meter from the SDK provider, or the global (noop) one.
func (p *Providers) Meter(name string) metric.Meter {
	if p == nil || p.mp == nil {
		return otel.GetMeterProvider().Meter(name)
	}
	return p.mp.Meter(name)
}

// NewBackendInstruments registers the alcs.backend.* instruments on meter.
func NewBackendInstruments(meter metric.Meter) (*BackendInstruments, error) {
	calls, err := meter.Int64Counter("alcs.backend.calls",
		metric.WithDescription("Backend calls by role, backend and outcome"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, fmt.Errorf("create calls counter: %w", err)
	}
	tokens, err := meter.Int64Counter("alcs.backend.tokens",
		metric.WithDescription("Tokens exchanged with backends"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, fmt.Errorf("create tokens counter: %w", err)
	}
	duration, err := meter.Float64Histogram("alcs.backend.duration",
		metric.WithDescription("Backend call duration including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	active, err := meter.Int64UpDownCounter("alcs.backend.active",
		metric.WithDescription("Backend calls in flight"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, fmt.Errorf("create active counter: %w", err)
	}
	return &BackendInstruments{calls: calls, tokens: tokens, duration: duration, active: active}, nil
}

// BackendCall describes a finished backend call.
type BackendCall struct {
	Backend          string
	Model            string
	Status           string
	Duration         time.Duration
	PromptTokens     int
	CompletionTokens int
}

// Begin marks a call for role as in flight. The returned func records the
// outcome and must be called exactly once.
func (b *BackendInstruments) Begin(ctx context.Context, role string) func(BackendCall) {
	if b == nil {
		return func(BackendCall) {}
	}
	roleAttr := attribute.String("role", role)
	b.active.Add(ctx, 1, metric.WithAttributes(roleAttr))

	return func(c BackendCall) {
		b.active.Add(ctx, -1, metric.WithAttributes(roleAttr))

		attrs := metric.WithAttributes(roleAttr,
			attribute.String("backend", c.Backend),
			attribute.String("model", c.Model),
			attribute.String("status", c.Status))
		b.calls.Add(ctx, 1, attrs)
		b.duration.Record(ctx, c.Duration.Seconds(), attrs)

		if c.PromptTokens > 0 {
			b.tokens.Add(ctx, int64(c.PromptTokens), metric.WithAttributes(roleAttr,
				attribute.String("backend", c.Backend), attribute.String("type", "prompt")))
		}
		if c.CompletionTokens > 0 {
			b.tokens.Add(ctx, int64(c.CompletionTokens), metric.WithAttributes(roleAttr,
				attribute.String("backend", c.Backend), attribute.String("type", "completion")))
		}
	}
}
