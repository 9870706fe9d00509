package gimbal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/teranos/gimbal"

// stackMetrics holds the blend stack instruments. They are created on first
// use; a failed instrument degrades to a no-op.
type stackMetrics struct {
	provider metric.MeterProvider
	logger   *slog.Logger

	once          sync.Once
	pushed        metric.Int64Counter
	popped        metric.Int64Counter
	frozen        metric.Int64Counter
	staleSkips    metric.Int64Counter
	frameDuration metric.Float64Histogram
}

func newStackMetrics(provider metric.MeterProvider, logger *slog.Logger) *stackMetrics {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	return &stackMetrics{provider: provider, logger: logger}
}

func (m *stackMetrics) init() {
	m.once.Do(func() {
		meter := m.provider.Meter(instrumentationName)
		var initErrors []string

		var err error
		m.pushed, err = meter.Int64Counter("gimbal_entries_pushed_total",
			metric.WithDescription("Number of blend stack entries created"),
		)
		if err != nil {
			initErrors = append(initErrors, "pushed: "+err.Error())
		}

		m.popped, err = meter.Int64Counter("gimbal_entries_popped_total",
			metric.WithDescription("Number of blend stack entries removed"),
		)
		if err != nil {
			initErrors = append(initErrors, "popped: "+err.Error())
		}

		m.frozen, err = meter.Int64Counter("gimbal_entries_frozen_total",
			metric.WithDescription("Number of blend stack entries frozen"),
		)
		if err != nil {
			initErrors = append(initErrors, "frozen: "+err.Error())
		}

		m.staleSkips, err = meter.Int64Counter("gimbal_stale_context_skips_total",
			metric.WithDescription("Entry updates skipped because the context snapshot was invalid"),
		)
		if err != nil {
			initErrors = append(initErrors, "stale_skips: "+err.Error())
		}

		m.frameDuration, err = meter.Float64Histogram("gimbal_frame_duration_seconds",
			metric.WithDescription("Time spent in one root evaluation"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "frame_duration: "+err.Error())
		}

		if len(initErrors) > 0 {
			m.logger.Error("failed to initialize some gimbal metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

func layerAttr(layer Layer) metric.AddOption {
	return metric.WithAttributes(attribute.String("layer", layer.String()))
}

func (m *stackMetrics) add(c metric.Int64Counter, layer Layer) {
	if c != nil {
		c.Add(context.Background(), 1, layerAttr(layer))
	}
}

func (m *stackMetrics) entryPushed(layer Layer) {
	m.init()
	m.add(m.pushed, layer)
}

func (m *stackMetrics) entryPopped(layer Layer) {
	m.init()
	m.add(m.popped, layer)
}

func (m *stackMetrics) entryFrozen(layer Layer) {
	m.init()
	m.add(m.frozen, layer)
}

func (m *stackMetrics) staleSkip(layer Layer) {
	m.init()
	m.add(m.staleSkips, layer)
}

func (m *stackMetrics) frame(evaluation string, d time.Duration) {
	m.init()
	if m.frameDuration != nil {
		m.frameDuration.Record(context.Background(), d.Seconds(),
			metric.WithAttributes(attribute.String("evaluation", evaluation)))
	}
}
