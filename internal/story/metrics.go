package story

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	runs        metric.Int64Counter
	fragments   metric.Int64Counter
	sentences   metric.Int64Counter
	audioBytes  metric.Int64Counter
	interaction metric.Int64Counter
	runDuration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var m metrics
	var err error
	if m.runs, err = meter.Int64Counter("story.runs",
		metric.WithDescription("Story runs by outcome")); err != nil {
		return nil, err
	}
	if m.fragments, err = meter.Int64Counter("story.text.fragments",
		metric.WithDescription("Text fragments forwarded to clients")); err != nil {
		return nil, err
	}
	if m.sentences, err = meter.Int64Counter("story.sentences.synthesized",
		metric.WithDescription("Sentences fully synthesized and streamed")); err != nil {
		return nil, err
	}
	if m.audioBytes, err = meter.Int64Counter("story.audio.bytes",
		metric.WithUnit("By"),
		metric.WithDescription("Audio bytes streamed to clients")); err != nil {
		return nil, err
	}
	if m.interaction, err = meter.Int64Counter("story.interactions",
		metric.WithDescription("Interaction checkpoints by result")); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram("story.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of story runs")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *metrics) recordRun(ctx context.Context, outcome string, started time.Time) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, time.Since(started).Seconds(), attrs)
}

func (m *metrics) recordInteraction(ctx context.Context, result string) {
	m.interaction.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
