package causal

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/lineage/internal/ir"
)

var tracer = otel.Tracer("github.com/roach88/lineage/internal/causal")

var (
	compareTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lineage_compare_total",
		Help: "Clock comparisons by resulting relation.",
	}, []string{"relation"})

	compareSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lineage_compare_steps",
		Help:    "Traversal steps spent per comparison.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	compareDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lineage_compare_duration_seconds",
		Help:    "Wall time per comparison, including retrieval.",
		Buckets: prometheus.DefBuckets,
	})

	compareEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lineage_compare_escalations_total",
		Help: "Budget escalations across all comparisons.",
	})

	clockPrunes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lineage_clock_pruned_members_total",
		Help: "Redundant clock members removed before traversal.",
	})
)

func startCompareSpan(ctx context.Context, entity ir.EntityID, a, b ir.Clock) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Comparator.Compare",
		trace.WithAttributes(
			attribute.String("lineage.entity", entity.String()),
			attribute.Int("lineage.clock_a.len", a.Len()),
			attribute.Int("lineage.clock_b.len", b.Len()),
		),
	)
}

func observeCompare(span trace.Span, result *Comparison, elapsed time.Duration) {
	compareTotal.WithLabelValues(result.Relation.String()).Inc()
	compareSteps.Observe(float64(result.Steps))
	compareDuration.Observe(elapsed.Seconds())

	span.SetAttributes(
		attribute.String("lineage.relation", result.Relation.String()),
		attribute.Int("lineage.steps", result.Steps),
		attribute.Int("lineage.escalations", result.Escalations()),
	)
	if result.Reason != nil {
		span.SetStatus(codes.Error, result.Reason.Error())
	}
}
