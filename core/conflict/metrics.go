package conflict

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/heremaps/xyz-hub-sub023/core/conflict")

var (
	intentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xyzhub",
		Subsystem: "conflict",
		Name:      "intent_outcomes_total",
		Help:      "Write intents by terminal outcome",
	}, []string{"outcome"})

	tableEffects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xyzhub",
		Subsystem: "conflict",
		Name:      "table_effects_total",
		Help:      "Physical writes by table effect",
	}, []string{"effect"})

	mergeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xyzhub",
		Subsystem: "conflict",
		Name:      "merge_conflicts_total",
		Help:      "Three-way merges that reported conflicting paths, by resolution",
	}, []string{"resolution"})

	intentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "xyzhub",
		Subsystem: "conflict",
		Name:      "intent_duration_seconds",
		Help:      "Time to resolve, decide and write one intent",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"outcome"})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "xyzhub",
		Subsystem: "conflict",
		Name:      "batch_intents",
		Help:      "Number of intents per applied batch",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)
