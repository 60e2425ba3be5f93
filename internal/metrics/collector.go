// Package metrics provides the Prometheus collector for the orchestrator
// core. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector holds every metric series the core emits.
type Collector struct {
	// Allocator metrics
	allocationsTotal   *prometheus.CounterVec
	allocationFailures *prometheus.CounterVec
	creditsAllocated   *prometheus.CounterVec

	// Executor metrics
	stepExecutionsTotal *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec

	// Resilience publisher metrics
	resilienceEventsTotal *prometheus.CounterVec
	resilienceDropped     prometheus.Counter
	resilienceSampledOut  prometheus.Counter
	publishOverhead       prometheus.Histogram

	// Cache metrics
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates and registers the collector against reg. Passing
// a fresh registry keeps tests and multiple instances from colliding on
// the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	c := &Collector{
		allocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "allocations_total",
				Help:      "Resource allocations granted, by tier.",
			},
			[]string{"tier"},
		),
		allocationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "allocation_failures_total",
				Help:      "Rejected allocation requests, by tier and reason.",
			},
			[]string{"tier", "reason"},
		),
		creditsAllocated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_allocated_total",
				Help:      "Credits granted to consumers, by tier.",
			},
			[]string{"tier"},
		),
		stepExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_executions_total",
				Help:      "Step executions, by step type and status.",
			},
			[]string{"type", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Step execution duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		resilienceEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resilience_events_total",
				Help:      "Resilience events buffered for publication, by type.",
			},
			[]string{"type"},
		),
		resilienceDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resilience_events_dropped_total",
				Help:      "Resilience events dropped because a batch publish failed.",
			},
		),
		resilienceSampledOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resilience_events_sampled_out_total",
				Help:      "Resilience events skipped by sampling.",
			},
		),
		publishOverhead: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resilience_publish_overhead_seconds",
				Help:      "Per-call overhead of the resilience publisher.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 10),
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Cache lookups that found a value.",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Cache lookups that missed.",
			},
		),
	}
	c.logger = logger.With(zap.String("component", "metrics"))

	reg.MustRegister(
		c.allocationsTotal,
		c.allocationFailures,
		c.creditsAllocated,
		c.stepExecutionsTotal,
		c.stepDuration,
		c.resilienceEventsTotal,
		c.resilienceDropped,
		c.resilienceSampledOut,
		c.publishOverhead,
		c.cacheHits,
		c.cacheMisses,
	)

	return c
}

// RecordAllocation counts one granted allocation and its credits.
func (c *Collector) RecordAllocation(tier string, credits float64) {
	c.allocationsTotal.WithLabelValues(tier).Inc()
	c.creditsAllocated.WithLabelValues(tier).Add(credits)
}

// RecordAllocationFailure counts one rejected allocation request.
func (c *Collector) RecordAllocationFailure(tier, reason string) {
	c.allocationFailures.WithLabelValues(tier, reason).Inc()
}

// RecordStepExecution counts one step execution and its duration.
func (c *Collector) RecordStepExecution(stepType, status string, seconds float64) {
	c.stepExecutionsTotal.WithLabelValues(stepType, status).Inc()
	c.stepDuration.WithLabelValues(stepType).Observe(seconds)
}

// RecordResilienceEvent counts one buffered resilience event.
func (c *Collector) RecordResilienceEvent(eventType string) {
	c.resilienceEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordResilienceDropped counts events lost to a failed batch publish.
func (c *Collector) RecordResilienceDropped(n int) {
	c.resilienceDropped.Add(float64(n))
}

// RecordResilienceSampledOut counts one event skipped by sampling.
func (c *Collector) RecordResilienceSampledOut() {
	c.resilienceSampledOut.Inc()
}

// RecordPublishOverhead observes one publisher call's overhead.
func (c *Collector) RecordPublishOverhead(seconds float64) {
	c.publishOverhead.Observe(seconds)
}

// RecordCacheHit counts one cache hit.
func (c *Collector) RecordCacheHit() { c.cacheHits.Inc() }

// RecordCacheMiss counts one cache miss.
func (c *Collector) RecordCacheMiss() { c.cacheMisses.Inc() }
