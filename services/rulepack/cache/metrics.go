// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for cache operations.
var (
	tracer = otel.Tracer("rulebook.cache")
	meter  = otel.Meter("rulebook.cache")
)

// Metrics for cache operations.
var (
	guidanceHits        metric.Int64Counter
	guidanceMisses      metric.Int64Counter
	guidanceEvictions   metric.Int64Counter
	guidanceGetLatency  metric.Float64Histogram
	guidanceFallbacks   metric.Int64Counter
	packageInvalidation metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		guidanceHits, err = meter.Int64Counter(
			"guidance_cache_hits_total",
			metric.WithDescription("Total number of guidance cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		guidanceMisses, err = meter.Int64Counter(
			"guidance_cache_misses_total",
			metric.WithDescription("Total number of guidance cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		guidanceEvictions, err = meter.Int64Counter(
			"guidance_cache_evictions_total",
			metric.WithDescription("Total number of guidance cache evictions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		guidanceGetLatency, err = meter.Float64Histogram(
			"guidance_cache_get_duration_seconds",
			metric.WithDescription("Duration of guidance cache get operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		guidanceFallbacks, err = meter.Int64Counter(
			"guidance_fallbacks_total",
			metric.WithDescription("Total number of computed guidance results served from the fallback path"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		packageInvalidation, err = meter.Int64Counter(
			"package_invalidations_total",
			metric.WithDescription("Total number of package version invalidations"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordHit records a guidance cache hit metric.
func recordHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	guidanceHits.Add(ctx, 1)
}

// recordMiss records a guidance cache miss metric.
func recordMiss(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	guidanceMisses.Add(ctx, 1)
}

// recordEviction records a guidance cache eviction metric.
func recordEviction(ctx context.Context, n int64) {
	if err := initMetrics(); err != nil {
		return
	}
	guidanceEvictions.Add(ctx, n)
}

// recordGetLatency records the latency of a guidance cache get.
func recordGetLatency(ctx context.Context, duration time.Duration, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	guidanceGetLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("hit", hit)),
	)
}

// recordFallback records a freshly computed result that came from the
// fallback path rather than a generation backend.
func recordFallback(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	guidanceFallbacks.Add(ctx, 1)
}

// recordInvalidation records a package version invalidation.
func recordInvalidation(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	packageInvalidation.Add(ctx, 1)
}

// startSpan creates a span for a cache operation.
func startSpan(ctx context.Context, operation, pkg string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Coordinator."+operation,
		trace.WithAttributes(
			attribute.String("cache.operation", operation),
			attribute.String("cache.package", pkg),
		),
	)
}

// setSpanResult sets the result attributes on a cache span.
func setSpanResult(span trace.Span, hit bool) {
	span.SetAttributes(attribute.Bool("cache.hit", hit))
}
