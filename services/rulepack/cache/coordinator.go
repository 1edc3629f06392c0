// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache owns the only shared mutable state in the runtime: the
// package cache (name to immutable package handle) and the guidance
// cache (bounded, least-recently-used). All mutation goes through the
// Coordinator; the underlying maps are never exposed.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/parallaxsec/rulebook/services/rulepack/guidance"
	"github.com/parallaxsec/rulebook/services/rulepack/pack"
)

// DefaultMaxGuidanceEntries bounds the guidance cache.
const DefaultMaxGuidanceEntries = 1024

// guidanceEntry is one cached result. The recency stamp is atomic so
// hits on resident entries never take the write lock.
type guidanceEntry struct {
	key     string
	version string
	result  *guidance.GuidanceResult
	used    atomic.Int64
}

// Stats is a point-in-time snapshot of coordinator counters.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	Invalidations int64 `json:"invalidations"`
	Fallbacks     int64 `json:"fallbacks"`
	GuidanceSize  int   `json:"guidance_size"`
	Packages      int   `json:"packages"`
}

// Coordinator mediates all access to the package and guidance caches.
//
// Thread Safety: safe for concurrent use. Each cache has its own
// exclusion; mutation holds the write lock, resident reads hold only
// the read lock.
type Coordinator struct {
	pmu      sync.RWMutex
	packages map[string]*pack.CompiledPackage

	gmu        sync.RWMutex
	entries    map[string]*guidanceEntry
	maxEntries int
	clock      atomic.Int64

	group singleflight.Group
	warm  *WarmTier

	hits          atomic.Int64
	misses        atomic.Int64
	evictions     atomic.Int64
	invalidations atomic.Int64
	fallbacks     atomic.Int64

	logger *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxGuidanceEntries overrides the guidance cache bound.
func WithMaxGuidanceEntries(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithWarmTier attaches a persistent warm tier consulted on misses.
func WithWarmTier(w *WarmTier) CoordinatorOption {
	return func(c *Coordinator) {
		c.warm = w
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		packages:   make(map[string]*pack.CompiledPackage),
		entries:    make(map[string]*guidanceEntry),
		maxEntries: DefaultMaxGuidanceEntries,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// -----------------------------------------------------------------------------
// Package cache
// -----------------------------------------------------------------------------

// StorePackage installs a package handle under its name.
//
// Description:
//
//	If a package with the same name but a different version was already
//	resident, every guidance entry keyed to the old version is removed
//	before the new handle becomes visible. Both steps happen under the
//	package lock, so a concurrent reader observes either the old
//	package with its entries or the new package with none of them.
func (c *Coordinator) StorePackage(ctx context.Context, pkg *pack.CompiledPackage) {
	ctx, span := startSpan(ctx, "StorePackage", pkg.PackageName)
	defer span.End()

	c.pmu.Lock()
	defer c.pmu.Unlock()

	old := c.packages[pkg.PackageName]
	if old != nil && old.Version != pkg.Version {
		removed := c.invalidateVersion(old.Version)
		c.invalidations.Add(1)
		recordInvalidation(ctx)
		c.logger.Info("package version replaced",
			slog.String("package", pkg.PackageName),
			slog.String("old_version", old.Fingerprint()),
			slog.String("new_version", pkg.Fingerprint()),
			slog.Int("guidance_entries_dropped", removed))
	}
	c.packages[pkg.PackageName] = pkg
}

// Package returns the resident handle for a name, if any.
func (c *Coordinator) Package(name string) (*pack.CompiledPackage, bool) {
	c.pmu.RLock()
	defer c.pmu.RUnlock()
	pkg, ok := c.packages[name]
	return pkg, ok
}

// PackageNames returns the resident package names, unordered.
func (c *Coordinator) PackageNames() []string {
	c.pmu.RLock()
	defer c.pmu.RUnlock()
	names := make([]string, 0, len(c.packages))
	for name := range c.packages {
		names = append(names, name)
	}
	return names
}

// -----------------------------------------------------------------------------
// Guidance cache
// -----------------------------------------------------------------------------

// guidanceKey builds the composite cache key.
func guidanceKey(version, fingerprint string) string {
	return version + "\x00" + fingerprint
}

// GetGuidance returns the cached result for (version, fingerprint).
func (c *Coordinator) GetGuidance(ctx context.Context, version, fingerprint string) (*guidance.GuidanceResult, bool) {
	start := time.Now()
	key := guidanceKey(version, fingerprint)

	c.gmu.RLock()
	entry, ok := c.entries[key]
	if ok {
		entry.used.Store(c.clock.Add(1))
	}
	c.gmu.RUnlock()

	if ok {
		c.hits.Add(1)
		recordHit(ctx)
		recordGetLatency(ctx, time.Since(start), true)
		return entry.result, true
	}
	c.misses.Add(1)
	recordMiss(ctx)
	recordGetLatency(ctx, time.Since(start), false)
	return nil, false
}

// GetOrCompute returns the cached result or computes, stores, and
// returns it. Concurrent callers with the same key share one compute.
//
// Outputs:
//
//	*guidance.GuidanceResult - Never nil when err is nil.
//	bool - True on a cache hit (warm tier included).
//	error - The compute function's error, uncached.
func (c *Coordinator) GetOrCompute(ctx context.Context, version, fingerprint string,
	compute func(ctx context.Context) (*guidance.GuidanceResult, error)) (*guidance.GuidanceResult, bool, error) {

	ctx, span := startSpan(ctx, "GetOrCompute", "")
	defer span.End()

	if result, ok := c.GetGuidance(ctx, version, fingerprint); ok {
		setSpanResult(span, true)
		return result, true, nil
	}

	if c.warm != nil {
		// Promote to the hot tier only; the warm tier already holds
		// this entry.
		if result, ok := c.warm.Get(guidanceKey(version, fingerprint)); ok {
			c.putResident(ctx, version, fingerprint, result)
			setSpanResult(span, true)
			return result, true, nil
		}
	}
	setSpanResult(span, false)

	key := guidanceKey(version, fingerprint)
	v, err, shared := c.group.Do(key, func() (any, error) {
		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if result.Source == guidance.SourceFallback {
			c.fallbacks.Add(1)
			recordFallback(ctx)
		}
		c.PutGuidance(ctx, version, fingerprint, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*guidance.GuidanceResult), shared, nil
}

// PutGuidance inserts a result, evicting the least recently used entry
// when the cache is at capacity. The result is also persisted to the
// warm tier, if any.
func (c *Coordinator) PutGuidance(ctx context.Context, version, fingerprint string, result *guidance.GuidanceResult) {
	c.putResident(ctx, version, fingerprint, result)

	if c.warm != nil {
		c.warm.Put(guidanceKey(version, fingerprint), result)
	}
}

// putResident inserts a result into the hot tier only.
func (c *Coordinator) putResident(ctx context.Context, version, fingerprint string, result *guidance.GuidanceResult) {
	key := guidanceKey(version, fingerprint)

	entry := &guidanceEntry{key: key, version: version, result: result}
	entry.used.Store(c.clock.Add(1))

	c.gmu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
		c.evictions.Add(1)
		recordEviction(ctx, 1)
	}
	c.entries[key] = entry
	c.gmu.Unlock()
}

// evictOldest removes the entry with the smallest recency stamp.
// Caller holds the write lock. The scan is linear but the cache is
// bounded, so insert cost stays small.
func (c *Coordinator) evictOldest() {
	var victim *guidanceEntry
	var min int64
	for _, e := range c.entries {
		if u := e.used.Load(); victim == nil || u < min {
			victim, min = e, u
		}
	}
	if victim != nil {
		delete(c.entries, victim.key)
	}
}

// invalidateVersion drops every guidance entry keyed to the version.
// Caller holds the package write lock; this takes the guidance write
// lock so the two caches change together.
func (c *Coordinator) invalidateVersion(version string) int {
	c.gmu.Lock()
	defer c.gmu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.version == version {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// GuidanceLen returns the resident guidance entry count.
func (c *Coordinator) GuidanceLen() int {
	c.gmu.RLock()
	defer c.gmu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.pmu.RLock()
	pkgs := len(c.packages)
	c.pmu.RUnlock()

	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Invalidations: c.invalidations.Load(),
		Fallbacks:     c.fallbacks.Load(),
		GuidanceSize:  c.GuidanceLen(),
		Packages:      pkgs,
	}
}

// Close releases the warm tier, if any.
func (c *Coordinator) Close() error {
	if c.warm != nil {
		return c.warm.Close()
	}
	return nil
}
