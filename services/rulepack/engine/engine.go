// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine orchestrates one guidance request end to end: package
// lookup, rule selection, guidance assembly, caching, and optional
// corpus augmentation. It also keeps resident packages in sync with
// the package directory.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parallaxsec/rulebook/services/rulepack/augment"
	"github.com/parallaxsec/rulebook/services/rulepack/cache"
	"github.com/parallaxsec/rulebook/services/rulepack/guidance"
	"github.com/parallaxsec/rulebook/services/rulepack/pack"
	"github.com/parallaxsec/rulebook/services/rulepack/selector"
)

// RuntimeContext aliases the selector's context type so callers of the
// engine do not need a second import for request construction.
type RuntimeContext = selector.RuntimeContext

// Request is one guidance request.
type Request struct {
	// PackageName names the compiled package to select rules from.
	PackageName string `json:"package" binding:"required"`

	// Context is the code snapshot under analysis.
	Context selector.RuntimeContext `json:"context" binding:"required"`

	// Augment opts this request into corpus augmentation.
	Augment bool `json:"augment,omitempty"`
}

// fileState remembers what was last loaded from a path so an unchanged
// file is never re-parsed.
type fileState struct {
	modTime time.Time
	size    int64
	version string
}

// Engine wires the runtime components together.
//
// Thread Safety: safe for concurrent use.
type Engine struct {
	coordinator *cache.Coordinator
	loader      *pack.Loader
	selector    *selector.Selector
	assembler   *guidance.Assembler
	searcher    *augment.Searcher
	logger      *slog.Logger
	packageDir  string

	fmu        sync.Mutex
	fileStates map[string]fileState
}

// Option configures an Engine.
type Option func(*Engine)

// WithSelector overrides the default selector.
func WithSelector(s *selector.Selector) Option {
	return func(e *Engine) {
		if s != nil {
			e.selector = s
		}
	}
}

// WithSearcher attaches an augmentation searcher.
func WithSearcher(s *augment.Searcher) Option {
	return func(e *Engine) {
		e.searcher = s
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPackageDir sets the directory watched and scanned for packages.
func WithPackageDir(dir string) Option {
	return func(e *Engine) {
		e.packageDir = dir
	}
}

// New creates an Engine over the given coordinator and assembler.
func New(coordinator *cache.Coordinator, assembler *guidance.Assembler, opts ...Option) *Engine {
	e := &Engine{
		coordinator: coordinator,
		loader:      pack.NewLoader(),
		selector:    selector.NewSelector(),
		assembler:   assembler,
		logger:      slog.Default(),
		fileStates:  make(map[string]fileState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Coordinator exposes the cache coordinator for stats and listings.
func (e *Engine) Coordinator() *cache.Coordinator {
	return e.coordinator
}

// Searcher returns the augmentation searcher, or nil.
func (e *Engine) Searcher() *augment.Searcher {
	return e.searcher
}

// LoadPackageFile loads one compiled package file into the coordinator.
//
// Loading an unchanged file is idempotent: if the path's size and
// modification time match the previous load, the resident handle is
// kept and the file is not re-parsed.
func (e *Engine) LoadPackageFile(ctx context.Context, path string) error {
	ctx, span := startSpan(ctx, "LoadPackageFile", "")
	defer span.End()

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat package file: %w", err)
	}

	e.fmu.Lock()
	prev, known := e.fileStates[path]
	e.fmu.Unlock()
	if known && prev.size == info.Size() && prev.modTime.Equal(info.ModTime()) {
		e.logger.Debug("package file unchanged, keeping resident handle",
			slog.String("path", path))
		return nil
	}

	pkg, err := e.loader.LoadFile(path)
	if err != nil {
		return err
	}
	e.coordinator.StorePackage(ctx, pkg)

	e.fmu.Lock()
	e.fileStates[path] = fileState{
		modTime: info.ModTime(),
		size:    info.Size(),
		version: pkg.Version,
	}
	e.fmu.Unlock()

	e.logger.Info("package loaded",
		slog.String("package", pkg.PackageName),
		slog.String("version", pkg.Fingerprint()),
		slog.Int("rules", len(pkg.Rules)))
	return nil
}

// LoadPackageDir loads every .json package in the configured directory.
// A package that fails to load is logged and skipped; the rest load.
func (e *Engine) LoadPackageDir(ctx context.Context) (int, error) {
	if e.packageDir == "" {
		return 0, ErrNoPackageDir
	}
	matches, err := filepath.Glob(filepath.Join(e.packageDir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("scan package dir: %w", err)
	}

	loaded := 0
	for _, path := range matches {
		if err := e.LoadPackageFile(ctx, path); err != nil {
			e.logger.Error("package load failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Guidance serves one request.
//
// Description:
//
//	Looks up the package, fingerprints the normalized context, and
//	returns the cached result when resident. On a miss, selection and
//	assembly run once per (version, fingerprint) even under concurrent
//	identical requests. Augmentation hits, when opted in, are merged
//	after caching so the cached base result stays augmentation-free.
//
// Outputs:
//
//	*guidance.GuidanceResult - Non-nil when err is nil.
//	error - ErrPackageNotFound for an unknown package name. Guidance
//	generation itself never fails; it degrades to the fallback.
func (e *Engine) Guidance(ctx context.Context, req *Request) (*guidance.GuidanceResult, error) {
	ctx, span := startSpan(ctx, "Guidance", req.PackageName)
	defer span.End()

	pkg, ok := e.coordinator.Package(req.PackageName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, req.PackageName)
	}

	rctx := req.Context
	rctx.Normalize()
	fingerprint := rctx.Fingerprint()

	result, hit, err := e.coordinator.GetOrCompute(ctx, pkg.Version, fingerprint,
		func(ctx context.Context) (*guidance.GuidanceResult, error) {
			candidates := e.selector.Select(pkg, &rctx)
			return e.assembler.Assemble(ctx, &rctx, candidates), nil
		})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("guidance served",
		slog.String("package", req.PackageName),
		slog.Bool("cache_hit", hit),
		slog.String("source", result.Source),
		slog.Int("rules_applied", result.RulesApplied))

	return e.maybeAugment(ctx, &rctx, req, result), nil
}

// maybeAugment merges corpus hits into a copy of the result. The
// cached result is never mutated, so callers without the opt-in keep
// seeing the base guidance.
func (e *Engine) maybeAugment(ctx context.Context, rctx *selector.RuntimeContext, req *Request, result *guidance.GuidanceResult) *guidance.GuidanceResult {
	if e.searcher == nil || (!req.Augment && !e.searcher.Enabled()) {
		return result
	}

	hits := e.searcher.Search(ctx, augmentQuery(rctx), req.Augment)
	if len(hits) == 0 {
		return result
	}

	augmented := *result
	augmented.Augmentations = hits
	return &augmented
}

// augmentQuery derives the corpus query from the context's tags and
// path, never from raw content.
func augmentQuery(rctx *selector.RuntimeContext) string {
	parts := make([]string, 0, 4)
	if rctx.LanguageHint != "" {
		parts = append(parts, rctx.LanguageHint)
	}
	if rctx.DomainHint != "" {
		parts = append(parts, rctx.DomainHint)
	}
	parts = append(parts, rctx.FrameworkHints...)
	parts = append(parts, filepath.Base(rctx.Path))
	return strings.Join(parts, " ")
}
