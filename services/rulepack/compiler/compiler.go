// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parallaxsec/rulebook/services/rulepack/manifest"
	"github.com/parallaxsec/rulebook/services/rulepack/pack"
	"github.com/parallaxsec/rulebook/services/rulepack/schema"
)

// Compiler builds compiled packages from a manifest and a rules root.
//
// Thread Safety: safe for concurrent use, but package compilation is
// intended as a single-writer batch process per output target.
type Compiler struct {
	resolver  *manifest.Resolver
	validator *schema.Validator
	logger    *slog.Logger
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithLogger sets the compiler's logger.
func WithLogger(logger *slog.Logger) CompilerOption {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCompiler creates a Compiler over the given rules root.
func NewCompiler(rulesRoot string, opts ...CompilerOption) (*Compiler, error) {
	resolver, err := manifest.NewResolver(rulesRoot)
	if err != nil {
		return nil, err
	}

	c := &Compiler{
		resolver:  resolver,
		validator: schema.NewValidator(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CollectionReport is the outcome of compiling one collection.
type CollectionReport struct {
	// Name is the collection name.
	Name string

	// Package is the compiled package; nil when Fatal is set.
	Package *pack.CompiledPackage

	// SchemaErrors are the per-document failures that were skipped.
	SchemaErrors []*schema.SchemaError

	// Fatal is the collection-fatal error (id collision), if any.
	Fatal error

	// Empty is true when the collection matched documents but none
	// survived validation, or matched nothing at all. Valid, warned.
	Empty bool
}

// BuildResult is the outcome of compiling a whole manifest.
type BuildResult struct {
	// Reports holds one entry per collection, in manifest order.
	Reports []*CollectionReport
}

// Failed returns true if any collection fatally failed.
func (r *BuildResult) Failed() bool {
	for _, rep := range r.Reports {
		if rep.Fatal != nil {
			return true
		}
	}
	return false
}

// Compile builds one collection into a package.
//
// Description:
//
//	Resolves the collection's globs, validates every matched document,
//	detects id collisions, sorts survivors by id, computes the content
//	digest, and aggregates detection hooks.
//
// Outputs:
//
//	*CollectionReport - Always non-nil, carrying the package or the
//	collection-fatal error plus accumulated schema errors.
//	error - Non-nil only for build-fatal conditions: a containment
//	violation or an unreadable root. Collection-fatal conditions
//	(id collision) are reported in the report, not here.
func (c *Compiler) Compile(ctx context.Context, col *manifest.Collection) (*CollectionReport, error) {
	report := &CollectionReport{Name: col.Name}

	paths, err := c.resolver.Resolve(ctx, col)
	if err != nil {
		if errors.Is(err, manifest.ErrPathEscape) {
			// Security violation: logged distinctly, aborts the build.
			c.logger.Error("SECURITY: manifest resolution escaped rules root",
				slog.String("collection", col.Name),
				slog.String("error", err.Error()))
		}
		return report, err
	}

	docs := make([]schema.RuleDocument, 0, len(paths))
	sources := make(map[string][]string) // id -> declaring files

	for _, path := range paths {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		data, err := os.ReadFile(path)
		if err != nil {
			report.SchemaErrors = append(report.SchemaErrors, &schema.SchemaError{
				Document: relSource(c.resolver.Root(), path),
				Field:    "document",
				Reason:   fmt.Sprintf("read failed: %v", err),
				Err:      err,
			})
			continue
		}

		doc, errs := c.validator.Parse(relSource(c.resolver.Root(), path), data)
		if len(errs) > 0 {
			report.SchemaErrors = append(report.SchemaErrors, errs...)
			continue
		}

		docs = append(docs, *doc)
		sources[doc.ID] = append(sources[doc.ID], relSource(c.resolver.Root(), path))
	}

	// Id collision is fatal for the collection: unlike a field error it
	// makes dedup and cache keys ambiguous downstream.
	for id, files := range sources {
		if len(files) > 1 {
			sort.Strings(files)
			report.Fatal = &CollisionError{ID: id, Sources: files}
			c.logger.Error("collection build failed",
				slog.String("collection", col.Name),
				slog.String("error", report.Fatal.Error()))
			return report, nil
		}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	version, err := pack.ComputeVersion(docs)
	if err != nil {
		return report, fmt.Errorf("collection %q: %w", col.Name, err)
	}

	pkg := &pack.CompiledPackage{
		PackageName:     col.Name,
		Version:         version,
		BuildTime:       time.Now().UTC(),
		Rules:           docs,
		AggregatedHooks: aggregateHooks(docs),
		Provenance:      provenance(col, len(docs)),
	}
	report.Package = pkg

	if len(docs) == 0 {
		report.Empty = true
		c.logger.Warn("collection compiled empty",
			slog.String("collection", col.Name),
			slog.Int("schema_errors", len(report.SchemaErrors)))
	} else {
		c.logger.Info("collection compiled",
			slog.String("collection", col.Name),
			slog.String("version", pkg.Fingerprint()),
			slog.Int("rules", len(docs)),
			slog.Int("schema_errors", len(report.SchemaErrors)))
	}

	return report, nil
}

// CompileAll builds every collection in the manifest.
//
// A containment violation aborts the whole build and is returned as the
// error. Collection-fatal failures (id collisions) are recorded in the
// result and do not stop the remaining collections.
func (c *Compiler) CompileAll(ctx context.Context, m *manifest.Manifest) (*BuildResult, error) {
	result := &BuildResult{}

	for i := range m.Collections {
		report, err := c.Compile(ctx, &m.Collections[i])
		result.Reports = append(result.Reports, report)
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

// aggregateHooks unions detection hooks across rules, scanner kind by
// scanner kind, deduplicated and sorted.
func aggregateHooks(docs []schema.RuleDocument) map[string][]string {
	set := make(map[string]map[string]bool)
	for i := range docs {
		for kind, hooks := range docs[i].DetectionHooks {
			if set[kind] == nil {
				set[kind] = make(map[string]bool)
			}
			for _, h := range hooks {
				set[kind][h] = true
			}
		}
	}

	out := make(map[string][]string, len(set))
	for kind, hooks := range set {
		list := make([]string, 0, len(hooks))
		for h := range hooks {
			list = append(list, h)
		}
		sort.Strings(list)
		out[kind] = list
	}
	return out
}

// provenance builds the package's source attribution string.
func provenance(col *manifest.Collection, ruleCount int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "collection %q: %d rules from globs %s",
		col.Name, ruleCount, strings.Join(col.SourceGlobs, ", "))
	if len(col.DomainTags) > 0 {
		fmt.Fprintf(&sb, " (domains: %s)", strings.Join(col.DomainTags, ", "))
	}
	return sb.String()
}

// relSource returns root-relative attribution for error messages.
func relSource(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}
