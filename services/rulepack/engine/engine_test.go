// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallaxsec/rulebook/services/rulepack/cache"
	"github.com/parallaxsec/rulebook/services/rulepack/guidance"
	"github.com/parallaxsec/rulebook/services/rulepack/pack"
	"github.com/parallaxsec/rulebook/services/rulepack/schema"
	"github.com/parallaxsec/rulebook/services/rulepack/selector"
)

func buildPackage(t *testing.T, name string, rules ...schema.RuleDocument) *pack.CompiledPackage {
	t.Helper()
	version, err := pack.ComputeVersion(rules)
	require.NoError(t, err)
	return &pack.CompiledPackage{
		PackageName: name,
		Version:     version,
		BuildTime:   time.Now().UTC(),
		Rules:       rules,
	}
}

func writePackage(t *testing.T, dir string, pkg *pack.CompiledPackage) string {
	t.Helper()
	data, err := json.Marshal(pkg)
	require.NoError(t, err)
	path := filepath.Join(dir, pkg.PackageName+".json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func goRule(id string) schema.RuleDocument {
	return schema.RuleDocument{
		ID:                id,
		Title:             "Rule " + id,
		Severity:          schema.SeverityHigh,
		Scope:             "go",
		Requirement:       "Requirement for " + id + ".",
		PositivePractices: []string{"Do the safe thing for " + id + "."},
	}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	coordinator := cache.NewCoordinator()
	assembler := guidance.NewAssembler(guidance.NewTemplateBackend())
	return New(coordinator, assembler, opts...)
}

func TestEngine_Guidance(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Coordinator().StorePackage(ctx, buildPackage(t, "core", goRule("go-error-handling")))

	got, err := e.Guidance(ctx, &Request{
		PackageName: "core",
		Context:     requestContext("main.go", "package main"),
	})
	require.NoError(t, err)
	assert.Equal(t, guidance.SourceGenerated, got.Source)
	assert.Equal(t, 1, got.RulesApplied)
	assert.Equal(t, schema.SeverityHigh, got.Severity)
}

func TestEngine_Guidance_UnknownPackage(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Guidance(context.Background(), &Request{
		PackageName: "missing",
		Context:     requestContext("main.go", ""),
	})
	assert.ErrorIs(t, err, ErrPackageNotFound)
}

func TestEngine_Guidance_CachedAcrossRequests(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Coordinator().StorePackage(ctx, buildPackage(t, "core", goRule("go-error-handling")))

	req := &Request{PackageName: "core", Context: requestContext("svc/handler.go", "w.Write(b)")}
	first, err := e.Guidance(ctx, req)
	require.NoError(t, err)

	req2 := &Request{PackageName: "core", Context: requestContext("svc/handler.go", "w.Write(b)")}
	second, err := e.Guidance(ctx, req2)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical contexts share one result")
	stats := e.Coordinator().Stats()
	assert.Equal(t, int64(1), stats.Hits)
}

func TestEngine_LoadPackageFile_Idempotent(t *testing.T) {
	dir := t.TempDir()
	pkg := buildPackage(t, "core", goRule("go-error-handling"))
	path := writePackage(t, dir, pkg)

	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.LoadPackageFile(ctx, path))
	got, ok := e.Coordinator().Package("core")
	require.True(t, ok)

	// Unchanged file keeps the same handle without re-parsing.
	require.NoError(t, e.LoadPackageFile(ctx, path))
	again, ok := e.Coordinator().Package("core")
	require.True(t, ok)
	assert.Same(t, got, again)
}

func TestEngine_LoadPackageFile_RejectsTampered(t *testing.T) {
	dir := t.TempDir()
	pkg := buildPackage(t, "core", goRule("go-error-handling"))
	path := writePackage(t, dir, pkg)

	// Truncating the stored bytes breaks the declared digest.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := data[:len(data)-1]
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	e := newTestEngine(t)
	err = e.LoadPackageFile(context.Background(), path)
	require.Error(t, err)

	_, ok := e.Coordinator().Package("core")
	assert.False(t, ok, "tampered package is never partially loaded")
}

func TestEngine_LoadPackageDir(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, buildPackage(t, "core", goRule("go-error-handling")))
	writePackage(t, dir, buildPackage(t, "web", goRule("web-headers")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	e := newTestEngine(t, WithPackageDir(dir))
	loaded, err := e.LoadPackageDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.ElementsMatch(t, []string{"core", "web"}, e.Coordinator().PackageNames())
}

func TestEngine_LoadPackageDir_Unconfigured(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.LoadPackageDir(context.Background())
	assert.ErrorIs(t, err, ErrNoPackageDir)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	pkg := buildPackage(t, "core", goRule("go-error-handling"))
	writePackage(t, dir, pkg)

	e := newTestEngine(t, WithPackageDir(dir))
	ctx := context.Background()
	_, err := e.LoadPackageDir(ctx)
	require.NoError(t, err)

	w, err := NewWatcher(e)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// Write a new version of the package.
	updated := buildPackage(t, "core",
		goRule("go-error-handling"),
		goRule("go-input-validation"))
	writePackage(t, dir, updated)

	require.Eventually(t, func() bool {
		got, ok := e.Coordinator().Package("core")
		return ok && got.Version == updated.Version
	}, 3*time.Second, 50*time.Millisecond, "watcher should reload the new version")
}

func TestNewWatcher_RequiresPackageDir(t *testing.T) {
	_, err := NewWatcher(newTestEngine(t))
	assert.ErrorIs(t, err, ErrNoPackageDir)
}

func requestContext(path, content string) selector.RuntimeContext {
	return selector.RuntimeContext{Path: path, Content: content}
}
