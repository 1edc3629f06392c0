// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package manifest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolver_Resolve(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "web/auth.yaml", "id: a")
	writeFile(t, root, "web/session.yaml", "id: b")
	writeFile(t, root, "crypto/tls.yaml", "id: c")
	writeFile(t, root, "web/notes.md", "not a rule")

	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}

	c := &Collection{Name: "web", SourceGlobs: []string{"web/**/*.yaml", "web/*.yaml"}}
	got, err := r.Resolve(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(got), got)
	}
	// Sorted order is part of the contract.
	if filepath.Base(got[0]) != "auth.yaml" || filepath.Base(got[1]) != "session.yaml" {
		t.Errorf("unexpected order: %v", got)
	}
}

func TestResolver_Resolve_Deterministic(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"c.yaml", "a.yaml", "b.yaml"} {
		writeFile(t, root, name, "x: 1")
	}

	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	c := &Collection{Name: "all", SourceGlobs: []string{"*.yaml"}}

	first, err := r.Resolve(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 matches: %v, %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("resolution order differs at %d: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestResolver_Resolve_EscapeRejected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ok.yaml", "x: 1")

	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}

	c := &Collection{Name: "bad", SourceGlobs: []string{"../**/*.yaml"}}
	_, err = r.Resolve(context.Background(), c)
	if !errors.Is(err, ErrPathEscape) {
		t.Errorf("expected ErrPathEscape, got %v", err)
	}
}

func TestResolver_Resolve_SymlinksSkipped(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, outside, "secret.yaml", "id: leaked")
	writeFile(t, root, "ok.yaml", "id: ok")

	if err := os.Symlink(filepath.Join(outside, "secret.yaml"), filepath.Join(root, "link.yaml")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}
	c := &Collection{Name: "all", SourceGlobs: []string{"*.yaml"}}
	got, err := r.Resolve(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "ok.yaml" {
		t.Errorf("symlink should be skipped, got %v", got)
	}
}

func TestResolver_Contains(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver(root)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Contains(filepath.Join(root, "sub", "file.yaml")); err != nil {
		t.Errorf("inside path rejected: %v", err)
	}
	if err := r.Contains(filepath.Join(root, "..", "other")); !errors.Is(err, ErrPathEscape) {
		t.Errorf("expected ErrPathEscape, got %v", err)
	}
}

func TestNewResolver_InvalidRoot(t *testing.T) {
	_, err := NewResolver(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrInvalidRoot) {
		t.Errorf("expected ErrInvalidRoot, got %v", err)
	}
}

func TestParse_Manifest(t *testing.T) {
	data := []byte(`
collections:
  - name: web
    source_globs: ["web/**/*.yaml"]
    domain_tags: [web, http]
  - name: crypto
    source_globs: ["crypto/**/*.yaml"]
    output_name: crypto-rules.json
`)
	m, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Collections) != 2 {
		t.Fatalf("collections = %d", len(m.Collections))
	}
	if m.Collections[0].OutputName != "web.json" {
		t.Errorf("default output name = %q", m.Collections[0].OutputName)
	}
	if m.Collections[1].OutputName != "crypto-rules.json" {
		t.Errorf("explicit output name = %q", m.Collections[1].OutputName)
	}
}

func TestParse_ManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"empty", "collections: []", ErrEmptyManifest},
		{"no name", "collections:\n  - source_globs: ['*.yaml']", ErrInvalidCollection},
		{"no globs", "collections:\n  - name: web", ErrInvalidCollection},
		{"duplicate name", "collections:\n  - name: web\n    source_globs: ['a']\n  - name: web\n    source_globs: ['b']", ErrInvalidCollection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
