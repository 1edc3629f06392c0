// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolver resolves a collection's source globs against a rules root.
//
// Thread Safety: safe for concurrent use.
type Resolver struct {
	root string
}

// NewResolver creates a Resolver confined to the given root directory.
//
// The root must exist and be a directory; it is resolved to an absolute
// path so later containment checks have a stable base.
func NewResolver(root string) (*Resolver, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory", ErrInvalidRoot)
	}
	return &Resolver{root: absRoot}, nil
}

// Root returns the absolute rules root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the absolute paths of all files under the root that
// match the collection's source globs, sorted for determinism.
//
// Fails closed: a pattern that is absolute or reaches outside the root
// returns ErrPathEscape before any filesystem access. Symlinks are not
// followed, so a link pointing outside the root cannot smuggle content
// into a package.
func (r *Resolver) Resolve(ctx context.Context, c *Collection) ([]string, error) {
	for _, pattern := range c.SourceGlobs {
		if err := checkPattern(pattern); err != nil {
			return nil, fmt.Errorf("collection %q: pattern %q: %w", c.Name, pattern, err)
		}
	}

	matcher := NewGlobMatcher(c.SourceGlobs, DefaultExcludes)

	var matches []string
	err := filepath.WalkDir(r.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree: skip, the validator reports missing
			// documents downstream.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return nil
		}
		if err := r.Contains(path); err != nil {
			return err
		}
		if matcher.Match(rel) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(matches)
	return matches, nil
}

// Contains verifies that path stays within the root.
//
// Returns ErrPathEscape otherwise.
func (r *Resolver) Contains(path string) error {
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Clean(filepath.Join(r.root, path))
	}

	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPathEscape, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrPathEscape, path)
	}
	return nil
}

// checkPattern rejects glob patterns that could reach outside the root.
func checkPattern(pattern string) error {
	if filepath.IsAbs(pattern) {
		return ErrPathEscape
	}
	cleaned := filepath.ToSlash(filepath.Clean(pattern))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ErrPathEscape
	}
	// Catch ".." segments the Clean call didn't collapse away.
	for _, seg := range strings.Split(filepath.ToSlash(pattern), "/") {
		if seg == ".." {
			return ErrPathEscape
		}
	}
	return nil
}
