// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package manifest

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// DefaultExcludes are patterns skipped during resolution regardless of
// the manifest's source globs.
var DefaultExcludes = []string{
	".git/**",
	"**/README*",
	"**/*.md",
}

// GlobMatcher matches relative file paths against include and exclude
// glob patterns.
//
// Pattern syntax:
//   - *  matches any sequence of non-separator characters
//   - ** matches any sequence including separators (recursive)
//   - ?  matches a single non-separator character
//
// Excludes always win over includes. An empty include list matches
// everything not excluded. Paths use forward slashes.
//
// Thread Safety: safe for concurrent use after creation.
type GlobMatcher struct {
	includes []*regexp.Regexp
	excludes []*regexp.Regexp
}

// NewGlobMatcher compiles the given include and exclude patterns.
// Patterns that fail to compile are ignored.
func NewGlobMatcher(includes, excludes []string) *GlobMatcher {
	return &GlobMatcher{
		includes: compilePatterns(includes),
		excludes: compilePatterns(excludes),
	}
}

// Match returns true if the path should be included.
func (m *GlobMatcher) Match(path string) bool {
	path = filepath.ToSlash(path)

	for _, re := range m.excludes {
		if re.MatchString(path) {
			return false
		}
	}

	if len(m.includes) == 0 {
		return true
	}

	for _, re := range m.includes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

var (
	globCache   = make(map[string]*regexp.Regexp)
	globCacheMu sync.Mutex
)

// compilePatterns translates glob patterns into anchored regexps.
func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re := compileGlob(p); re != nil {
			out = append(out, re)
		}
	}
	return out
}

// compileGlob translates one glob pattern to a regexp. Results are
// cached: manifests reuse the same handful of patterns per build.
func compileGlob(pattern string) *regexp.Regexp {
	globCacheMu.Lock()
	defer globCacheMu.Unlock()

	if re, ok := globCache[pattern]; ok {
		return re
	}

	var sb strings.Builder
	sb.WriteString(`^`)

	// "**/x" also matches "x" at the root.
	rest := pattern
	for rest != "" {
		switch {
		case strings.HasPrefix(rest, "**/"):
			sb.WriteString(`(?:[^/]+/)*`)
			rest = rest[3:]
		case strings.HasPrefix(rest, "**"):
			sb.WriteString(`.*`)
			rest = rest[2:]
		case strings.HasPrefix(rest, "*"):
			sb.WriteString(`[^/]*`)
			rest = rest[1:]
		case strings.HasPrefix(rest, "?"):
			sb.WriteString(`[^/]`)
			rest = rest[1:]
		default:
			sb.WriteString(regexp.QuoteMeta(rest[:1]))
			rest = rest[1:]
		}
	}
	sb.WriteString(`$`)

	re, err := regexp.Compile(sb.String())
	if err != nil {
		globCache[pattern] = nil
		return nil
	}
	globCache[pattern] = re
	return re
}
