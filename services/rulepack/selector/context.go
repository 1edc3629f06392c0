// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package selector

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"
)

// MaxContentBytes bounds the content carried in a RuntimeContext.
// Larger inputs are truncated before scoring and fingerprinting.
const MaxContentBytes = 256 * 1024

// RuntimeContext describes one code snapshot under analysis. It is
// ephemeral and never persisted; only its fingerprint is used as a
// cache key component.
type RuntimeContext struct {
	// Path is the workspace-relative file path.
	Path string `json:"path" binding:"required"`

	// Content is the file content, bounded by MaxContentBytes.
	Content string `json:"content"`

	// LanguageHint overrides extension-based language derivation.
	LanguageHint string `json:"language_hint,omitempty"`

	// FrameworkHints are derived from content, never authored by the
	// caller. Populated by Normalize.
	FrameworkHints []string `json:"framework_hints,omitempty"`

	// DomainHint optionally names the caller's domain (web, sql, ...).
	DomainHint string `json:"domain_hint,omitempty"`
}

// languageByExt maps file extensions to technology tags. Additive: new
// scopes are new rows, not new branches.
var languageByExt = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".rb":   "ruby",
	".rs":   "rust",
	".sql":  "sql",
	".sh":   "shell",
	".yaml": "yaml",
	".yml":  "yaml",
	".html": "web",
	".tf":   "terraform",
}

// frameworkMarkers maps content substrings to framework tags.
var frameworkMarkers = map[string]string{
	"github.com/gin-gonic/gin": "gin",
	"net/http":                 "http",
	"database/sql":             "sql",
	"gorm.io":                  "gorm",
	"django":                   "django",
	"flask":                    "flask",
	"express":                  "express",
	"react":                    "react",
	"spring":                   "spring",
}

// Normalize truncates oversized content, derives the language tag from
// the path extension when no hint was given, and derives framework
// hints from content markers. Idempotent.
func (c *RuntimeContext) Normalize() {
	if len(c.Content) > MaxContentBytes {
		c.Content = c.Content[:MaxContentBytes]
	}
	if c.LanguageHint == "" {
		c.LanguageHint = languageByExt[strings.ToLower(filepath.Ext(c.Path))]
	}

	seen := make(map[string]bool, len(c.FrameworkHints))
	for _, h := range c.FrameworkHints {
		seen[h] = true
	}
	for marker, tag := range frameworkMarkers {
		if !seen[tag] && strings.Contains(c.Content, marker) {
			seen[tag] = true
			c.FrameworkHints = append(c.FrameworkHints, tag)
		}
	}
	sort.Strings(c.FrameworkHints)
}

// Fingerprint returns a stable digest of the normalized context.
// Equal contexts always produce equal fingerprints regardless of how
// the caller populated optional fields.
func (c *RuntimeContext) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(c.Path))
	h.Write([]byte{0})
	h.Write([]byte(c.Content))
	h.Write([]byte{0})
	h.Write([]byte(c.LanguageHint))
	h.Write([]byte{0})
	h.Write([]byte(c.DomainHint))
	for _, hint := range c.FrameworkHints {
		h.Write([]byte{0})
		h.Write([]byte(hint))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// tags returns the context's technology tags for scope matching.
func (c *RuntimeContext) tags() []string {
	tags := make([]string, 0, 2+len(c.FrameworkHints))
	if c.LanguageHint != "" {
		tags = append(tags, c.LanguageHint)
	}
	if c.DomainHint != "" {
		tags = append(tags, c.DomainHint)
	}
	tags = append(tags, c.FrameworkHints...)
	return tags
}
