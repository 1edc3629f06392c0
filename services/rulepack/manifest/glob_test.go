// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package manifest

import "testing"

func TestGlobMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		includes []string
		excludes []string
		path     string
		want     bool
	}{
		{
			name:     "no patterns includes all",
			includes: nil,
			excludes: nil,
			path:     "web/auth.yaml",
			want:     true,
		},
		{
			name:     "simple include matches",
			includes: []string{"*.yaml"},
			path:     "auth.yaml",
			want:     true,
		},
		{
			name:     "simple include rejects non-match",
			includes: []string{"*.yaml"},
			path:     "auth.json",
			want:     false,
		},
		{
			name:     "star does not cross separators",
			includes: []string{"*.yaml"},
			path:     "web/auth.yaml",
			want:     false,
		},
		{
			name:     "doublestar matches deeply nested",
			includes: []string{"**/*.yaml"},
			path:     "a/b/c/rule.yaml",
			want:     true,
		},
		{
			name:     "doublestar matches at root",
			includes: []string{"**/*.yaml"},
			path:     "rule.yaml",
			want:     true,
		},
		{
			name:     "prefix pattern matches",
			includes: []string{"web/**/*.yaml"},
			path:     "web/auth/session.yaml",
			want:     true,
		},
		{
			name:     "prefix pattern rejects outside",
			includes: []string{"web/**/*.yaml"},
			path:     "crypto/tls.yaml",
			want:     false,
		},
		{
			name:     "exclude takes precedence",
			includes: []string{"**/*.yaml"},
			excludes: []string{"drafts/**"},
			path:     "drafts/wip.yaml",
			want:     false,
		},
		{
			name:     "non-matching exclude allows",
			includes: []string{"**/*.yaml"},
			excludes: []string{"drafts/**"},
			path:     "web/auth.yaml",
			want:     true,
		},
		{
			name:     "question mark single char",
			includes: []string{"rule-?.yaml"},
			path:     "rule-1.yaml",
			want:     true,
		},
		{
			name:     "question mark rejects two chars",
			includes: []string{"rule-?.yaml"},
			path:     "rule-12.yaml",
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher := NewGlobMatcher(tt.includes, tt.excludes)
			if got := matcher.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestCheckPattern(t *testing.T) {
	tests := []struct {
		pattern string
		wantErr bool
	}{
		{"**/*.yaml", false},
		{"web/*.yaml", false},
		{"../outside/*.yaml", true},
		{"..", true},
		{"web/../../escape.yaml", true},
		{"/etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			err := checkPattern(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkPattern(%q) err = %v, wantErr %v", tt.pattern, err, tt.wantErr)
			}
		})
	}
}
