// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package selector ranks a compiled package's rules against a runtime
// context. Selection is a pure function of (package, context): identical
// inputs always yield the identical ordered candidate list, which the
// guidance cache depends on for key correctness. No I/O.
package selector

import (
	"sort"
	"strings"

	"github.com/parallaxsec/rulebook/services/rulepack/pack"
	"github.com/parallaxsec/rulebook/services/rulepack/schema"
)

// DefaultMaxCandidates bounds the candidate list to fit the prompt
// budget of the generation backend.
const DefaultMaxCandidates = 8

// Scoring weights. Scope identity dominates, role placement is a
// secondary signal, trigger terms accumulate per distinct hit.
const (
	weightScopeMatch  = 100
	weightRoleMatch   = 40
	weightTriggerTerm = 10
)

// rolePatterns maps path-segment substrings to role tags matched
// against rule scopes. Data-driven: adding a role is a new row.
var rolePatterns = map[string]string{
	"auth":     "auth",
	"login":    "auth",
	"session":  "auth",
	"config":   "config",
	"settings": "config",
	"test":     "test",
	"handler":  "api",
	"route":    "api",
	"api":      "api",
	"crypto":   "crypto",
	"tls":      "crypto",
	"db":       "storage",
	"store":    "storage",
	"migrate":  "storage",
}

// scorer is one weighted predicate in the scoring table. It returns
// the number of distinct hits (0 or 1 for the boolean predicates).
type scorer struct {
	name   string
	weight int
	hits   func(doc *schema.RuleDocument, ctx *RuntimeContext) int
}

var scoringTable = []scorer{
	{
		name:   "scope",
		weight: weightScopeMatch,
		hits: func(doc *schema.RuleDocument, ctx *RuntimeContext) int {
			for _, tag := range ctx.tags() {
				if strings.EqualFold(tag, doc.Scope) {
					return 1
				}
			}
			return 0
		},
	},
	{
		name:   "role",
		weight: weightRoleMatch,
		hits: func(doc *schema.RuleDocument, ctx *RuntimeContext) int {
			for _, seg := range strings.Split(strings.ToLower(ctx.Path), "/") {
				for pattern, role := range rolePatterns {
					if strings.Contains(seg, pattern) && strings.EqualFold(role, doc.Scope) {
						return 1
					}
				}
			}
			return 0
		},
	},
	{
		name:   "trigger",
		weight: weightTriggerTerm,
		hits: func(doc *schema.RuleDocument, ctx *RuntimeContext) int {
			n := 0
			for _, term := range doc.TriggerTerms {
				if term != "" && strings.Contains(ctx.Content, term) {
					n++
				}
			}
			return n
		},
	},
}

// Candidate is one scored rule.
type Candidate struct {
	Rule  *schema.RuleDocument
	Score int
}

// Selector ranks rules. The zero value is not usable; construct with
// NewSelector.
type Selector struct {
	maxCandidates int
}

// Option configures a Selector.
type Option func(*Selector)

// WithMaxCandidates overrides the candidate bound.
func WithMaxCandidates(n int) Option {
	return func(s *Selector) {
		if n > 0 {
			s.maxCandidates = n
		}
	}
}

// NewSelector creates a Selector with the default candidate bound.
func NewSelector(opts ...Option) *Selector {
	s := &Selector{maxCandidates: DefaultMaxCandidates}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select scores every rule in the package against the context and
// returns the candidates ordered by descending score. Ties break on
// higher severity first, then lexicographically smaller id. Rules that
// score zero are excluded.
func (s *Selector) Select(pkg *pack.CompiledPackage, ctx *RuntimeContext) []Candidate {
	ctx.Normalize()

	candidates := make([]Candidate, 0, s.maxCandidates)
	for i := range pkg.Rules {
		doc := &pkg.Rules[i]
		score := 0
		for _, sc := range scoringTable {
			score += sc.weight * sc.hits(doc, ctx)
		}
		if score > 0 {
			candidates = append(candidates, Candidate{Rule: doc, Score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ra, rb := a.Rule.Severity.Rank(), b.Rule.Severity.Rank(); ra != rb {
			return ra > rb
		}
		return a.Rule.ID < b.Rule.ID
	})

	if len(candidates) > s.maxCandidates {
		candidates = candidates[:s.maxCandidates]
	}
	return candidates
}

// Rules extracts the documents from a candidate list, preserving order.
func Rules(candidates []Candidate) []*schema.RuleDocument {
	rules := make([]*schema.RuleDocument, len(candidates))
	for i, c := range candidates {
		rules[i] = c.Rule
	}
	return rules
}
