// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guidance turns a selected rule subset into actionable advice.
// A backend produces the advice when it answers in time with a valid
// shape; otherwise a templated fallback is synthesized from the rules
// themselves. Every request completes with a structured result.
package guidance

import (
	"context"

	"github.com/parallaxsec/rulebook/services/rulepack/schema"
	"github.com/parallaxsec/rulebook/services/rulepack/selector"
)

// SourceGenerated marks results produced by the backend.
const SourceGenerated = "generated"

// SourceFallback marks results synthesized from rule text.
const SourceFallback = "fallback"

// GenerationRequest is the bounded payload sent to a backend.
type GenerationRequest struct {
	// Context is the normalized runtime context.
	Context *selector.RuntimeContext `json:"context"`

	// Rules are the selected documents, highest relevance first.
	Rules []*schema.RuleDocument `json:"selected_rules"`
}

// GenerationResponse is the shape a backend must return. Any deviation
// (empty text, confidence out of range, unknown severity) is a backend
// failure.
type GenerationResponse struct {
	Text        string   `json:"text"`
	Suggestions []string `json:"suggestions"`
	Severity    string   `json:"severity"`
	Confidence  float64  `json:"confidence"`
}

// valid reports whether the response satisfies the backend contract.
func (r *GenerationResponse) valid() bool {
	if r == nil || r.Text == "" {
		return false
	}
	if !schema.Severity(r.Severity).Valid() {
		return false
	}
	return r.Confidence >= 0 && r.Confidence <= 1
}

// Augmentation is one supplementary corpus hit merged into a result.
type Augmentation struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Excerpt string  `json:"excerpt"`
}

// GuidanceResult is the per-request output. Immutable once returned;
// cached copies are shared across callers.
type GuidanceResult struct {
	// Text is the primary guidance prose.
	Text string `json:"text"`

	// Suggestions are concrete ordered actions.
	Suggestions []string `json:"suggestions"`

	// Severity is the maximum severity among contributing rules.
	Severity schema.Severity `json:"severity"`

	// RulesApplied counts the rules that contributed.
	RulesApplied int `json:"rules_applied"`

	// Confidence is the backend's self-reported confidence in [0, 1].
	// Fallback results carry a fixed low confidence.
	Confidence float64 `json:"confidence"`

	// Source is SourceGenerated or SourceFallback.
	Source string `json:"source"`

	// Augmentations holds supplementary corpus hits, clearly separated
	// from the primary guidance. Empty unless augmentation ran.
	Augmentations []Augmentation `json:"augmentations,omitempty"`
}

// Backend generates guidance from a request. Implementations must
// honor context cancellation; the assembler enforces a hard timeout.
//
// Thread Safety: implementations must be safe for concurrent use.
type Backend interface {
	Generate(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error)
}
