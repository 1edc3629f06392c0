// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guidance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallaxsec/rulebook/services/rulepack/schema"
	"github.com/parallaxsec/rulebook/services/rulepack/selector"
)

// stubBackend returns a canned response after an optional delay.
type stubBackend struct {
	resp  *GenerationResponse
	err   error
	delay time.Duration
}

func (s *stubBackend) Generate(ctx context.Context, _ *GenerationRequest) (*GenerationResponse, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.resp, s.err
}

func testCandidates() []selector.Candidate {
	return []selector.Candidate{
		{
			Rule: &schema.RuleDocument{
				ID:                "sql-injection-parameterized",
				Title:             "Use parameterized queries",
				Severity:          schema.SeverityCritical,
				Scope:             "sql",
				Requirement:       "All queries must use bound parameters.",
				PositivePractices: []string{"Use prepared statements."},
			},
			Score: 100,
		},
		{
			Rule: &schema.RuleDocument{
				ID:          "error-no-swallow",
				Title:       "Do not swallow errors",
				Severity:    schema.SeverityMedium,
				Scope:       "go",
				Requirement: "Every error return must be handled or propagated.",
			},
			Score: 40,
		},
	}
}

func testContext() *selector.RuntimeContext {
	return &selector.RuntimeContext{Path: "db/query.go", Content: "db.Query(q)"}
}

func TestAssembler_Generated(t *testing.T) {
	backend := &stubBackend{resp: &GenerationResponse{
		Text:        "Bind your parameters.",
		Suggestions: []string{"Use $1 placeholders."},
		Severity:    "critical",
		Confidence:  0.9,
	}}

	got := NewAssembler(backend).Assemble(context.Background(), testContext(), testCandidates())
	require.NotNil(t, got)
	assert.Equal(t, SourceGenerated, got.Source)
	assert.Equal(t, "Bind your parameters.", got.Text)
	assert.Equal(t, schema.SeverityCritical, got.Severity)
	assert.Equal(t, 2, got.RulesApplied)
	assert.InDelta(t, 0.9, got.Confidence, 0.001)
}

func TestAssembler_FallbackWithinBudget(t *testing.T) {
	backend := &stubBackend{
		resp:  &GenerationResponse{Text: "too late", Severity: "high", Confidence: 0.9},
		delay: 500 * time.Millisecond,
	}
	a := NewAssembler(backend, WithTimeout(50*time.Millisecond))

	start := time.Now()
	got := a.Assemble(context.Background(), testContext(), testCandidates())
	elapsed := time.Since(start)

	require.NotNil(t, got)
	assert.Equal(t, SourceFallback, got.Source)
	assert.Less(t, elapsed, 400*time.Millisecond)
	assert.Contains(t, got.Text, "All queries must use bound parameters.")
	assert.Equal(t, []string{"Use prepared statements."}, got.Suggestions)
	assert.Equal(t, schema.SeverityCritical, got.Severity)
}

func TestAssembler_MalformedTreatedAsFailure(t *testing.T) {
	cases := []struct {
		name string
		resp *GenerationResponse
	}{
		{name: "empty text", resp: &GenerationResponse{Text: "", Severity: "medium", Confidence: 0.5}},
		{name: "confidence above one", resp: &GenerationResponse{Text: "ok", Severity: "medium", Confidence: 1.5}},
		{name: "negative confidence", resp: &GenerationResponse{Text: "ok", Severity: "medium", Confidence: -0.1}},
		{name: "missing severity", resp: &GenerationResponse{Text: "advice", Confidence: 0.9}},
		{name: "unknown severity", resp: &GenerationResponse{Text: "advice", Severity: "worrying", Confidence: 0.9}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAssembler(&stubBackend{resp: tc.resp})
			got := a.Assemble(context.Background(), testContext(), testCandidates())
			assert.Equal(t, SourceFallback, got.Source)
		})
	}
}

func TestAssembler_BackendError(t *testing.T) {
	a := NewAssembler(&stubBackend{err: ErrBackend})
	got := a.Assemble(context.Background(), testContext(), testCandidates())
	assert.Equal(t, SourceFallback, got.Source)
}

func TestAssembler_NilBackend(t *testing.T) {
	got := NewAssembler(nil).Assemble(context.Background(), testContext(), testCandidates())
	assert.Equal(t, SourceFallback, got.Source)
	assert.Equal(t, 2, got.RulesApplied)
}

func TestAssembler_NoCandidates(t *testing.T) {
	got := NewAssembler(nil).Assemble(context.Background(), testContext(), nil)
	assert.Equal(t, SourceFallback, got.Source)
	assert.Equal(t, 0, got.RulesApplied)
	assert.NotEmpty(t, got.Text)
}

func TestAssembler_PayloadBounded(t *testing.T) {
	var captured *GenerationRequest
	backend := &captureBackend{inner: NewTemplateBackend(), captured: &captured}

	big := strings.Repeat("x", 64*1024)
	ctx := &selector.RuntimeContext{Path: "big.go", Content: big}

	a := NewAssembler(backend, WithMaxPayloadBytes(8*1024))
	got := a.Assemble(context.Background(), ctx, testCandidates())
	require.NotNil(t, got)

	require.NotNil(t, captured)
	assert.Less(t, len(captured.Context.Content), len(big))
	assert.NotEmpty(t, captured.Rules)
	// The caller's context is never mutated by payload trimming.
	assert.Len(t, ctx.Content, 64*1024)
}

func TestTemplateBackend(t *testing.T) {
	resp, err := NewTemplateBackend().Generate(context.Background(), &GenerationRequest{
		Rules: selector.Rules(testCandidates()),
	})
	require.NoError(t, err)
	assert.True(t, resp.valid())
	assert.Contains(t, resp.Text, "Use parameterized queries")
	assert.Equal(t, "critical", resp.Severity)
}

// captureBackend records the request it was given.
type captureBackend struct {
	inner    Backend
	captured **GenerationRequest
}

func (c *captureBackend) Generate(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	*c.captured = req
	return c.inner.Generate(ctx, req)
}
