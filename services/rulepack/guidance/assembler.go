// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guidance

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/parallaxsec/rulebook/services/rulepack/schema"
	"github.com/parallaxsec/rulebook/services/rulepack/selector"
)

const (
	// DefaultTimeout is the end-to-end budget for one backend call.
	DefaultTimeout = 2 * time.Second

	// DefaultMaxPayloadBytes caps the serialized request payload.
	DefaultMaxPayloadBytes = 32 * 1024

	// fallbackConfidence is the fixed confidence of templated results.
	fallbackConfidence = 0.25
)

// Assembler builds guidance from selected rules, guaranteeing a result
// within the timeout budget. Backend failures, timeouts, and malformed
// responses all degrade to the templated fallback; the caller never
// sees an error.
//
// Thread Safety: safe for concurrent use.
type Assembler struct {
	backend         Backend
	timeout         time.Duration
	maxPayloadBytes int
	logger          *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithTimeout overrides the backend call budget.
func WithTimeout(d time.Duration) AssemblerOption {
	return func(a *Assembler) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMaxPayloadBytes overrides the request payload cap.
func WithMaxPayloadBytes(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.maxPayloadBytes = n
		}
	}
}

// WithAssemblerLogger sets the assembler's logger.
func WithAssemblerLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssembler creates an Assembler over the given backend. A nil
// backend degrades every request to the fallback path.
func NewAssembler(backend Backend, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		backend:         backend,
		timeout:         DefaultTimeout,
		maxPayloadBytes: DefaultMaxPayloadBytes,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble produces a GuidanceResult for the selected candidates.
//
// Description:
//
//	Builds a size-capped request, invokes the backend under a hard
//	timeout, and validates the response shape. Any failure synthesizes
//	a fallback result from the rules' requirement and positive-practice
//	text. Always returns a non-nil result; never returns an error.
func (a *Assembler) Assemble(ctx context.Context, rctx *selector.RuntimeContext, candidates []selector.Candidate) *GuidanceResult {
	rules := selector.Rules(candidates)
	req := a.boundedRequest(rctx, rules)

	resp, err := a.callBackend(ctx, req)
	if err != nil || !resp.valid() {
		if err != nil {
			a.logger.Warn("guidance degraded to fallback",
				slog.String("path", rctx.Path),
				slog.String("error", err.Error()))
		} else {
			a.logger.Warn("guidance degraded to fallback",
				slog.String("path", rctx.Path),
				slog.String("error", ErrMalformedResponse.Error()))
		}
		return Fallback(rules)
	}

	return &GuidanceResult{
		Text:         resp.Text,
		Suggestions:  resp.Suggestions,
		Severity:     maxRuleSeverity(rules),
		RulesApplied: len(rules),
		Confidence:   resp.Confidence,
		Source:       SourceGenerated,
	}
}

// callBackend runs the backend under the timeout. The call is isolated
// in a goroutine so a backend that ignores cancellation still cannot
// hold up the request past the budget.
func (a *Assembler) callBackend(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	if a.backend == nil {
		return nil, ErrBackend
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		resp *GenerationResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := a.backend.Generate(ctx, req)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case o := <-done:
		return o.resp, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// boundedRequest trims the request until its serialized form fits the
// payload cap: content is halved first, then the lowest-ranked rules
// are dropped. At least one rule is always kept when any were given.
func (a *Assembler) boundedRequest(rctx *selector.RuntimeContext, rules []*schema.RuleDocument) *GenerationRequest {
	bounded := *rctx
	req := &GenerationRequest{Context: &bounded, Rules: rules}

	for i := 0; i < 16; i++ {
		data, err := json.Marshal(req)
		if err != nil || len(data) <= a.maxPayloadBytes {
			return req
		}
		if len(bounded.Content) > 1024 {
			bounded.Content = bounded.Content[:len(bounded.Content)/2]
			continue
		}
		if len(req.Rules) > 1 {
			req.Rules = req.Rules[:len(req.Rules)-1]
			continue
		}
		return req
	}
	return req
}

// Fallback synthesizes a GuidanceResult from rule text alone. Cheap
// and synchronous; used when the backend cannot deliver in time.
func Fallback(rules []*schema.RuleDocument) *GuidanceResult {
	text, suggestions := renderRules(rules)
	return &GuidanceResult{
		Text:         text,
		Suggestions:  suggestions,
		Severity:     maxRuleSeverity(rules),
		RulesApplied: len(rules),
		Confidence:   fallbackConfidence,
		Source:       SourceFallback,
	}
}
