// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guidance

import (
	"context"
	"fmt"
	"strings"

	"github.com/parallaxsec/rulebook/services/rulepack/schema"
)

// TemplateBackend renders guidance purely from the rule text, with no
// external calls. It serves tests and backendless deployments; the
// assembler also reuses its rendering for the fallback path.
type TemplateBackend struct{}

// NewTemplateBackend returns a backend that never fails.
func NewTemplateBackend() *TemplateBackend {
	return &TemplateBackend{}
}

// Generate implements Backend.
func (t *TemplateBackend) Generate(_ context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	text, suggestions := renderRules(req.Rules)
	return &GenerationResponse{
		Text:        text,
		Suggestions: suggestions,
		Severity:    string(maxRuleSeverity(req.Rules)),
		Confidence:  0.5,
	}, nil
}

// renderRules formats requirements and positive practices into prose
// and a suggestion list. Deterministic for a fixed rule order.
func renderRules(rules []*schema.RuleDocument) (text string, suggestions []string) {
	if len(rules) == 0 {
		return "No applicable security rules matched this context.", nil
	}

	var sb strings.Builder
	sb.WriteString("Applicable security requirements:\n")
	for i, r := range rules {
		fmt.Fprintf(&sb, "%d. [%s] %s: %s\n", i+1, r.Severity, r.Title, r.Requirement)
		for _, p := range r.PositivePractices {
			suggestions = append(suggestions, p)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), suggestions
}

// maxRuleSeverity returns the highest severity among the rules.
func maxRuleSeverity(rules []*schema.RuleDocument) schema.Severity {
	max := schema.SeverityLow
	for _, r := range rules {
		max = schema.MaxSeverity(max, r.Severity)
	}
	return max
}
