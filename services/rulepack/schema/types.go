// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

// Severity is the ordered severity of a rule.
//
// Ordering: low < medium < high < critical. Use Rank for comparisons;
// the string form is the wire representation in YAML and JSON.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid returns true if s is one of the allowed severity values.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank returns the numeric order of the severity (low=0 .. critical=3).
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// RuleDocument is a single authored security rule.
//
// The id is unique and stable within a compiled package; id collisions
// are fatal to the collection build. Field tags carry both the YAML
// authoring format and the JSON package format, plus validator
// constraints enforced by Validator.
type RuleDocument struct {
	// ID is the unique, stable rule identifier (lowercase kebab-case).
	ID string `yaml:"id" json:"id" validate:"required"`

	// Title is a short human-readable name for the rule.
	Title string `yaml:"title" json:"title" validate:"required"`

	// Severity is the rule's severity (low, medium, high, critical).
	Severity Severity `yaml:"severity" json:"severity" validate:"required"`

	// Scope is a free-text applicability tag (e.g. "go", "sql", "http").
	Scope string `yaml:"scope" json:"scope" validate:"required"`

	// Requirement is the normative text of the rule.
	Requirement string `yaml:"requirement" json:"requirement" validate:"required"`

	// PositivePractices are ordered recommended practices.
	PositivePractices []string `yaml:"positive_practices" json:"positive_practices,omitempty"`

	// NegativePractices are ordered anti-patterns.
	NegativePractices []string `yaml:"negative_practices" json:"negative_practices,omitempty"`

	// DetectionHooks maps a scanner kind to scanner-specific identifiers.
	DetectionHooks map[string][]string `yaml:"detection_hooks" json:"detection_hooks,omitempty"`

	// VerificationTests are suggested verification steps.
	VerificationTests []string `yaml:"verification_tests" json:"verification_tests,omitempty"`

	// StandardsRefs maps a standard name to its reference codes
	// (e.g. "cwe" -> ["CWE-89"]).
	StandardsRefs map[string][]string `yaml:"standards_refs" json:"standards_refs,omitempty"`

	// TriggerTerms are content keywords that make the rule relevant.
	// Optional; used by the selector for content matching.
	TriggerTerms []string `yaml:"trigger_terms" json:"trigger_terms,omitempty"`
}
