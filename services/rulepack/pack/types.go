// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pack defines the compiled package model, its content digest,
// and the runtime loader.
//
// A compiled package is immutable once built: a new build produces a new
// package value, never an in-place mutation. The version is a content
// digest of the included rules, so identical inputs always produce the
// identical version; build time is informational and excluded from the
// digest.
package pack

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parallaxsec/rulebook/services/rulepack/schema"
)

// CompiledPackage is a named, versioned, immutable bundle of rules.
//
// Rules are sorted by id at compile time; AggregatedHooks is the
// deduplicated union of every rule's detection hooks per scanner kind.
type CompiledPackage struct {
	// PackageName is the collection name this package was built from.
	PackageName string `json:"package_name"`

	// Version is the hex SHA-256 content digest of Rules.
	Version string `json:"version"`

	// BuildTime is when the package was compiled. Informational only;
	// never part of the digest.
	BuildTime time.Time `json:"build_time"`

	// Rules is the ordered rule set, sorted by id.
	Rules []schema.RuleDocument `json:"rules"`

	// AggregatedHooks maps scanner kind to the sorted, deduplicated
	// union of hook identifiers across all rules.
	AggregatedHooks map[string][]string `json:"aggregated_hooks"`

	// Provenance attributes the package to its sources.
	Provenance string `json:"provenance"`
}

// RuleByID returns the rule with the given id, or nil.
//
// Rules are sorted by id, but packages are small enough that a linear
// scan is fine and avoids building an index on every load.
func (p *CompiledPackage) RuleByID(id string) *schema.RuleDocument {
	for i := range p.Rules {
		if p.Rules[i].ID == id {
			return &p.Rules[i]
		}
	}
	return nil
}

// ComputeVersion returns the hex SHA-256 digest of the rule set.
//
// The digest is computed over the canonical JSON encoding of the sorted
// rules: struct fields encode in declaration order and Go sorts map keys,
// so equal rule sets always hash identically. The caller must pass rules
// already sorted by id.
func ComputeVersion(rules []schema.RuleDocument) (string, error) {
	if rules == nil {
		rules = []schema.RuleDocument{}
	}
	canonical, err := json.Marshal(rules)
	if err != nil {
		return "", fmt.Errorf("canonicalize rules: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint returns a short prefix of the version for log output.
func (p *CompiledPackage) Fingerprint() string {
	if len(p.Version) >= 12 {
		return p.Version[:12]
	}
	return p.Version
}
