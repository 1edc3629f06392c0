// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package manifest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Collection is one named manifest entry: the rule documents matched by
// SourceGlobs become one compiled package.
type Collection struct {
	// Name identifies the collection.
	Name string `yaml:"name"`

	// SourceGlobs are glob patterns resolved against the rules root.
	// Patterns support ** for recursive matching.
	SourceGlobs []string `yaml:"source_globs"`

	// OutputName is the package file name. Defaults to "{name}.json".
	OutputName string `yaml:"output_name"`

	// DomainTags are free-text tags describing the collection's domain
	// (e.g. "web", "crypto"). Carried into package provenance.
	DomainTags []string `yaml:"domain_tags"`
}

// Manifest is the full set of collections to compile.
type Manifest struct {
	// Collections are the entries, compiled independently: a fatal
	// failure in one does not stop the others.
	Collections []Collection `yaml:"collections"`
}

// Load reads and validates a manifest from a YAML file.
//
// Every collection must have a name and at least one source glob.
// OutputName defaults to "{name}.json" when omitted.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest YAML bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if len(m.Collections) == 0 {
		return nil, ErrEmptyManifest
	}

	seen := make(map[string]bool, len(m.Collections))
	for i := range m.Collections {
		c := &m.Collections[i]
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%w: collection %d has no name", ErrInvalidCollection, i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("%w: duplicate collection %q", ErrInvalidCollection, c.Name)
		}
		seen[c.Name] = true
		if len(c.SourceGlobs) == 0 {
			return nil, fmt.Errorf("%w: collection %q has no source globs", ErrInvalidCollection, c.Name)
		}
		if c.OutputName == "" {
			c.OutputName = c.Name + ".json"
		}
	}

	return &m, nil
}
