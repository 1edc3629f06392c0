// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pack

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parallaxsec/rulebook/services/rulepack/schema"
)

func testRules() []schema.RuleDocument {
	return []schema.RuleDocument{
		{
			ID:          "auth-session-expiry",
			Title:       "Expire sessions",
			Severity:    schema.SeverityHigh,
			Scope:       "auth",
			Requirement: "Sessions must expire after inactivity.",
		},
		{
			ID:          "sql-injection-parameterized",
			Title:       "Use parameterized queries",
			Severity:    schema.SeverityCritical,
			Scope:       "sql",
			Requirement: "All queries must use bound parameters.",
			DetectionHooks: map[string][]string{
				"semgrep": {"string-formatted-query"},
			},
		},
	}
}

func serialize(t *testing.T, rules []schema.RuleDocument) []byte {
	t.Helper()
	version, err := ComputeVersion(rules)
	require.NoError(t, err)
	data, err := json.Marshal(&CompiledPackage{
		PackageName: "core",
		Version:     version,
		BuildTime:   time.Now().UTC(),
		Rules:       rules,
	})
	require.NoError(t, err)
	return data
}

func TestLoader_Load(t *testing.T) {
	data := serialize(t, testRules())

	pkg, err := NewLoader().Load(data)
	require.NoError(t, err)
	assert.Equal(t, "core", pkg.PackageName)
	assert.Len(t, pkg.Rules, 2)
	assert.NotNil(t, pkg.RuleByID("sql-injection-parameterized"))
	assert.Nil(t, pkg.RuleByID("nope"))
}

func TestLoader_Load_TruncatedRejected(t *testing.T) {
	data := serialize(t, testRules())

	// Losing a single byte must refuse the package, never partially
	// load it.
	_, err := NewLoader().Load(data[:len(data)-1])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
	// Unverifiable bytes are an integrity refusal as well.
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestLoader_Load_VersionMismatch(t *testing.T) {
	rules := testRules()
	data, err := json.Marshal(&CompiledPackage{
		PackageName: "core",
		Version:     "0000000000000000000000000000000000000000000000000000000000000000",
		Rules:       rules,
	})
	require.NoError(t, err)

	_, err = NewLoader().Load(data)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestLoader_Load_TamperedRuleRejected(t *testing.T) {
	rules := testRules()
	version, err := ComputeVersion(rules)
	require.NoError(t, err)

	// Alter rule content after the digest was taken.
	rules[0].Requirement = "weakened requirement"
	data, err := json.Marshal(&CompiledPackage{
		PackageName: "core",
		Version:     version,
		Rules:       rules,
	})
	require.NoError(t, err)

	_, err = NewLoader().Load(data)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestLoader_Load_SizeBound(t *testing.T) {
	data := serialize(t, testRules())

	_, err := NewLoader(WithMaxBytes(16)).Load(data)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLoader_LoadFile_SizeCheckedBeforeRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.json")
	require.NoError(t, os.WriteFile(path, serialize(t, testRules()), 0o644))

	_, err := NewLoader(WithMaxBytes(16)).LoadFile(path)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLoader_Load_MissingFields(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{name: "no name", data: `{"version":"abc","rules":[]}`},
		{name: "no version", data: `{"package_name":"core","rules":[]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLoader().Load([]byte(tc.data))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestComputeVersion_Deterministic(t *testing.T) {
	a, err := ComputeVersion(testRules())
	require.NoError(t, err)
	b, err := ComputeVersion(testRules())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	changed := testRules()
	changed[0].Severity = schema.SeverityLow
	c, err := ComputeVersion(changed)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestComputeVersion_NilEqualsEmpty(t *testing.T) {
	a, err := ComputeVersion(nil)
	require.NoError(t, err)
	b, err := ComputeVersion([]schema.RuleDocument{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
