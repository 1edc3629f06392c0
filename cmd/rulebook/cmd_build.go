// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parallaxsec/rulebook/services/rulepack/compiler"
	"github.com/parallaxsec/rulebook/services/rulepack/manifest"
)

var (
	buildManifest  string
	buildRulesRoot string
	buildOut       string
	buildForce     bool

	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Compile rule documents into packages",
		Long: `Build resolves each collection in the manifest against the rules
root, validates every matched document, and writes one compiled package
per collection to the output directory.

Exit status is non-zero when any collection fatally fails (duplicate
rule id) or when a manifest pattern escapes the rules root.`,
		RunE: runBuild,
	}
)

func init() {
	buildCmd.Flags().StringVarP(&buildManifest, "manifest", "m", "manifest.yaml", "collection manifest path")
	buildCmd.Flags().StringVarP(&buildRulesRoot, "rules-root", "r", ".", "root directory of rule documents")
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "dist", "output directory for compiled packages")
	buildCmd.Flags().BoolVarP(&buildForce, "force", "f", false, "overwrite existing package files")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	m, err := manifest.Load(buildManifest)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	c, err := compiler.NewCompiler(buildRulesRoot, compiler.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}

	result, err := c.CompileAll(cmd.Context(), m)
	if err != nil {
		// Containment violations land here and abort the whole build.
		return err
	}

	writer := compiler.NewWriter(buildOut, buildForce)
	failed := false
	for i, report := range result.Reports {
		col := &m.Collections[i]

		for _, se := range report.SchemaErrors {
			fmt.Fprintf(os.Stderr, "  schema error: %s\n", se.Error())
		}
		if report.Fatal != nil {
			fmt.Fprintf(os.Stderr, "FAILED %s: %v\n", report.Name, report.Fatal)
			failed = true
			continue
		}

		path, err := writer.Write(report.Package, col.OutputName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FAILED %s: %v\n", report.Name, err)
			failed = true
			continue
		}
		fmt.Printf("built %s (%d rules, version %s) -> %s\n",
			report.Name, len(report.Package.Rules), report.Package.Fingerprint(), path)
	}

	if failed {
		return fmt.Errorf("one or more collections failed to build")
	}
	return nil
}
