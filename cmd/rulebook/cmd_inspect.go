// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/parallaxsec/rulebook/services/rulepack/pack"
)

var (
	inspectJSON bool

	inspectCmd = &cobra.Command{
		Use:   "inspect [package file]",
		Short: "Show the contents of a compiled package",
		Long: `Inspect loads a compiled package, verifies its integrity digest,
and prints a summary of its rules and aggregated detection hooks.`,
		Args: cobra.ExactArgs(1),
		RunE: runInspect,
	}
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "emit the full package as JSON")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	loader := pack.NewLoader(pack.WithLogger(logger.Slog()))
	pkg, err := loader.LoadFile(args[0])
	if err != nil {
		return err
	}

	if inspectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pkg)
	}

	fmt.Printf("package:    %s\n", pkg.PackageName)
	fmt.Printf("version:    %s\n", pkg.Version)
	fmt.Printf("built:      %s\n", pkg.BuildTime.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("provenance: %s\n", pkg.Provenance)
	fmt.Printf("rules:      %d\n", len(pkg.Rules))
	for _, r := range pkg.Rules {
		fmt.Printf("  %-10s %-40s %s\n", r.Severity, r.ID, r.Title)
	}

	if len(pkg.AggregatedHooks) > 0 {
		kinds := make([]string, 0, len(pkg.AggregatedHooks))
		for kind := range pkg.AggregatedHooks {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)

		fmt.Println("detection hooks:")
		for _, kind := range kinds {
			fmt.Printf("  %s: %d identifiers\n", kind, len(pkg.AggregatedHooks[kind]))
		}
	}
	return nil
}
