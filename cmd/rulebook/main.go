// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command rulebook builds, inspects, and serves compiled security-rule
// packages.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/parallaxsec/rulebook/pkg/logging"
)

var (
	rootCmd = &cobra.Command{
		Use:   "rulebook",
		Short: "Compile and serve security guidance rule packages",
		Long: `Rulebook compiles authored security rule documents into immutable,
content-addressed packages and serves context-aware guidance from them.`,
		SilenceUsage: true,
	}

	verbose bool
	logDir  string
	logger  *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "directory for log files (disabled when empty)")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := logging.LevelInfo
		if verbose {
			level = logging.LevelDebug
		}
		logger = logging.New(logging.Config{
			Level:   level,
			LogDir:  logDir,
			Service: "rulebook",
			JSON:    false,
		})
		slog.SetDefault(logger.Slog())
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	}
}
