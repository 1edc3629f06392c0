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
	"time"

	"github.com/spf13/cobra"

	"github.com/parallaxsec/rulebook/services/rulepack/augment"
	"github.com/parallaxsec/rulebook/services/rulepack/cache"
	"github.com/parallaxsec/rulebook/services/rulepack/engine"
	"github.com/parallaxsec/rulebook/services/rulepack/guidance"
	"github.com/parallaxsec/rulebook/services/rulepack/server"
)

var (
	servePackageDir  string
	serveAddr        string
	serveBackend     string
	serveWarmDir     string
	serveMaxGuidance int
	serveAugmentTTL  time.Duration

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve guidance requests over HTTP",
		Long: `Serve loads every compiled package from the package directory,
watches it for rebuilds, and answers guidance requests until interrupted.

The generation backend is selected with --backend: "openai" requires
OPENAI_API_KEY; "template" renders guidance from rule text with no
external calls. Augmentation search activates only when WEAVIATE_HOST
is set and --augment-ttl is positive.`,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVarP(&servePackageDir, "packages", "p", "dist", "directory of compiled packages")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8184", "listen address")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "template", "generation backend: openai or template")
	serveCmd.Flags().StringVar(&serveWarmDir, "warm-dir", "", "directory for the persistent guidance cache (disabled when empty)")
	serveCmd.Flags().IntVar(&serveMaxGuidance, "max-guidance-entries", cache.DefaultMaxGuidanceEntries, "guidance cache entry bound")
	serveCmd.Flags().DurationVar(&serveAugmentTTL, "augment-ttl", 0, "process-wide augmentation opt-in duration")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	slogger := logger.Slog()

	var backend guidance.Backend
	switch serveBackend {
	case "openai":
		b, err := guidance.NewOpenAIBackend(slogger)
		if err != nil {
			return fmt.Errorf("configure backend: %w", err)
		}
		backend = b
	case "template":
		backend = guidance.NewTemplateBackend()
	default:
		return fmt.Errorf("unknown backend %q", serveBackend)
	}

	coordinatorOpts := []cache.CoordinatorOption{
		cache.WithMaxGuidanceEntries(serveMaxGuidance),
		cache.WithLogger(slogger),
	}
	if serveWarmDir != "" {
		warm, err := cache.OpenWarmTier(cache.WarmTierConfig{
			Path:   serveWarmDir,
			Logger: slogger,
		})
		if err != nil {
			return fmt.Errorf("open warm tier: %w", err)
		}
		coordinatorOpts = append(coordinatorOpts, cache.WithWarmTier(warm))
	}
	coordinator := cache.NewCoordinator(coordinatorOpts...)
	defer coordinator.Close()

	engineOpts := []engine.Option{
		engine.WithPackageDir(servePackageDir),
		engine.WithLogger(slogger),
	}
	if host := os.Getenv("WEAVIATE_HOST"); host != "" {
		searcher, err := augment.NewSearcher(augment.SearcherConfig{
			Host:   host,
			Scheme: os.Getenv("WEAVIATE_SCHEME"),
			Logger: slogger,
		})
		if err != nil {
			return fmt.Errorf("configure augmentation: %w", err)
		}
		if serveAugmentTTL > 0 {
			searcher.Enable(serveAugmentTTL)
		}
		engineOpts = append(engineOpts, engine.WithSearcher(searcher))
	}

	assembler := guidance.NewAssembler(backend, guidance.WithAssemblerLogger(slogger))
	e := engine.New(coordinator, assembler, engineOpts...)

	loaded, err := e.LoadPackageDir(cmd.Context())
	if err != nil {
		return err
	}
	if loaded == 0 {
		slogger.Warn("no packages loaded, all requests will return not found",
			"dir", servePackageDir)
	}

	watcher, err := engine.NewWatcher(e)
	if err != nil {
		return err
	}
	if err := watcher.Start(cmd.Context()); err != nil {
		return err
	}
	defer watcher.Stop()

	return server.New(e, server.WithLogger(slogger)).Run(serveAddr)
}
