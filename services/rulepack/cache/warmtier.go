// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/parallaxsec/rulebook/services/rulepack/guidance"
)

// DefaultWarmTierTTL bounds how long a persisted guidance entry stays
// retrievable. Entries are keyed by package version, so a stale entry
// can never be served for a newer package; the TTL only caps disk
// growth.
const DefaultWarmTierTTL = 24 * time.Hour

// WarmTier persists guidance results in an embedded BadgerDB so a
// restarted process does not start with a cold guidance cache.
//
// Hot (RAM, Coordinator) -> Warm (BadgerDB). Best-effort on both
// paths: a warm-tier failure is logged and otherwise invisible.
//
// Thread Safety: safe for concurrent use.
type WarmTier struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// WarmTierConfig configures a WarmTier.
type WarmTierConfig struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory disables disk persistence. Testing only.
	InMemory bool

	// TTL overrides DefaultWarmTierTTL when positive.
	TTL time.Duration

	// Logger receives warm-tier diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenWarmTier opens (or creates) the warm tier database.
func OpenWarmTier(cfg WarmTierConfig) (*WarmTier, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent warm tier")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultWarmTierTTL
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create warm tier directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open warm tier: %w", err)
	}

	return &WarmTier{db: db, ttl: cfg.TTL, logger: cfg.Logger}, nil
}

// Get returns the persisted result for the key, if present and fresh.
func (w *WarmTier) Get(key string) (*guidance.GuidanceResult, bool) {
	var result guidance.GuidanceResult
	err := w.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			w.logger.Warn("warm tier read failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	return &result, true
}

// Put persists a result under the key with the configured TTL.
// Failures are logged, never propagated.
func (w *WarmTier) Put(key string, result *guidance.GuidanceResult) {
	data, err := json.Marshal(result)
	if err != nil {
		w.logger.Warn("warm tier encode failed", slog.String("error", err.Error()))
		return
	}
	err = w.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data).WithTTL(w.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		w.logger.Warn("warm tier write failed", slog.String("error", err.Error()))
	}
}

// Close releases the underlying database.
func (w *WarmTier) Close() error {
	return w.db.Close()
}
