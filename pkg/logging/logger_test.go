// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo}, // Unknown defaults to Info
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := tt.level.toSlogLevel(); got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.slog == nil {
		t.Error("logger.slog is nil")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "testsvc",
		Quiet:   true,
	})
	logger.Info("hello from test", "key", "value")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	pattern := filepath.Join(dir, "testsvc_*.log")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one log file matching %s, got %v (err=%v)", pattern, matches, err)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file missing message, got: %s", data)
	}
	if !strings.Contains(string(data), `"service":"testsvc"`) {
		t.Errorf("log file missing service attribute, got: %s", data)
	}
}

func TestLogger_Exporter(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "exporttest",
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Info("exported message", "attempt", 1)
	logger.Debug("filtered message") // Below level, not exported

	// Export is async.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(exporter.Entries()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 exported entry, got %d", len(entries))
	}
	if entries[0].Message != "exported message" {
		t.Errorf("entry message = %q", entries[0].Message)
	}
	if entries[0].Attrs["attempt"] != 1 {
		t.Errorf("entry attrs = %v", entries[0].Attrs)
	}

	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLogger_With(t *testing.T) {
	parent := New(Config{Quiet: true})
	child := parent.With("request_id", "abc123")
	if child == parent {
		t.Error("With() should return a new logger")
	}
	// Both loggers must remain usable.
	parent.Info("parent message")
	child.Info("child message")
}

func TestNopExporter(t *testing.T) {
	e := &NopExporter{}
	if err := e.Export(context.Background(), Entry{}); err != nil {
		t.Error(err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Error(err)
	}
	if err := e.Close(); err != nil {
		t.Error(err)
	}
}

func TestArgsToMap(t *testing.T) {
	m := argsToMap([]any{"a", 1, "b", "two", 3, "ignored-non-string-key"})
	if len(m) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(m), m)
	}
	if m["a"] != 1 || m["b"] != "two" {
		t.Errorf("unexpected map: %v", m)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got := expandPath("~/logs")
	want := filepath.Join(home, "logs")
	if got != want {
		t.Errorf("expandPath(~/logs) = %q, want %q", got, want)
	}
	if expandPath("/var/log") != "/var/log" {
		t.Error("absolute path should be unchanged")
	}
}
