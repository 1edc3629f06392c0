// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pack

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// DefaultMaxPackageBytes bounds serialized package size before parsing.
const DefaultMaxPackageBytes = 8 << 20 // 8 MiB

// Loader parses and integrity-checks serialized packages.
//
// The loader itself is stateless; idempotent re-loading is provided by
// the cache coordinator, which returns the existing handle on a hit.
//
// Thread Safety: safe for concurrent use.
type Loader struct {
	maxBytes int64
	logger   *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithMaxBytes sets the size bound for serialized packages.
func WithMaxBytes(n int64) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a Loader with the given options.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		maxBytes: DefaultMaxPackageBytes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile reads, parses, and verifies a package file.
//
// The file size is checked against the bound before any bytes are read,
// so an oversized package is rejected without parsing.
func (l *Loader) LoadFile(path string) (*CompiledPackage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat package: %w", err)
	}
	if info.Size() > l.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, info.Size(), l.maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}
	return l.Load(data)
}

// Load parses and verifies serialized package bytes.
//
// Inputs:
//
//	data - Serialized CompiledPackage JSON.
//
// Outputs:
//
//	*CompiledPackage - The verified, immutable package. Nil on error.
//	error - ErrTooLarge, ErrMalformed, or ErrIntegrity.
//
// Behavior:
//
//   - Size bound is enforced before parsing.
//   - The declared version must equal the recomputed digest of the
//     parsed rules; a mismatch refuses the package entirely.
func (l *Loader) Load(data []byte) (*CompiledPackage, error) {
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), l.maxBytes)
	}

	var pkg CompiledPackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if pkg.PackageName == "" {
		return nil, fmt.Errorf("%w: missing package_name", ErrMalformed)
	}
	if pkg.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrMalformed)
	}

	computed, err := ComputeVersion(pkg.Rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if computed != pkg.Version {
		l.logger.Error("package integrity check failed",
			slog.String("package", pkg.PackageName),
			slog.String("declared", pkg.Version),
			slog.String("computed", computed))
		return nil, fmt.Errorf("%w: package %s", ErrIntegrity, pkg.PackageName)
	}

	l.logger.Debug("package loaded",
		slog.String("package", pkg.PackageName),
		slog.String("version", pkg.Fingerprint()),
		slog.Int("rules", len(pkg.Rules)))

	return &pkg, nil
}
