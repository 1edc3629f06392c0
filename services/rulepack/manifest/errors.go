// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package manifest defines the collection manifest and source resolution.
//
// A manifest names the collections to compile: each entry maps glob
// patterns under a rules root to one output package. Resolution is
// confined to the configured root; any pattern or resolved path that
// escapes it fails closed with ErrPathEscape. This is a security error,
// distinct from ordinary validation failures, and aborts the whole build.
//
// # Thread Safety
//
// Resolver and GlobMatcher are safe for concurrent use after creation.
package manifest

import "errors"

// Sentinel errors for manifest operations.
var (
	// ErrPathEscape is returned when a glob pattern or resolved path
	// escapes the configured rules root. Treated as a security
	// violation: the whole build aborts.
	ErrPathEscape = errors.New("path escapes rules root")

	// ErrInvalidRoot is returned when the rules root is missing or not
	// a directory.
	ErrInvalidRoot = errors.New("invalid rules root")

	// ErrEmptyManifest is returned when a manifest declares no
	// collections.
	ErrEmptyManifest = errors.New("manifest declares no collections")

	// ErrInvalidCollection is returned when a collection entry is
	// missing its name or source globs.
	ErrInvalidCollection = errors.New("invalid collection entry")
)
