// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package compiler aggregates validated rule documents into compiled
// packages.
//
// Compilation is deterministic: for a fixed document set the emitted
// package has an identical version digest and identical rule ordering
// on every build. Per-document validation failures are accumulated and
// never halt a build; an id collision is fatal to its collection only,
// and a path-containment violation is fatal to the whole build.
package compiler

import (
	"errors"
	"fmt"
)

// Sentinel errors for compilation.
var (
	// ErrIDCollision is returned when two documents in one collection
	// share an id. Fatal to that collection: zero rules are emitted
	// for it, other collections still build. A duplicate id would make
	// downstream dedup and caching ambiguous.
	ErrIDCollision = errors.New("duplicate rule id in collection")

	// ErrExists is returned by the writer when the output file already
	// exists and overwrite was not forced.
	ErrExists = errors.New("package file already exists")
)

// CollisionError reports the colliding id and its source documents.
type CollisionError struct {
	// ID is the duplicated rule id.
	ID string

	// Sources are the file paths that declared it.
	Sources []string
}

// Error implements the error interface.
func (e *CollisionError) Error() string {
	return fmt.Sprintf("%v: %q declared by %v", ErrIDCollision, e.ID, e.Sources)
}

// Unwrap returns ErrIDCollision for errors.Is support.
func (e *CollisionError) Unwrap() error {
	return ErrIDCollision
}
