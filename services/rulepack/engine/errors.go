// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import "errors"

var (
	// ErrPackageNotFound indicates no package is resident under the
	// requested name.
	ErrPackageNotFound = errors.New("package not found")

	// ErrNoPackageDir indicates the engine was started without a
	// package directory.
	ErrNoPackageDir = errors.New("no package directory configured")
)
