// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pack

import (
	"errors"
	"fmt"
)

// Sentinel errors for package loading.
var (
	// ErrIntegrity is returned when a package cannot be verified
	// against its declared content digest. The package is refused,
	// never partially loaded.
	ErrIntegrity = errors.New("package failed integrity verification")

	// ErrTooLarge is returned when serialized package bytes exceed the
	// configured size bound. Checked before parsing to bound
	// worst-case memory and CPU.
	ErrTooLarge = errors.New("package exceeds size bound")

	// ErrMalformed is returned when package bytes are not a valid
	// package record (bad JSON, missing name or version). Unparseable
	// bytes cannot be verified, so ErrMalformed wraps ErrIntegrity and
	// both match with errors.Is.
	ErrMalformed = fmt.Errorf("%w: malformed package record", ErrIntegrity)
)
