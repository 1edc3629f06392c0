// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guidance

import "errors"

var (
	// ErrBackend indicates the generation backend failed or timed out.
	// Never surfaced to callers of the assembler; it triggers the
	// fallback path instead.
	ErrBackend = errors.New("generation backend failed")

	// ErrMalformedResponse indicates the backend returned a response
	// that failed shape validation. Treated identically to a timeout.
	ErrMalformedResponse = errors.New("malformed backend response")
)
