// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package augment

import "errors"

// ErrAugmentationUnavailable marks a corpus lookup that could not be
// served. It never reaches the primary request path; Search swallows
// it after recording degradation.
var ErrAugmentationUnavailable = errors.New("augmentation corpus unavailable")
