// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package augment

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// -----------------------------------------------------------------------------
// Degradation Mode
// -----------------------------------------------------------------------------

// DegradationMode represents the operational mode of the search corpus.
type DegradationMode int32

const (
	// ModeNormal indicates the corpus is reachable.
	ModeNormal DegradationMode = iota
	// ModeDegraded indicates the corpus is unreachable; searches are
	// skipped until the retry window elapses.
	ModeDegraded
	// ModeDisabled indicates augmentation is administratively off.
	ModeDisabled
)

// String returns the string representation of DegradationMode.
func (m DegradationMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDegraded:
		return "degraded"
	case ModeDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// degradationRetryWindow is how long after a failure the searcher
// waits before probing the corpus again.
const degradationRetryWindow = 30 * time.Second

// degradationHandler tracks corpus availability. A failed search marks
// the handler degraded; after the retry window the next search probes
// again. Requests never block on an unavailable corpus.
//
// Thread Safety: safe for concurrent use.
type degradationHandler struct {
	mode      atomic.Int32
	retryAtNs atomic.Int64
	logger    *slog.Logger
}

func newDegradationHandler(logger *slog.Logger) *degradationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &degradationHandler{
		logger: logger.With(slog.String("component", "augment_search")),
	}
}

// OnDegraded marks the corpus unavailable and schedules a retry.
func (h *degradationHandler) OnDegraded(reason string) {
	h.mode.Store(int32(ModeDegraded))
	h.retryAtNs.Store(time.Now().Add(degradationRetryWindow).UnixNano())
	h.logger.Warn("augmentation corpus unavailable, searches skipped",
		slog.String("reason", reason))
}

// OnRecovered marks the corpus available again.
func (h *degradationHandler) OnRecovered() {
	if h.mode.Swap(int32(ModeNormal)) != int32(ModeNormal) {
		h.logger.Info("augmentation corpus recovered")
	}
}

// GetMode returns the current mode.
func (h *degradationHandler) GetMode() DegradationMode {
	return DegradationMode(h.mode.Load())
}

// ShouldSkipSearch returns true when the corpus should not be queried.
// A degraded handler allows one probe once the retry window elapses.
func (h *degradationHandler) ShouldSkipSearch() bool {
	switch h.GetMode() {
	case ModeNormal:
		return false
	case ModeDegraded:
		return time.Now().UnixNano() < h.retryAtNs.Load()
	default:
		return true
	}
}
