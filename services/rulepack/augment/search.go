// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package augment performs best-effort corpus lookups that supplement
// generated guidance. Disabled by default, opt-in with an expiry, and
// always silent on failure: an unavailable corpus yields an empty
// result set, never an error on the primary request path.
package augment

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"golang.org/x/time/rate"

	"github.com/parallaxsec/rulebook/services/rulepack/guidance"
)

// CorpusClassName is the Weaviate class holding corpus excerpts.
const CorpusClassName = "SecurityCorpusExcerpt"

const (
	// DefaultSearchTimeout bounds one corpus lookup.
	DefaultSearchTimeout = 800 * time.Millisecond

	// DefaultMaxResults caps the merged hits per request.
	DefaultMaxResults = 3

	// DefaultMaxQueryLen caps the query text sent to the corpus.
	DefaultMaxQueryLen = 512

	// DefaultRatePerSecond caps corpus lookups process-wide.
	DefaultRatePerSecond = 10
)

// SearcherConfig configures a Searcher.
type SearcherConfig struct {
	// Host is the Weaviate host, e.g. "localhost:8080". Required.
	Host string

	// Scheme is "http" or "https". Defaults to "http".
	Scheme string

	// Timeout overrides DefaultSearchTimeout when positive.
	Timeout time.Duration

	// MaxResults overrides DefaultMaxResults when positive.
	MaxResults int

	// MaxQueryLen overrides DefaultMaxQueryLen when positive.
	MaxQueryLen int

	// RatePerSecond overrides DefaultRatePerSecond when positive.
	RatePerSecond float64

	// Logger receives search diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// applyDefaults fills zero-valued fields.
func (c *SearcherConfig) applyDefaults() {
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultSearchTimeout
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.MaxQueryLen <= 0 {
		c.MaxQueryLen = DefaultMaxQueryLen
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = DefaultRatePerSecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Searcher performs bounded corpus lookups against Weaviate.
//
// Thread Safety: safe for concurrent use.
type Searcher struct {
	client      *weaviate.Client
	handler     *degradationHandler
	limiter     *rate.Limiter
	timeout     time.Duration
	maxResults  int
	maxQueryLen int
	logger      *slog.Logger

	// enabledUntilNs is the opt-in expiry; zero means disabled.
	enabledUntilNs atomic.Int64
}

// NewSearcher builds a Searcher. The corpus is not probed here; the
// first enabled search discovers availability.
func NewSearcher(cfg SearcherConfig) (*Searcher, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("weaviate host is required")
	}
	cfg.applyDefaults()

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &Searcher{
		client:      client,
		handler:     newDegradationHandler(cfg.Logger),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)),
		timeout:     cfg.Timeout,
		maxResults:  cfg.MaxResults,
		maxQueryLen: cfg.MaxQueryLen,
		logger:      cfg.Logger,
	}, nil
}

// Enable opts augmentation in for the given duration. A non-positive
// duration disables immediately.
func (s *Searcher) Enable(ttl time.Duration) {
	if ttl <= 0 {
		s.Disable()
		return
	}
	s.enabledUntilNs.Store(time.Now().Add(ttl).UnixNano())
	s.logger.Info("augmentation enabled", slog.Duration("ttl", ttl))
}

// Disable turns augmentation off.
func (s *Searcher) Disable() {
	s.enabledUntilNs.Store(0)
}

// Enabled reports whether the opt-in window is still open.
func (s *Searcher) Enabled() bool {
	until := s.enabledUntilNs.Load()
	return until != 0 && time.Now().UnixNano() < until
}

// Mode returns the corpus availability mode.
func (s *Searcher) Mode() DegradationMode {
	return s.handler.GetMode()
}

// Search looks up corpus excerpts for the query.
//
// Description:
//
//	Runs a bounded semantic search when augmentation is opted in, the
//	rate limit allows it, and the corpus is not known to be down. The
//	query is truncated to the length cap and the lookup runs under the
//	search timeout. Every failure path returns an empty slice; the
//	primary request is never delayed beyond the timeout or failed.
//
// Inputs:
//
//	ctx - Caller context; the search timeout is layered on top.
//	query - Free-text query. Truncated, never rejected for length.
//	requestOptIn - Per-request opt-in, honored even when the process
//	level opt-in is off.
func (s *Searcher) Search(ctx context.Context, query string, requestOptIn bool) []guidance.Augmentation {
	if query == "" || (!s.Enabled() && !requestOptIn) {
		return nil
	}
	if s.handler.ShouldSkipSearch() {
		return nil
	}
	if !s.limiter.Allow() {
		s.logger.Debug("augmentation search rate limited")
		return nil
	}

	if len(query) > s.maxQueryLen {
		query = query[:s.maxQueryLen]
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	hits, err := s.query(ctx, query)
	if err != nil {
		s.handler.OnDegraded(err.Error())
		s.logger.Debug("augmentation search degraded", "error", err)
		return nil
	}
	s.handler.OnRecovered()
	return hits
}

// query runs one corpus lookup. Failures are wrapped in
// ErrAugmentationUnavailable so callers can distinguish an unavailable
// corpus from an empty result set.
func (s *Searcher) query(ctx context.Context, query string) ([]guidance.Augmentation, error) {
	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "excerptId"},
		{Name: "excerpt"},
		{Name: "_additional { certainty }"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(CorpusClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(s.maxResults).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAugmentationUnavailable, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAugmentationUnavailable, result.Errors[0].Message)
	}
	return s.parseHits(result.Data), nil
}

// parseHits extracts augmentations from a GraphQL response payload.
// Malformed objects are skipped, never fatal.
func (s *Searcher) parseHits(data map[string]models.JSONObject) []guidance.Augmentation {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := get[CorpusClassName].([]interface{})
	if !ok {
		return nil
	}

	seen := make(map[string]bool, len(objects))
	hits := make([]guidance.Augmentation, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := m["excerptId"].(string)
		excerpt, _ := m["excerpt"].(string)
		if id == "" || excerpt == "" || seen[id] {
			continue
		}
		seen[id] = true

		score := 0.0
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := add["certainty"].(float64); ok {
				score = certainty
			}
		}

		hits = append(hits, guidance.Augmentation{ID: id, Score: score, Excerpt: excerpt})
		if len(hits) >= s.maxResults {
			break
		}
	}
	return hits
}
