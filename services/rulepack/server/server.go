// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server exposes the guidance engine over HTTP.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/parallaxsec/rulebook/services/rulepack/engine"
)

const serviceName = "rulebook"

// Server serves guidance requests over HTTP.
type Server struct {
	engine *engine.Engine
	router *gin.Engine
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Server over the engine and registers all routes.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine: e,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/guidance", s.handleGuidance)
		v1.GET("/packages", s.handlePackages)
		v1.GET("/stats", s.handleStats)
	}

	s.router = router
	return s
}

// Router returns the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves on the given address until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("starting http server", slog.String("addr", addr))
	return s.router.Run(addr)
}

// requestID attaches a request id to every request and response.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// handleHealth reports liveness and resident package count.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"packages": len(s.engine.Coordinator().PackageNames()),
	})
}

// handleGuidance serves one guidance request.
func (s *Server) handleGuidance(c *gin.Context) {
	var req engine.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.Guidance(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, engine.ErrPackageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("guidance request failed",
			slog.String("package", req.PackageName),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// packageSummary is one row in the package listing.
type packageSummary struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	RuleCount int    `json:"rule_count"`
	BuildTime string `json:"build_time"`
}

// handlePackages lists resident packages, sorted by name.
func (s *Server) handlePackages(c *gin.Context) {
	coordinator := s.engine.Coordinator()
	names := coordinator.PackageNames()
	sort.Strings(names)

	out := make([]packageSummary, 0, len(names))
	for _, name := range names {
		pkg, ok := coordinator.Package(name)
		if !ok {
			continue
		}
		out = append(out, packageSummary{
			Name:      pkg.PackageName,
			Version:   pkg.Version,
			RuleCount: len(pkg.Rules),
			BuildTime: pkg.BuildTime.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"packages": out})
}

// handleStats exposes coordinator counters.
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Coordinator().Stats())
}
