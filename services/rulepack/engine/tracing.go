// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer for engine operations.
var tracer = otel.Tracer("rulebook.engine")

// startSpan starts a span for an engine operation.
func startSpan(ctx context.Context, op, packageName string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "Engine."+op)
	if packageName != "" {
		span.SetAttributes(attribute.String("package.name", packageName))
	}
	return ctx, span
}
