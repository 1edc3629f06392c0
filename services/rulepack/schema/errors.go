// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package schema defines the rule document model and its validator.
//
// A rule document is one authored unit of security guidance. Documents
// are written in YAML and validated before compilation into a package.
// Validation is tolerant of partial failure: a bad document yields a
// structured SchemaError and the batch continues; the caller owns the
// error accumulator.
//
// # Thread Safety
//
// Validator is safe for concurrent use after construction. RuleDocument
// values are treated as immutable once validated.
package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors for document validation.
var (
	// ErrMissingField is returned when a required field is absent or empty.
	ErrMissingField = errors.New("required field missing")

	// ErrInvalidSeverity is returned when severity is not one of the
	// allowed values (low, medium, high, critical).
	ErrInvalidSeverity = errors.New("invalid severity")

	// ErrInvalidID is returned when an id does not match the naming
	// convention (lowercase kebab-case segments).
	ErrInvalidID = errors.New("invalid rule id")

	// ErrInvalidHooks is returned when detection_hooks values are not
	// non-empty lists of non-empty strings.
	ErrInvalidHooks = errors.New("invalid detection hooks")
)

// SchemaError represents a single-document validation failure.
//
// SchemaErrors are recovered locally: the document is rejected and the
// batch continues. The zero Document value means the source could not
// be attributed (e.g. the YAML failed to parse before an id was read).
type SchemaError struct {
	// Document identifies the failing document, by id when available,
	// otherwise by source path.
	Document string `json:"document"`

	// Field is the offending field name, or "document" for whole-file
	// failures such as YAML syntax errors.
	Field string `json:"field"`

	// Reason describes why validation failed.
	Reason string `json:"reason"`

	// Err is the underlying sentinel or parse error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Document == "" {
		return fmt.Sprintf("schema: field %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("schema: document %s: field %s: %s", e.Document, e.Field, e.Reason)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SchemaError) Unwrap() error {
	return e.Err
}
