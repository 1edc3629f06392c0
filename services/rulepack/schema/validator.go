// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// idPattern is the rule id naming convention: lowercase kebab-case
// segments, e.g. "sql-injection-parameterized-queries".
var idPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Validator checks rule documents against required-field and type
// constraints.
//
// Validation is a pure function of the document: no side effects, no
// I/O. The caller accumulates the returned SchemaErrors across a batch.
//
// Thread Safety: safe for concurrent use after construction.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with the struct-tag rules registered.
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Parse decodes a YAML rule document and validates it.
//
// Inputs:
//
//	source - Attribution string for error reporting (usually the path).
//	data - Raw YAML bytes.
//
// Outputs:
//
//	*RuleDocument - The decoded document, nil on any error.
//	[]*SchemaError - All validation failures found; empty on success.
//
// A YAML syntax error produces a single whole-document SchemaError.
// Field-level failures are reported per field so authors can fix a
// document in one pass.
func (v *Validator) Parse(source string, data []byte) (*RuleDocument, []*SchemaError) {
	var doc RuleDocument

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, []*SchemaError{{
			Document: source,
			Field:    "document",
			Reason:   fmt.Sprintf("yaml decode failed: %v", err),
			Err:      err,
		}}
	}

	if errs := v.Validate(&doc); len(errs) > 0 {
		// Attribute by id when the document managed to declare one.
		for _, se := range errs {
			if se.Document == "" {
				se.Document = source
			}
		}
		return nil, errs
	}

	return &doc, nil
}

// Validate checks a decoded document against the schema constraints.
//
// Checks, in order: required fields (struct tags), severity enum, id
// naming convention, detection hook shape. All failures are collected;
// validation never stops at the first bad field.
func (v *Validator) Validate(doc *RuleDocument) []*SchemaError {
	var errs []*SchemaError

	name := doc.ID

	if err := v.validate.Struct(doc); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, &SchemaError{
					Document: name,
					Field:    strings.ToLower(fe.Field()),
					Reason:   fmt.Sprintf("%s (tag %q)", ErrMissingField.Error(), fe.Tag()),
					Err:      ErrMissingField,
				})
			}
		} else {
			errs = append(errs, &SchemaError{
				Document: name,
				Field:    "document",
				Reason:   err.Error(),
				Err:      err,
			})
		}
	}

	if doc.Severity != "" && !doc.Severity.Valid() {
		errs = append(errs, &SchemaError{
			Document: name,
			Field:    "severity",
			Reason:   fmt.Sprintf("%q is not one of low, medium, high, critical", doc.Severity),
			Err:      ErrInvalidSeverity,
		})
	}

	if doc.ID != "" && !idPattern.MatchString(doc.ID) {
		errs = append(errs, &SchemaError{
			Document: name,
			Field:    "id",
			Reason:   fmt.Sprintf("%q does not match lowercase kebab-case convention", doc.ID),
			Err:      ErrInvalidID,
		})
	}

	for kind, hooks := range doc.DetectionHooks {
		if kind == "" {
			errs = append(errs, &SchemaError{
				Document: name,
				Field:    "detection_hooks",
				Reason:   "empty scanner kind",
				Err:      ErrInvalidHooks,
			})
			continue
		}
		for _, h := range hooks {
			if strings.TrimSpace(h) == "" {
				errs = append(errs, &SchemaError{
					Document: name,
					Field:    "detection_hooks." + kind,
					Reason:   "empty hook identifier",
					Err:      ErrInvalidHooks,
				})
			}
		}
	}

	return errs
}
