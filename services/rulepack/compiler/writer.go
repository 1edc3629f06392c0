// Copyright (C) 2025 Parallax Security (engineering@parallaxsec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compiler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parallaxsec/rulebook/services/rulepack/pack"
)

// Writer persists compiled packages to an output directory.
type Writer struct {
	outDir string
	force  bool
}

// NewWriter creates a Writer targeting outDir. When force is false,
// writing over an existing package file fails with ErrExists.
func NewWriter(outDir string, force bool) *Writer {
	return &Writer{outDir: outDir, force: force}
}

// Write serializes the package to outDir/outputName.
//
// The file is written to a temp sibling and renamed so readers never
// observe a partially written package.
func (w *Writer) Write(pkg *pack.CompiledPackage, outputName string) (string, error) {
	if err := os.MkdirAll(w.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	target := filepath.Join(w.outDir, outputName)
	if !w.force {
		if _, err := os.Stat(target); err == nil {
			return "", fmt.Errorf("%w: %s", ErrExists, target)
		}
	}

	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode package %q: %w", pkg.PackageName, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(w.outDir, "."+outputName+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write package %q: %w", pkg.PackageName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize package %q: %w", pkg.PackageName, err)
	}
	return target, nil
}
