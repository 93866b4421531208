// SPDX-License-Identifier: MPL-2.0

package codeasm

import "log/slog"

// Assembler turns a submitted snippet into the final guest script.
type Assembler struct {
	logger *slog.Logger
}

// NewAssembler returns an Assembler. A nil logger falls back to slog.Default.
func NewAssembler(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{logger: logger}
}

// Result is the outcome of assembling one snippet.
type Result struct {
	// Script is the complete guest script to write into the workspace.
	Script string
	// Packages is the set of pip distributions the preamble will install
	// on demand, reported back to callers for logging/metrics.
	Packages []string
}

// Assemble detects the snippet's third-party package needs and returns the
// wrapped guest script.
func (a *Assembler) Assemble(code string) Result {
	normalized := Normalize(code)
	packages := DetectRequiredPackages(normalized)
	a.logger.Debug("assembled guest script", "packages", packages)
	return Result{
		Script:   Assemble(code, packages),
		Packages: packages,
	}
}
