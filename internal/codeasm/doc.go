// SPDX-License-Identifier: MPL-2.0

// Package codeasm assembles the final guest script from a submitted snippet:
// it statically detects which third-party packages the snippet needs, and
// wraps the snippet with an install preamble and, for charting code, a
// save-and-close epilogue.
package codeasm
