// SPDX-License-Identifier: MPL-2.0

// Package inputfetch downloads a request's remote input-file URLs into the
// execution workspace, deriving safe local filenames and enforcing the
// per-file and per-request size and count budgets.
package inputfetch
