// SPDX-License-Identifier: MPL-2.0

// Package dispatch implements the execution engine's Dispatcher: it admits
// requests under a concurrency limit, fans the Input Fetcher and Code
// Assembler out concurrently, launches the guest in a pooled or freshly
// spawned container, and assembles the final ExecuteResult.
package dispatch
