// SPDX-License-Identifier: MPL-2.0

// Package workspace creates and tears down the per-execution host directory
// tree (code, input, output) that is mounted or copied into a guest container.
package workspace
