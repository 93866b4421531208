// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling: ActionableError/ErrorContext
// build operation/resource/suggestion-bearing errors, and Category/Classify
// map them onto the execution service's error taxonomy.
package issue
