// SPDX-License-Identifier: MPL-2.0

// Package metrics declares the broker's Prometheus instrumentation: pool
// occupancy, admission concurrency, and guest run outcomes.
package metrics
