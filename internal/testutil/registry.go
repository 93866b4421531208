// SPDX-License-Identifier: MPL-2.0

package testutil

import "github.com/prometheus/client_golang/prometheus"

// NewPedanticRegistry returns a fresh Prometheus registry for a single
// test's metrics assertions, isolated from the process-wide default
// registry and from every other test's registrations.
func NewPedanticRegistry() *prometheus.Registry {
	return prometheus.NewPedanticRegistry()
}
