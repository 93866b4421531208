// SPDX-License-Identifier: MPL-2.0

// Package pool maintains a warm pool of long-lived sandbox containers,
// self-healing it on a periodic keep-alive loop and handing members out to
// the Dispatcher under mutex discipline.
package pool
