// SPDX-License-Identifier: MPL-2.0

// Package outputs harvests a finished execution's output directory into the
// broker's persistent, URL-addressable file and image stores.
package outputs
