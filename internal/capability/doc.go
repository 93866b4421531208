// SPDX-License-Identifier: MPL-2.0

// Package capability introspects the guest image's Python runtime and
// installed packages by running a one-shot probe container, caching the
// result for five minutes so /capabilities stays cheap under repeated polling.
package capability
