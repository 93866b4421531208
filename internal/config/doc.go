// SPDX-License-Identifier: MPL-2.0

// Package config loads the broker's Settings from the environment via Viper,
// optionally layered over a TOML file for local overrides.
package config
