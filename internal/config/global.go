// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride lets tests redirect ConfigDir() without touching HOME,
// which os.UserHomeDir() doesn't reliably respect across platforms.
//
// Not concurrency-safe: set only during test setup and cleared via Reset()
// before running tests in parallel.
var configDirOverride string

// SetConfigDirOverride points ConfigDir() at dir instead of the platform's
// real XDG/AppData location.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// Reset clears test overrides set via SetConfigDirOverride.
func Reset() {
	configDirOverride = ""
}
