// SPDX-License-Identifier: MPL-2.0

package config

import "context"

// Provider loads Settings. It exists so components under test can inject a
// fixed configuration without touching the environment or filesystem.
type Provider interface {
	Load(ctx context.Context) (*Settings, error)
}

type envProvider struct{}

// NewProvider returns the default Provider, which reads Settings from the
// environment (optionally layered over a local TOML override file).
func NewProvider() Provider {
	return &envProvider{}
}

// Load implements Provider.
func (p *envProvider) Load(_ context.Context) (*Settings, error) {
	return Load()
}

// StaticProvider is a Provider that always returns a fixed Settings value,
// for tests.
type StaticProvider struct {
	Settings *Settings
}

// Load implements Provider.
func (p *StaticProvider) Load(_ context.Context) (*Settings, error) {
	return p.Settings, nil
}
