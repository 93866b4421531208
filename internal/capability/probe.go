// SPDX-License-Identifier: MPL-2.0

package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"codebroker/internal/config"
	"codebroker/internal/container"
	"codebroker/internal/testutil"
)

// readBuildInfo is a test seam for debug.ReadBuildInfo. Production code uses
// the real implementation; tests replace it to simulate different build info
// scenarios.
//
//nolint:gochecknoglobals // Test seam requires a package-level variable.
var readBuildInfo = debug.ReadBuildInfo

// cacheTTL is how long a probe result is reused before being re-run.
const cacheTTL = 300 * time.Second

// probeTimeout bounds the one-shot introspection container.
const probeTimeout = 60 * time.Second

// Package describes one installed Python distribution.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RuntimeInfo is the result of introspecting the guest image.
type RuntimeInfo struct {
	OK                bool      `json:"ok"`
	PythonVersion     string    `json:"pythonVersion,omitempty"`
	InstalledPackages []Package `json:"installedPackages"`
	Error             string    `json:"error,omitempty"`
}

// probeScript runs inside the guest image and prints a single JSON line
// describing the Python runtime and every installed package.
const probeScript = `import json, platform
try:
    from importlib import metadata
except Exception:
    metadata = None
pkgs = {}
if metadata is not None:
    for d in metadata.distributions():
        n = (d.metadata.get("Name") or "").strip()
        if n:
            pkgs[n] = getattr(d, "version", "") or ""
items = [{"name": k, "version": v} for k, v in pkgs.items()]
items.sort(key=lambda x: x["name"].lower())
print(json.dumps({"pythonVersion": platform.python_version(), "installedPackages": items}))
`

// Prober introspects a guest image's Python runtime, caching the result
// per image reference for cacheTTL.
type Prober struct {
	engine container.Engine
	clock  testutil.Clock

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	at   time.Time
	info RuntimeInfo
}

// NewProber returns a Prober backed by engine.
func NewProber(engine container.Engine) *Prober {
	return &Prober{
		engine: engine,
		clock:  testutil.RealClock{},
		cache:  make(map[string]cacheEntry),
	}
}

// RuntimeInfo returns the cached or freshly probed runtime info for
// settings.DockerImage.
func (p *Prober) RuntimeInfo(ctx context.Context, settings *config.Settings) RuntimeInfo {
	key := settings.DockerImage
	now := p.clock.Now()

	p.mu.Lock()
	if entry, ok := p.cache[key]; ok && now.Sub(entry.at) < cacheTTL {
		p.mu.Unlock()
		return entry.info
	}
	p.mu.Unlock()

	info := p.probe(ctx, settings)

	p.mu.Lock()
	p.cache[key] = cacheEntry{at: now, info: info}
	p.mu.Unlock()

	return info
}

// probe runs a one-shot guest container to introspect the image directly.
func (p *Prober) probe(ctx context.Context, settings *config.Settings) RuntimeInfo {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	result, err := p.engine.Run(ctx, container.RunOptions{
		Image:       settings.DockerImage,
		Command:     []string{"python", "-c", probeScript},
		Remove:      true,
		NetworkMode: settings.DockerNetworkMode,
		MemoryLimit: "1g",
		CPULimit:    "1",
		PidsLimit:   settings.DockerPidsLimit,
		Stdout:      &stdout,
		Stderr:      &stderr,
	})
	if err != nil {
		return RuntimeInfo{OK: false, Error: err.Error(), InstalledPackages: localPackageFallback()}
	}
	if result.ExitCode != 0 {
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = strings.TrimSpace(stdout.String())
		}
		if message == "" {
			message = "guest probe failed"
		}
		return RuntimeInfo{OK: false, Error: message, InstalledPackages: localPackageFallback()}
	}

	var payload struct {
		PythonVersion     string    `json:"pythonVersion"`
		InstalledPackages []Package `json:"installedPackages"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &payload); err != nil {
		return RuntimeInfo{
			OK:                false,
			Error:             fmt.Sprintf("invalid json output from guest image: %v", err),
			InstalledPackages: localPackageFallback(),
		}
	}

	return RuntimeInfo{
		OK:                true,
		PythonVersion:     payload.PythonVersion,
		InstalledPackages: payload.InstalledPackages,
	}
}

// localPackageFallback reports the broker's own module dependencies when the
// guest image can't be probed directly, mirroring
// common/capabilities.py's _list_installed_packages fallback: the
// /capabilities response still carries a non-empty package list rather than
// nothing, just describing the broker's environment instead of the guest's.
func localPackageFallback() []Package {
	info, ok := readBuildInfo()
	if !ok {
		return nil
	}
	packages := make([]Package, 0, len(info.Deps))
	for _, dep := range info.Deps {
		packages = append(packages, Package{Name: dep.Path, Version: dep.Version})
	}
	SortPackages(packages)
	return packages
}

// NetworkPolicy describes the guest network posture reported by /capabilities.
type NetworkPolicy struct {
	ExecutorNetworkMode    string `json:"executorNetworkMode"`
	InternetAccess         bool   `json:"internetAccess"`
	SupportsHTTPInputFiles bool   `json:"supportsHttpInputFiles"`
	SupportsPipInstall     bool   `json:"supportsPipInstall"`
	Introspection          struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	} `json:"introspection"`
}

// DeriveNetworkPolicy builds the network policy block from settings and a
// prior probe's runtime info; internet access and pip install both follow
// from the guest not being network-isolated.
func DeriveNetworkPolicy(settings *config.Settings, info RuntimeInfo) NetworkPolicy {
	internetAccess := !strings.EqualFold(strings.TrimSpace(settings.DockerNetworkMode), "none")
	policy := NetworkPolicy{
		ExecutorNetworkMode:    settings.DockerNetworkMode,
		InternetAccess:         internetAccess,
		SupportsHTTPInputFiles: true,
		SupportsPipInstall:     internetAccess,
	}
	policy.Introspection.OK = info.OK
	policy.Introspection.Error = info.Error
	return policy
}

// SortPackages sorts packages by case-insensitive name, matching the
// guest probe's own ordering so repeated calls are stable.
func SortPackages(packages []Package) {
	sort.Slice(packages, func(i, j int) bool {
		return strings.ToLower(packages[i].Name) < strings.ToLower(packages[j].Name)
	})
}
