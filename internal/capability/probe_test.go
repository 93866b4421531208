// SPDX-License-Identifier: MPL-2.0

package capability

import (
	"context"
	"runtime/debug"
	"testing"
	"time"

	"codebroker/internal/config"
	"codebroker/internal/container"
	"codebroker/internal/testutil"
)

type stubEngine struct {
	container.Engine
	stdout  string
	exit    int
	runErr  error
	calls   int
}

func (s *stubEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	s.calls++
	if s.runErr != nil {
		return nil, s.runErr
	}
	if opts.Stdout != nil {
		opts.Stdout.Write([]byte(s.stdout))
	}
	return &container.RunResult{ExitCode: s.exit}, nil
}

func TestRuntimeInfo_ParsesProbeOutput(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{stdout: `{"pythonVersion":"3.11.4","installedPackages":[{"name":"numpy","version":"1.26.0"}]}`}
	p := NewProber(engine)

	info := p.RuntimeInfo(t.Context(), config.Default())
	if !info.OK {
		t.Fatalf("RuntimeInfo().OK = false, error = %q", info.Error)
	}
	if info.PythonVersion != "3.11.4" {
		t.Errorf("PythonVersion = %q, want 3.11.4", info.PythonVersion)
	}
	if len(info.InstalledPackages) != 1 || info.InstalledPackages[0].Name != "numpy" {
		t.Errorf("InstalledPackages = %+v", info.InstalledPackages)
	}
}

func TestRuntimeInfo_CachesWithinTTL(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{stdout: `{"pythonVersion":"3.11.4","installedPackages":[]}`}
	p := NewProber(engine)
	clock := testutil.NewFakeClock(time.Time{})
	p.clock = clock

	settings := config.Default()
	p.RuntimeInfo(t.Context(), settings)
	p.RuntimeInfo(t.Context(), settings)
	if engine.calls != 1 {
		t.Errorf("calls = %d, want 1 (second call should hit cache)", engine.calls)
	}

	clock.Advance(cacheTTL + time.Second)
	p.RuntimeInfo(t.Context(), settings)
	if engine.calls != 2 {
		t.Errorf("calls = %d, want 2 (cache should expire)", engine.calls)
	}
}

func TestRuntimeInfo_NonZeroExitReportsError(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{exit: 1, stdout: ""}
	p := NewProber(engine)

	info := p.RuntimeInfo(t.Context(), config.Default())
	if info.OK {
		t.Error("RuntimeInfo().OK = true, want false")
	}
}

func TestRuntimeInfo_FailureFallsBackToLocalPackageList(t *testing.T) {
	orig := readBuildInfo
	defer func() { readBuildInfo = orig }()
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Deps: []*debug.Module{
				{Path: "github.com/google/uuid", Version: "v1.6.0"},
				{Path: "golang.org/x/sync", Version: "v0.19.0"},
			},
		}, true
	}

	engine := &stubEngine{exit: 1, stdout: "boom"}
	p := NewProber(engine)

	info := p.RuntimeInfo(t.Context(), config.Default())
	if info.OK {
		t.Fatal("RuntimeInfo().OK = true, want false")
	}
	if len(info.InstalledPackages) != 2 {
		t.Fatalf("InstalledPackages = %+v, want 2 fallback entries", info.InstalledPackages)
	}
	if info.InstalledPackages[0].Name != "github.com/google/uuid" {
		t.Errorf("InstalledPackages[0].Name = %q, want github.com/google/uuid", info.InstalledPackages[0].Name)
	}
}

func TestRuntimeInfo_FailureWithNoBuildInfoReturnsEmptyFallback(t *testing.T) {
	orig := readBuildInfo
	defer func() { readBuildInfo = orig }()
	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }

	engine := &stubEngine{exit: 1, stdout: "boom"}
	p := NewProber(engine)

	info := p.RuntimeInfo(t.Context(), config.Default())
	if info.InstalledPackages != nil {
		t.Errorf("InstalledPackages = %+v, want nil", info.InstalledPackages)
	}
}

func TestDeriveNetworkPolicy_NoneModeDisablesInternet(t *testing.T) {
	t.Parallel()

	settings := config.Default()
	settings.DockerNetworkMode = "none"

	policy := DeriveNetworkPolicy(settings, RuntimeInfo{OK: true})
	if policy.InternetAccess {
		t.Error("InternetAccess = true for network mode none")
	}
	if policy.SupportsPipInstall {
		t.Error("SupportsPipInstall = true for network mode none")
	}
	if !policy.SupportsHTTPInputFiles {
		t.Error("SupportsHTTPInputFiles = false, want true (independent of network mode)")
	}
}

func TestDeriveNetworkPolicy_BridgeModeEnablesInternet(t *testing.T) {
	t.Parallel()

	settings := config.Default()
	settings.DockerNetworkMode = "bridge"

	policy := DeriveNetworkPolicy(settings, RuntimeInfo{OK: true})
	if !policy.InternetAccess || !policy.SupportsPipInstall {
		t.Error("expected internet access and pip install enabled for bridge mode")
	}
}

func TestSortPackages_CaseInsensitive(t *testing.T) {
	t.Parallel()

	packages := []Package{{Name: "numpy"}, {Name: "Beautifulsoup4"}, {Name: "aiohttp"}}
	SortPackages(packages)

	want := []string{"aiohttp", "Beautifulsoup4", "numpy"}
	for i, pkg := range packages {
		if pkg.Name != want[i] {
			t.Errorf("SortPackages()[%d] = %q, want %q", i, pkg.Name, want[i])
		}
	}
}
