// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"codebroker/internal/config"
	"codebroker/internal/container"
	"codebroker/internal/metrics"
	"codebroker/internal/testutil"
	"codebroker/pkg/contracts"
)

// fakeEngine is a minimal in-memory container.Engine for dispatch tests: it
// simulates a guest that writes a fixed line of stdout and exits 0.
type fakeEngine struct {
	mu      sync.Mutex
	running map[string]bool
	stdout  string
}

func newFakeEngine(stdout string) *fakeEngine {
	return &fakeEngine{running: make(map[string]bool), stdout: stdout}
}

func (f *fakeEngine) Name() string    { return "fake" }
func (f *fakeEngine) Available() bool { return true }

func (f *fakeEngine) Version(context.Context) (string, error) { return "0", nil }
func (f *fakeEngine) Build(context.Context, container.BuildOptions) error { return nil }

func (f *fakeEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	f.mu.Lock()
	f.running[opts.Name] = true
	f.mu.Unlock()
	if opts.Stdout != nil {
		opts.Stdout.Write([]byte(f.stdout))
	}
	return &container.RunResult{ContainerID: opts.Name, ExitCode: 0}, nil
}

func (f *fakeEngine) Remove(_ context.Context, containerID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, containerID)
	return nil
}

func (f *fakeEngine) ImageExists(context.Context, string) (bool, error) { return true, nil }
func (f *fakeEngine) RemoveImage(context.Context, string, bool) error   { return nil }
func (f *fakeEngine) BinaryPath() string                               { return "/usr/bin/fake" }
func (f *fakeEngine) BuildRunArgs(container.RunOptions) []string        { return nil }

func (f *fakeEngine) Exec(_ context.Context, containerID string, _ []string, opts container.RunOptions) (*container.RunResult, error) {
	if opts.Stdout != nil {
		opts.Stdout.Write([]byte(f.stdout))
	}
	return &container.RunResult{ContainerID: containerID, ExitCode: 0}, nil
}

func (f *fakeEngine) Inspect(_ context.Context, containerID string) (*container.InspectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running := f.running[containerID]
	return &container.InspectResult{Exists: running, Running: running}, nil
}

func (f *fakeEngine) Stop(context.Context, string, time.Duration) error      { return nil }
func (f *fakeEngine) CopyTo(context.Context, string, string, string) error   { return nil }
func (f *fakeEngine) CopyFrom(context.Context, string, string, string) error { return nil }

func testSettings(t *testing.T, maxWorkers int) *config.Settings {
	t.Helper()
	s := config.Default()
	s.MaxWorkers = maxWorkers
	s.FileStorePath = t.TempDir()
	s.ImageStorePath = t.TempDir()
	return s
}

func TestExecute_OneShotPath(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine("hello\n")
	d, err := New(testSettings(t, 0), engine, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := d.Execute(t.Context(), contracts.ExecuteRequest{Code: "print('hello')"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hello\n")
	}
	if result.Failed() {
		t.Errorf("Failed() = true, want false; Stderr = %v", result.Stderr)
	}
}

func TestExecute_PooledPath(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine("pooled output\n")
	d, err := New(testSettings(t, 2), engine, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := d.Initialize(t.Context()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer d.Shutdown(t.Context())

	result, err := d.Execute(t.Context(), contracts.ExecuteRequest{Code: "print('pooled')"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Stdout != "pooled output\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "pooled output\n")
	}
}

func TestExecute_AdmissionRejectsOnCancelledContext(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine("")
	d, err := New(testSettings(t, 1), engine, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := d.Execute(ctx, contracts.ExecuteRequest{Code: "print(1)"}); err == nil {
		t.Fatal("Execute() with cancelled context error = nil, want non-nil")
	}
}

func TestExecute_TooManyInputFilesReportsStderr(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine("")
	settings := testSettings(t, 0)
	settings.InputMaxFiles = 0
	d, err := New(settings, engine, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := d.Execute(t.Context(), contracts.ExecuteRequest{
		Code:  "print(1)",
		Files: []string{"https://example.com/input.csv"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Failed() {
		t.Fatal("Failed() = false, want true (input file count exceeds limit)")
	}
}

func TestExecute_RecordsMetricsOnIsolatedRegistry(t *testing.T) {
	t.Parallel()

	reg := testutil.NewPedanticRegistry()
	m := metrics.New(reg)

	engine := newFakeEngine("metered\n")
	d, err := New(testSettings(t, 0), engine, t.TempDir(), nil, WithMetrics(m))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := d.Execute(t.Context(), contracts.ExecuteRequest{Code: "print('metered')"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got := promtestutil.ToFloat64(m.AdmissionInFlight); got != 0 {
		t.Errorf("AdmissionInFlight = %v, want 0 after Execute returns", got)
	}
	if got := promtestutil.ToFloat64(m.GuestRunsTotal.WithLabelValues(metrics.OutcomeOK)); got != 1 {
		t.Errorf("GuestRunsTotal{outcome=ok} = %v, want 1", got)
	}
}
