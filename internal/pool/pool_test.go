// SPDX-License-Identifier: MPL-2.0

package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"codebroker/internal/config"
	"codebroker/internal/container"
	"codebroker/internal/metrics"
	"codebroker/internal/testutil"
)

// fakeEngine is a minimal in-memory container.Engine for pool tests.
type fakeEngine struct {
	mu         sync.Mutex
	running    map[string]bool
	execCalls  []string
	runErr     map[string]error
	inspectErr map[string]error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		running:    make(map[string]bool),
		runErr:     make(map[string]error),
		inspectErr: make(map[string]error),
	}
}

func (f *fakeEngine) Name() string        { return "fake" }
func (f *fakeEngine) Available() bool     { return true }
func (f *fakeEngine) Version(context.Context) (string, error) { return "0", nil }

func (f *fakeEngine) Build(context.Context, container.BuildOptions) error { return nil }

func (f *fakeEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.runErr[opts.Name]; err != nil {
		return nil, err
	}
	f.running[opts.Name] = true
	return &container.RunResult{ContainerID: opts.Name}, nil
}

func (f *fakeEngine) Remove(_ context.Context, containerID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, containerID)
	return nil
}

func (f *fakeEngine) ImageExists(context.Context, string) (bool, error)   { return true, nil }
func (f *fakeEngine) RemoveImage(context.Context, string, bool) error     { return nil }
func (f *fakeEngine) BinaryPath() string                                 { return "/usr/bin/fake" }
func (f *fakeEngine) BuildRunArgs(container.RunOptions) []string         { return nil }

func (f *fakeEngine) Exec(_ context.Context, containerID string, command []string, _ container.RunOptions) (*container.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls = append(f.execCalls, containerID+":"+fmt.Sprint(command))
	return &container.RunResult{ContainerID: containerID}, nil
}

func (f *fakeEngine) Inspect(_ context.Context, containerID string) (*container.InspectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.inspectErr[containerID]; err != nil {
		return nil, err
	}
	running, exists := f.running[containerID]
	return &container.InspectResult{Exists: exists, Running: running && exists}, nil
}

func (f *fakeEngine) Stop(context.Context, string, time.Duration) error { return nil }
func (f *fakeEngine) CopyTo(context.Context, string, string, string) error { return nil }
func (f *fakeEngine) CopyFrom(context.Context, string, string, string) error { return nil }

func testPoolSettings(size int) *config.Settings {
	s := config.Default()
	s.MaxWorkers = size
	return s
}

func TestEnsureWarm_StartsDesiredMembers(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	p := New(engine, testPoolSettings(2), nil)
	p.EnsureWarm(t.Context())

	for _, name := range []string{"pool_0", "pool_1"} {
		if !engine.running[name] {
			t.Errorf("expected %s to be running", name)
		}
	}
}

func TestAcquireRelease_RoundTrip(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	p := New(engine, testPoolSettings(1), nil)
	p.EnsureWarm(t.Context())

	name, ok := p.Acquire()
	if !ok {
		t.Fatal("Acquire() ok = false, want true")
	}
	if _, ok := p.Acquire(); ok {
		t.Fatal("second Acquire() ok = true, want false (pool exhausted)")
	}

	p.Release(name)
	if _, ok := p.Acquire(); !ok {
		t.Fatal("Acquire() after Release() ok = false, want true")
	}
}

func TestEnsureWarm_SkipsInUseMembers(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	p := New(engine, testPoolSettings(1), nil)
	p.EnsureWarm(t.Context())

	name, _ := p.Acquire()
	p.EnsureWarm(t.Context())

	if _, ok := p.available[name]; ok {
		t.Errorf("in-use member %q reappeared in available set", name)
	}
}

func TestKeepAliveLoop_StopsOnShutdown(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	clock := testutil.NewFakeClock(time.Time{})
	p := New(engine, testPoolSettings(1), nil, WithClock(clock), WithKeepAliveInterval(time.Second))

	go p.KeepAliveLoop(t.Context())
	p.Shutdown(t.Context())

	if engine.running["pool_0"] {
		t.Error("expected pool member removed after Shutdown()")
	}
}

func TestEnsureWarm_ObservesOccupancyOnIsolatedRegistry(t *testing.T) {
	t.Parallel()

	reg := testutil.NewPedanticRegistry()
	m := metrics.New(reg)

	engine := newFakeEngine()
	p := New(engine, testPoolSettings(2), nil, WithMetrics(m))
	p.EnsureWarm(t.Context())

	if got := promtestutil.ToFloat64(m.PoolAvailable); got != 2 {
		t.Errorf("PoolAvailable = %v, want 2", got)
	}
	if got := promtestutil.ToFloat64(m.PoolInUse); got != 0 {
		t.Errorf("PoolInUse = %v, want 0", got)
	}

	name, _ := p.Acquire()
	if got := promtestutil.ToFloat64(m.PoolInUse); got != 1 {
		t.Errorf("PoolInUse after Acquire() = %v, want 1", got)
	}

	p.Release(name)
	if got := promtestutil.ToFloat64(m.PoolAvailable); got != 2 {
		t.Errorf("PoolAvailable after Release() = %v, want 2", got)
	}
}
