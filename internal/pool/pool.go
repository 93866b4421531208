// SPDX-License-Identifier: MPL-2.0

package pool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"codebroker/internal/config"
	"codebroker/internal/container"
	"codebroker/internal/metrics"
	"codebroker/internal/testutil"
)

// commonPackages are pip-installed into every pool member right after it
// comes up, so the first request dispatched to it doesn't pay install cost.
var commonPackages = []string{"numpy", "pandas", "matplotlib"}

// memberNamePrefix names every pool container "pool_0", "pool_1", ...
const memberNamePrefix = "pool_"

// Pool maintains a warm set of long-lived sandbox containers and self-heals
// it on a keep-alive interval.
type Pool struct {
	engine   container.Engine
	settings *config.Settings
	logger   *slog.Logger
	clock    testutil.Clock
	metrics  *metrics.Metrics

	keepAliveInterval time.Duration

	mu        sync.Mutex
	available map[string]struct{}
	inUse     map[string]struct{}

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides the pool's clock, for deterministic keep-alive tests.
func WithClock(clock testutil.Clock) Option {
	return func(p *Pool) { p.clock = clock }
}

// WithKeepAliveInterval overrides how often EnsureWarm reruns in KeepAliveLoop.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(p *Pool) { p.keepAliveInterval = d }
}

// WithMetrics overrides the pool's Metrics instance, so tests can assert on
// occupancy gauges registered against an isolated registry instead of the
// process-wide default.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New returns a Pool backed by engine, sized by settings.PoolSize().
func New(engine container.Engine, settings *config.Settings, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		engine:            engine,
		settings:          settings,
		logger:            logger,
		clock:             testutil.RealClock{},
		metrics:           metrics.Default(),
		keepAliveInterval: 60 * time.Second,
		available:         make(map[string]struct{}),
		inUse:             make(map[string]struct{}),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// memberNames returns the pool's desired deterministic member names.
func (p *Pool) memberNames() []string {
	names := make([]string, p.settings.PoolSize())
	for i := range names {
		names[i] = fmt.Sprintf("%s%d", memberNamePrefix, i)
	}
	return names
}

// runArgs builds the RunOptions for a freshly created pool member: it sleeps
// forever so Exec can be used against it repeatedly.
func (p *Pool) runArgs(name string) container.RunOptions {
	return container.RunOptions{
		Image:           p.settings.DockerImage,
		Command:         []string{"tail", "-f", "/dev/null"},
		Name:            name,
		NetworkMode:     p.settings.DockerNetworkMode,
		MemoryLimit:     "1g",
		CPULimit:        "1",
		PidsLimit:       p.settings.DockerPidsLimit,
		CapDrop:         []string{"ALL"},
		NoNewPrivileges: true,
		Init:            true,
		RestartPolicy:   "unless-stopped",
	}
}

// EnsureWarm brings every desired pool member up to a running state,
// reusing containers already running under the expected name, recreating
// ones that exist but are stopped, and skipping any member currently
// checked out by Acquire. It never returns an error: a member the engine
// can't start is simply left out of the available set until the next call.
func (p *Pool) EnsureWarm(ctx context.Context) {
	desired := p.memberNames()
	notWarm := make(map[string]struct{})

	for _, name := range desired {
		p.mu.Lock()
		_, inUse := p.inUse[name]
		p.mu.Unlock()
		if inUse {
			continue
		}
		if err := p.ensureMemberRunning(ctx, name); err != nil {
			p.logger.Warn("pool member not warm", "container", name, "error", err)
			notWarm[name] = struct{}{}
		}
	}

	p.mu.Lock()
	p.available = make(map[string]struct{})
	for _, name := range desired {
		if _, inUse := p.inUse[name]; inUse {
			continue
		}
		if _, failed := notWarm[name]; failed {
			continue
		}
		p.available[name] = struct{}{}
	}
	available, inUse := len(p.available), len(p.inUse)
	p.mu.Unlock()

	p.metrics.ObservePoolOccupancy(available, inUse)
}

// ensureMemberRunning creates or recreates one pool member so that it ends
// up running, reusing it in place if it's already up.
func (p *Pool) ensureMemberRunning(ctx context.Context, name string) error {
	inspect, err := p.engine.Inspect(ctx, name)
	if err != nil {
		return err
	}
	if inspect.Exists && inspect.Running {
		return nil
	}
	if inspect.Exists && !inspect.Running {
		if err := p.engine.Remove(ctx, name, true); err != nil {
			p.logger.Warn("failed to remove stopped pool member", "container", name, "error", err)
		}
	}
	return p.createMember(ctx, name)
}

// createMember starts a fresh pool container under name, recovering from a
// name-already-in-use race by reusing the running container or removing and
// retrying once.
func (p *Pool) createMember(ctx context.Context, name string) error {
	_, err := p.engine.Run(ctx, p.runArgs(name))
	if err == nil {
		p.preinstallCommonPackages(ctx, name)
		return nil
	}

	if !strings.Contains(err.Error(), "already in use") && !strings.Contains(err.Error(), "Conflict") {
		return err
	}

	inspect, inspectErr := p.engine.Inspect(ctx, name)
	if inspectErr == nil && inspect.Running {
		return nil
	}
	if removeErr := p.engine.Remove(ctx, name, true); removeErr != nil {
		p.logger.Warn("failed to remove conflicting pool member", "container", name, "error", removeErr)
	}
	if _, err := p.engine.Run(ctx, p.runArgs(name)); err != nil {
		return err
	}
	p.preinstallCommonPackages(ctx, name)
	return nil
}

// preinstallCommonPackages best-effort installs the packages every sandbox
// request is likely to need, so the warm pool pays that cost once up front.
func (p *Pool) preinstallCommonPackages(ctx context.Context, name string) {
	for _, pkg := range commonPackages {
		_, err := p.engine.Exec(ctx, name, []string{"pip", "install", "--user", pkg}, container.RunOptions{})
		if err != nil {
			p.logger.Debug("preinstall failed", "container", name, "package", pkg, "error", err)
		}
	}
}

// Acquire checks out an available pool member, or reports none free.
func (p *Pool) Acquire() (string, bool) {
	p.mu.Lock()
	var name string
	var ok bool
	for n := range p.available {
		delete(p.available, n)
		p.inUse[n] = struct{}{}
		name, ok = n, true
		break
	}
	available, inUse := len(p.available), len(p.inUse)
	p.mu.Unlock()

	if ok {
		p.metrics.ObservePoolOccupancy(available, inUse)
	}
	return name, ok
}

// Release returns a pool member checked out by Acquire back to the
// available set. A name that isn't currently checked out (a double release,
// or a member EnsureWarm has already retired) is ignored rather than
// re-admitted, so a stale caller can't reintroduce a member the pool no
// longer considers valid.
func (p *Pool) Release(name string) {
	p.mu.Lock()
	if _, ok := p.inUse[name]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inUse, name)
	p.available[name] = struct{}{}
	available, inUse := len(p.available), len(p.inUse)
	p.mu.Unlock()

	p.metrics.ObservePoolOccupancy(available, inUse)
}

// KeepAliveLoop runs EnsureWarm every keep-alive interval until Shutdown is
// called. It's meant to run in its own goroutine for the life of the process.
func (p *Pool) KeepAliveLoop(ctx context.Context) {
	p.started.Store(true)
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		p.EnsureWarm(ctx)
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-p.clock.After(p.keepAliveInterval):
			continue
		}
	}
}

// Shutdown stops the keep-alive loop and removes every pool member.
func (p *Pool) Shutdown(ctx context.Context) {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}

	for _, name := range p.memberNames() {
		if err := p.engine.Remove(ctx, name, true); err != nil {
			p.logger.Warn("failed to remove pool member on shutdown", "container", name, "error", err)
		}
	}
	p.metrics.ObservePoolOccupancy(0, 0)
}
