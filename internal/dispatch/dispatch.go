// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"codebroker/internal/capability"
	"codebroker/internal/codeasm"
	"codebroker/internal/config"
	"codebroker/internal/container"
	"codebroker/internal/inputfetch"
	"codebroker/internal/metrics"
	"codebroker/internal/outputs"
	"codebroker/internal/pool"
	"codebroker/internal/workspace"
	"codebroker/pkg/contracts"
	"codebroker/pkg/types"
)

// Dispatcher is the broker's execution engine: it admits requests under a
// concurrency limit, assembles the guest script and input files
// concurrently, runs the guest in a pooled or one-shot container, and
// harvests the result. It implements contracts.ExecutionService.
type Dispatcher struct {
	settings   *config.Settings
	engine     container.Engine
	workspaces *workspace.Manager
	assembler  *codeasm.Assembler
	fetcher    *inputfetch.Fetcher
	collector  *outputs.Collector
	pool       *pool.Pool
	prober     *capability.Prober
	launcher   *guestLauncher
	admission  *semaphore.Weighted
	logger     *slog.Logger
	metrics    *metrics.Metrics

	initOnce    sync.Once
	keepAlive   context.CancelFunc
	keepAliveWG sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics overrides the Dispatcher's (and its pool's) Metrics instance,
// so tests can assert on admission/guest-run counters registered against an
// isolated registry instead of the process-wide default.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New wires a Dispatcher's collaborators. workspaceBaseDir is the host
// directory under which per-execution workspace trees are created.
func New(settings *config.Settings, engine container.Engine, workspaceBaseDir string, logger *slog.Logger, opts ...Option) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	workspaces, err := workspace.NewManager(types.FilesystemPath(workspaceBaseDir), logger)
	if err != nil {
		return nil, fmt.Errorf("create workspace manager: %w", err)
	}

	d := &Dispatcher{
		settings:   settings,
		engine:     engine,
		workspaces: workspaces,
		assembler:  codeasm.NewAssembler(logger),
		fetcher:    inputfetch.NewFetcher(settings, logger),
		collector:  outputs.NewCollector(settings),
		prober:     capability.NewProber(engine),
		launcher:   newGuestLauncher(engine, settings, logger),
		admission:  semaphore.NewWeighted(int64(max(settings.MaxWorkers, 1))),
		logger:     logger,
		metrics:    metrics.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pool = pool.New(engine, settings, logger, pool.WithMetrics(d.metrics))
	return d, nil
}

// Initialize warms the container pool and starts its keep-alive loop. It is
// safe to call only once; later calls are no-ops.
func (d *Dispatcher) Initialize(ctx context.Context) error {
	d.initOnce.Do(func() {
		d.pool.EnsureWarm(ctx)

		keepAliveCtx, cancel := context.WithCancel(context.Background())
		d.keepAlive = cancel
		d.keepAliveWG.Add(1)
		go func() {
			defer d.keepAliveWG.Done()
			d.pool.KeepAliveLoop(keepAliveCtx)
		}()
	})
	return nil
}

// Shutdown stops the keep-alive loop and removes every pool member.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if d.keepAlive != nil {
		d.keepAlive()
	}
	d.keepAliveWG.Wait()
	d.pool.Shutdown(ctx)
	return nil
}

// RuntimeInfo reports the guest image's introspected Python runtime and the
// network policy it implies, for a /capabilities-style collaborator.
func (d *Dispatcher) RuntimeInfo(ctx context.Context) (capability.RuntimeInfo, capability.NetworkPolicy) {
	info := d.prober.RuntimeInfo(ctx, d.settings)
	return info, capability.DeriveNetworkPolicy(d.settings, info)
}

// Execute runs one request end to end. It only returns a non-nil error when
// the request could not even be admitted (e.g. ctx cancelled while waiting
// for a worker slot); every failure past that point — fetch, assembly,
// guest launch, timeout — is folded into the returned result's Stderr, so
// callers always get a result to report back downstream.
func (d *Dispatcher) Execute(ctx context.Context, req contracts.ExecuteRequest) (*contracts.ExecuteResult, error) {
	if err := d.admission.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("admit execution request: %w", err)
	}
	d.metrics.AdmissionInFlight.Inc()
	defer d.metrics.AdmissionInFlight.Dec()
	defer d.admission.Release(1)

	start := time.Now()
	id := contracts.NewExecutionID()
	ws := d.workspaces.Paths(id)
	defer d.workspaces.Destroy(ws)

	var assembled codeasm.Result
	var fetched *inputfetch.Result

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		assembled = d.assembler.Assemble(req.Code)
		return nil
	})
	group.Go(func() error {
		result, err := d.fetcher.FetchAll(gctx, req.Files, ws.InputDir)
		if err != nil {
			return err
		}
		fetched = result
		return nil
	})

	if err := group.Wait(); err != nil {
		return d.failed(id, start, fmt.Sprintf("prepare execution: %v", err)), nil
	}

	if err := d.workspaces.Materialize(ws, assembled.Script); err != nil {
		return d.failed(id, start, fmt.Sprintf("materialize workspace: %v", err)), nil
	}

	result := d.runGuest(ctx, ws)

	outputFiles, err := d.collector.PersistFiles(id.String(), string(ws.OutputDir))
	if err != nil {
		d.logger.Warn("failed to persist output files", "execution_id", id, "error", err)
	}
	imageFilename, err := d.collector.PersistImage(id.String(), string(ws.OutputDir))
	if err != nil {
		d.logger.Warn("failed to persist chart image", "execution_id", id, "error", err)
	}

	out := &contracts.ExecuteResult{
		Stdout:        result.Stdout,
		ExecutionTime: time.Since(start).Seconds(),
		Files:         outputFiles,
		Inputs:        fetched.Files,
	}
	if result.Stderr != "" {
		stderr := result.Stderr
		out.Stderr = &stderr
	}
	if imageFilename != "" {
		out.ImageFilename = &imageFilename
	}
	return out, nil
}

// runGuest acquires a pooled container when one is available, falling back
// to a one-shot container otherwise, and records the run's outcome.
func (d *Dispatcher) runGuest(ctx context.Context, ws *workspace.Workspace) runResult {
	runStart := time.Now()

	var result runResult
	if name, ok := d.pool.Acquire(); ok {
		defer d.pool.Release(name)
		result = d.launcher.Run(ctx, ws, name, true)
	} else {
		name := fmt.Sprintf("codebroker_exec_%s", time.Now().Format("20060102150405.000000000"))
		result = d.launcher.Run(ctx, ws, name, false)
	}

	outcome := metrics.OutcomeOK
	switch {
	case result.Stderr == "Execution timeout":
		outcome = metrics.OutcomeTimeout
	case result.Stderr != "":
		outcome = metrics.OutcomeFailed
	}
	d.metrics.RecordGuestRun(outcome, time.Since(runStart))

	return result
}

// failed builds an ExecuteResult reporting a pre-guest-launch failure.
func (d *Dispatcher) failed(id contracts.ExecutionID, start time.Time, message string) *contracts.ExecuteResult {
	return &contracts.ExecuteResult{
		Stdout:        "",
		Stderr:        &message,
		ExecutionTime: time.Since(start).Seconds(),
	}
}
