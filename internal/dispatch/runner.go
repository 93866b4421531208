// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codebroker/internal/config"
	"codebroker/internal/container"
	"codebroker/internal/workspace"
	"codebroker/pkg/types"
)

// stopGrace bounds how long Stop waits before killing a one-shot container
// that overran its timeout.
const stopGrace = 2 * time.Second

// guestLauncher runs the assembled script inside a container, pooled or
// freshly spawned, and reports its stdout and any error text. It never
// returns a Go error for guest-side failures: timeouts, non-zero exits, and
// infrastructure hiccups are all folded into the returned error text, the
// same way the original broker's run_result dict carried a single "error"
// key regardless of cause.
type guestLauncher struct {
	engine   container.Engine
	settings *config.Settings
	logger   *slog.Logger
}

func newGuestLauncher(engine container.Engine, settings *config.Settings, logger *slog.Logger) *guestLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &guestLauncher{engine: engine, settings: settings, logger: logger}
}

// runResult is one guest run's outcome.
type runResult struct {
	Stdout string
	Stderr string
}

// exitMessage turns a non-zero container exit code and its captured stderr
// into the text reported to the caller. Codes 125/126 come from the
// container engine itself failing to even start the guest process, not from
// the guest script, so they're labelled distinctly from an ordinary
// non-zero exit.
func exitMessage(exitCode int, stderr string) string {
	code := types.ExitCode(exitCode)
	message := strings.TrimSpace(stderr)
	if code.IsTransient() {
		if message == "" {
			message = fmt.Sprintf("container engine exit code %s", code)
		}
		return "sandbox infrastructure error: " + message
	}
	return message
}

// timeout is the unified host-side wall-clock budget for both the pooled
// and one-shot launch paths: the guest's own EXECUTION_TIMEOUT plus a fixed
// grace period for the broker to observe and report the overrun cleanly.
func (g *guestLauncher) timeout() time.Duration {
	return time.Duration(g.settings.ExecutionTimeoutSeconds)*time.Second + 5*time.Second
}

// Run executes ws's script, using containerID (a warm pool member) when
// pooled is true, otherwise spawning a fresh one-shot container.
func (g *guestLauncher) Run(ctx context.Context, ws *workspace.Workspace, containerID string, pooled bool) runResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	if pooled {
		return g.runPooled(ctx, ws, containerID)
	}
	return g.runOneShot(ctx, ws, containerID)
}

func (g *guestLauncher) runPooled(ctx context.Context, ws *workspace.Workspace, containerID string) runResult {
	if err := g.engine.CopyTo(ctx, containerID, string(ws.ScriptPath), "/code/script.py"); err != nil {
		return runResult{Stderr: fmt.Sprintf("copy script into container: %v", err)}
	}

	prepareCmd := []string{"bash", "-c", "mkdir -p /code/output && rm -rf /code/output/*"}
	if _, err := g.engine.Exec(ctx, containerID, prepareCmd, container.RunOptions{}); err != nil {
		return runResult{Stderr: fmt.Sprintf("prepare output directory: %v", err)}
	}

	var stdout, stderr bytes.Buffer
	timeoutSeconds := g.settings.ExecutionTimeoutSeconds
	runCmd := []string{
		"bash", "-c",
		fmt.Sprintf(
			"if command -v timeout >/dev/null 2>&1; then timeout -k %ds %ds python /code/script.py; else python /code/script.py; fi",
			int(stopGrace.Seconds()), timeoutSeconds,
		),
	}
	result, err := g.engine.Exec(ctx, containerID, runCmd, container.RunOptions{Stdout: &stdout, Stderr: &stderr})

	defer g.cleanupPooledMember(containerID)

	if ctx.Err() != nil {
		killCtx, killCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer killCancel()
		killCmd := []string{"pkill", "-KILL", "-f", "python /code/script.py"}
		if _, killErr := g.engine.Exec(killCtx, containerID, killCmd, container.RunOptions{}); killErr != nil {
			g.logger.Warn("failed to kill timed-out guest in pool member", "container", containerID, "error", killErr)
		}
		return runResult{Stderr: "Execution timeout"}
	}
	if err != nil {
		return runResult{Stderr: err.Error()}
	}

	out := runResult{Stdout: stdout.String()}
	if result.ExitCode != 0 {
		out.Stderr = exitMessage(result.ExitCode, stderr.String())
	}

	if copyErr := g.engine.CopyFrom(ctx, containerID, "/code/output/.", string(ws.OutputDir)); copyErr != nil {
		g.logger.Warn("failed to copy output directory from pool member", "container", containerID, "error", copyErr)
	}

	return out
}

// cleanupPooledMember removes the script and any leftover output inside a
// pool member so the next request to acquire it starts from a clean state.
func (g *guestLauncher) cleanupPooledMember(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cleanupCmd := []string{"bash", "-c", "rm -f /code/script.py; rm -rf /code/output/*"}
	if _, err := g.engine.Exec(ctx, containerID, cleanupCmd, container.RunOptions{}); err != nil {
		g.logger.Warn("failed to clean up pool member", "container", containerID, "error", err)
	}
}

func (g *guestLauncher) runOneShot(ctx context.Context, ws *workspace.Workspace, name string) runResult {
	var stdout, stderr bytes.Buffer
	opts := container.RunOptions{
		Image:   g.settings.DockerImage,
		Command: []string{"python", "/code/script.py"},
		Name:    name,
		Volumes: []string{
			fmt.Sprintf("%s:/code/script.py:ro", ws.ScriptPath),
			fmt.Sprintf("%s:/code/output", ws.OutputDir),
		},
		Remove:          true,
		Stdout:          &stdout,
		Stderr:          &stderr,
		NetworkMode:     g.settings.DockerNetworkMode,
		MemoryLimit:     "1g",
		CPULimit:        "1",
		PidsLimit:       g.settings.DockerPidsLimit,
		CapDrop:         []string{"ALL"},
		NoNewPrivileges: true,
		Init:            true,
	}

	result, err := g.engine.Run(ctx, opts)

	if ctx.Err() != nil {
		g.forceStop(name)
		return runResult{Stderr: "Execution timeout"}
	}
	if err != nil {
		g.forceStop(name)
		return runResult{Stderr: err.Error()}
	}

	out := runResult{Stdout: stdout.String()}
	if result.ExitCode != 0 {
		out.Stderr = exitMessage(result.ExitCode, stderr.String())
	}
	return out
}

// forceStop stops and removes a one-shot container that overran its budget
// or failed to launch cleanly; the container may not exist, so errors here
// are logged, not surfaced.
func (g *guestLauncher) forceStop(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.engine.Stop(ctx, name, stopGrace); err != nil {
		g.logger.Debug("stop on overrun container failed", "container", name, "error", err)
	}
	if err := g.engine.Remove(ctx, name, true); err != nil {
		g.logger.Debug("remove on overrun container failed", "container", name, "error", err)
	}
}
