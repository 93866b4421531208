// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

type (
	// VolumeFormatFunc rewrites a single "host:container[:opts]" volume spec,
	// e.g. to add an SELinux label. It is applied to every volume in RunOptions
	// before the run/exec arguments are assembled.
	VolumeFormatFunc func(volume string) string

	// RunArgsTransformer rewrites the full argument slice for a 'run' command
	// after it has been assembled, e.g. to insert engine-specific flags.
	RunArgsTransformer func(args []string) []string

	// SELinuxCheckFunc reports whether SELinux volume labeling should be applied.
	SELinuxCheckFunc func() bool

	// ExecCommandFunc constructs the *exec.Cmd for a binary invocation. Tests
	// inject a fake to avoid touching the real docker/podman binary.
	ExecCommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

	// BaseCLIEngine implements the argument-building and process-execution
	// machinery shared by DockerEngine and PodmanEngine. Engine-specific
	// behavior is injected via functional options.
	BaseCLIEngine struct {
		binaryPath         string
		execCommand        ExecCommandFunc
		volumeFormatter    VolumeFormatFunc
		runArgsTransformer RunArgsTransformer
	}

	// BaseCLIEngineOption configures a BaseCLIEngine at construction time.
	BaseCLIEngineOption func(*BaseCLIEngine)
)

// NewBaseCLIEngine creates a BaseCLIEngine bound to the given binary path.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithExecCommandFunc overrides how *exec.Cmd values are constructed, for tests.
func WithExecCommandFunc(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.execCommand = fn }
}

// WithVolumeFormatter sets a formatter applied to every "-v" volume spec.
func WithVolumeFormatter(fn VolumeFormatFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.volumeFormatter = fn }
}

// WithRunArgsTransformer sets a transformer applied to the final 'run' argument slice.
func WithRunArgsTransformer(fn RunArgsTransformer) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.runArgsTransformer = fn }
}

// BinaryPath returns the resolved path of the engine binary, or "" if not found.
func (e *BaseCLIEngine) BinaryPath() string {
	return e.binaryPath
}

// CreateCommand builds an *exec.Cmd for the engine binary with the given arguments.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// RunCommandWithOutput runs the engine binary and returns its combined stdout
// and stderr.
func (e *BaseCLIEngine) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%s %s: %w: %s", e.binaryPath, strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}

// RunCommandStatus runs the engine binary and returns only the error, if any.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	cmd := e.CreateCommand(ctx, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w: %s", e.binaryPath, strings.Join(args, " "), err, out.String())
	}
	return nil
}

// formatVolume applies the configured volume formatter, if any.
func (e *BaseCLIEngine) formatVolume(volume string) string {
	if e.volumeFormatter == nil {
		return volume
	}
	return e.volumeFormatter(volume)
}

// BuildArgs assembles the argument slice for a 'build' command.
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build", "-t", opts.Tag}
	if opts.Dockerfile != "" {
		args = append(args, "-f", opts.Dockerfile)
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	for k, v := range opts.BuildArgs {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, v))
	}
	contextDir := opts.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	args = append(args, contextDir)
	return args
}

// RunArgs assembles the argument slice for a 'run' command, applying the
// configured volume formatter and run-args transformer.
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Remove {
		args = append(args, "--rm")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	if opts.Interactive {
		args = append(args, "-i")
	}
	if opts.TTY {
		args = append(args, "-t")
	}
	if opts.MemoryLimit != "" {
		args = append(args, "--memory", opts.MemoryLimit)
	}
	if opts.CPULimit != "" {
		args = append(args, "--cpus", opts.CPULimit)
	}
	if opts.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(opts.PidsLimit))
	}
	if opts.NetworkMode != "" {
		args = append(args, "--network", opts.NetworkMode)
	}
	for _, cap := range opts.CapDrop {
		args = append(args, "--cap-drop", cap)
	}
	if opts.NoNewPrivileges {
		args = append(args, "--security-opt", "no-new-privileges")
	}
	if opts.Init {
		args = append(args, "--init")
	}
	if opts.RestartPolicy != "" {
		args = append(args, "--restart", opts.RestartPolicy)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	for _, v := range opts.Volumes {
		args = append(args, "-v", e.formatVolume(v))
	}
	for _, p := range opts.Ports {
		args = append(args, "-p", p)
	}
	for _, h := range opts.ExtraHosts {
		args = append(args, "--add-host", h)
	}

	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	if e.runArgsTransformer != nil {
		args = e.runArgsTransformer(args)
	}
	return args
}

// ExecArgs assembles the argument slice for an 'exec' command against a
// running container.
func (e *BaseCLIEngine) ExecArgs(containerID string, command []string, opts RunOptions) []string {
	args := []string{"exec"}
	if opts.Interactive {
		args = append(args, "-i")
	}
	if opts.TTY {
		args = append(args, "-t")
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, containerID)
	args = append(args, command...)
	return args
}

// RemoveArgs assembles the argument slice for a 'rm' command.
func (e *BaseCLIEngine) RemoveArgs(containerID string, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, containerID)
	return args
}

// RemoveImageArgs assembles the argument slice for an 'rmi' command.
func (e *BaseCLIEngine) RemoveImageArgs(image string, force bool) []string {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, image)
	return args
}

// StopArgs assembles the argument slice for a 'stop' command with a grace
// period expressed in whole seconds.
func (e *BaseCLIEngine) StopArgs(containerID string, graceSeconds int) []string {
	return []string{"stop", "-t", strconv.Itoa(graceSeconds), containerID}
}

// CopyArgs assembles the argument slice for a 'cp' command in either direction.
func (e *BaseCLIEngine) CopyArgs(src, dst string) []string {
	return []string{"cp", src, dst}
}

// InspectArgs assembles the argument slice for a container 'inspect' command
// constrained to the State.Status field.
func (e *BaseCLIEngine) InspectArgs(containerID string) []string {
	return []string{"inspect", "--format", "{{.State.Status}}", containerID}
}

// Inspect reports whether containerID exists and its running state. Exists is
// false, not an error, when the engine reports no such container.
func (e *BaseCLIEngine) Inspect(ctx context.Context, containerID string) (*InspectResult, error) {
	out, err := e.RunCommandWithOutput(ctx, e.InspectArgs(containerID)...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &InspectResult{Exists: false}, nil
		}
		return nil, err
	}
	status := strings.TrimSpace(out)
	return &InspectResult{
		Exists:  true,
		Running: status == "running",
		Status:  status,
	}, nil
}

// Stop stops containerID, asking the engine to send SIGKILL after grace elapses.
func (e *BaseCLIEngine) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	seconds := int(grace.Round(time.Second).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	return e.RunCommandStatus(ctx, e.StopArgs(containerID, seconds)...)
}

// CopyTo copies hostPath into containerID at containerPath.
func (e *BaseCLIEngine) CopyTo(ctx context.Context, containerID, hostPath, containerPath string) error {
	dst := containerID + ":" + containerPath
	return e.RunCommandStatus(ctx, e.CopyArgs(hostPath, dst)...)
}

// CopyFrom copies containerPath out of containerID onto the host at hostPath.
func (e *BaseCLIEngine) CopyFrom(ctx context.Context, containerID, containerPath, hostPath string) error {
	src := containerID + ":" + containerPath
	return e.RunCommandStatus(ctx, e.CopyArgs(src, hostPath)...)
}

// buildContainerError wraps a build failure with operation/resource context.
func buildContainerError(engineName string, opts BuildOptions, err error) error {
	return fmt.Errorf("%s build (tag=%s, context=%s): %w", engineName, opts.Tag, opts.ContextDir, err)
}
