// SPDX-License-Identifier: MPL-2.0

// Package cli implements codebroker's command-line surface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"codebroker/internal/config"
)

var (
	verbose      bool
	workspaceDir string
)

// rootCmd is the base command when codebroker is invoked with no subcommand.
var rootCmd = &cobra.Command{
	Use:   "codebroker",
	Short: "Local debugging CLI for the sandboxed code-execution broker",
	Long: `codebroker drives the execution engine directly, without an HTTP
collaborator in front of it. It exists for local debugging: submitting a
snippet with "codebroker execute" or inspecting the guest image with
"codebroker capabilities" exercises the exact same Dispatcher, Container
Pool, and Code Assembler a production HTTP gateway would call.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&workspaceDir, "workspace-dir", "", "base directory for execution workspaces (default: a temp directory)")

	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(capabilitiesCmd)
}

// newLogger builds the process-wide slog.Logger, honoring --verbose.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// loadSettings builds Settings from the standard config search path,
// layered under environment variables.
func loadSettings() (*config.Settings, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return settings, nil
}

// resolveWorkspaceDir returns --workspace-dir, or a fresh temp directory.
func resolveWorkspaceDir() (string, error) {
	if workspaceDir != "" {
		return workspaceDir, nil
	}
	return os.MkdirTemp("", "codebroker-workspaces-*")
}
