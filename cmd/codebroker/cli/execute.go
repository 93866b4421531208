// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"codebroker/internal/container"
	"codebroker/internal/dispatch"
	"codebroker/pkg/contracts"
)

var (
	executeFile   string
	executeInputs []string
	executeJSON   bool
)

var executeCmd = &cobra.Command{
	Use:   "execute [flags]",
	Short: "Run one snippet through the execution engine and print the result",
	Long: `execute submits a single source snippet to the Dispatcher, using the
same Workspace Manager, Code Assembler, Input Fetcher, Container Pool, and
Output Collector a production HTTP gateway would drive. Pass the snippet
with --file, or pipe it on stdin.`,
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().StringVarP(&executeFile, "file", "f", "", "path to the source file (default: read stdin)")
	executeCmd.Flags().StringSliceVar(&executeInputs, "input", nil, "remote input file URL (repeatable)")
	executeCmd.Flags().BoolVar(&executeJSON, "json", false, "print the raw ExecuteResult as JSON instead of a summary")
}

func runExecute(cmd *cobra.Command, args []string) error {
	code, err := readCode()
	if err != nil {
		return err
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	engine, err := container.NewEngine(container.EngineTypeDocker)
	if err != nil {
		return fmt.Errorf("select container engine: %w", err)
	}
	baseDir, err := resolveWorkspaceDir()
	if err != nil {
		return fmt.Errorf("resolve workspace directory: %w", err)
	}

	logger := newLogger()
	engineService, err := dispatch.New(settings, engine, baseDir, logger)
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	ctx := context.Background()
	if err := engineService.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize execution engine: %w", err)
	}
	defer engineService.Shutdown(ctx)

	result, err := engineService.Execute(ctx, contracts.ExecuteRequest{Code: code, Files: executeInputs})
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}

	return printResult(cmd.OutOrStdout(), result)
}

func readCode() (string, error) {
	if executeFile != "" {
		data, err := os.ReadFile(executeFile)
		if err != nil {
			return "", fmt.Errorf("read %q: %w", executeFile, err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func printResult(w io.Writer, result *contracts.ExecuteResult) error {
	if executeJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	fmt.Fprintf(w, "--- stdout ---\n%s\n", result.Stdout)
	if result.Failed() {
		fmt.Fprintf(w, "--- stderr ---\n%s\n", *result.Stderr)
	}
	fmt.Fprintf(w, "--- execution time: %.3fs ---\n", result.ExecutionTime)
	if result.ImageFilename != nil {
		fmt.Fprintf(w, "chart image: %s\n", *result.ImageFilename)
	}
	for _, f := range result.Files {
		fmt.Fprintf(w, "output file: %s (from %s, %d bytes)\n", f.Filename, f.OriginalName, f.SizeBytes)
	}
	return nil
}
