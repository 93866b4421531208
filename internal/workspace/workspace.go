// SPDX-License-Identifier: MPL-2.0

package workspace

import (
	"fmt"
	"log/slog"
	"os"

	"codebroker/pkg/contracts"
	"codebroker/pkg/fspath"
	"codebroker/pkg/types"
)

// Workspace is the host directory tree backing one in-flight execution.
type Workspace struct {
	// Root is the workspace's top-level directory, "{base}/{executionId}".
	Root types.FilesystemPath
	// InputDir is Root/input, where the Input Fetcher writes downloaded files.
	InputDir types.FilesystemPath
	// OutputDir is Root/output, where the guest script writes artifacts.
	OutputDir types.FilesystemPath
	// ScriptPath is Root/code/script.py, the assembled guest script.
	ScriptPath types.FilesystemPath
}

// Manager creates and tears down Workspace trees under a fixed base directory.
type Manager struct {
	baseDir types.FilesystemPath
	logger  *slog.Logger
}

// NewManager creates a Manager rooted at baseDir, creating it if necessary.
func NewManager(baseDir types.FilesystemPath, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(string(baseDir), 0o777); err != nil {
		return nil, fmt.Errorf("create workspace base directory %q: %w", baseDir, err)
	}
	return &Manager{baseDir: baseDir, logger: logger}, nil
}

// Paths computes id's workspace layout without touching the filesystem, so
// the Input Fetcher can start downloading into ws.InputDir while the Code
// Assembler is still building the script.
func (m *Manager) Paths(id contracts.ExecutionID) *Workspace {
	root := fspath.JoinStr(m.baseDir, id.String())
	codeDir := fspath.JoinStr(root, "code")
	return &Workspace{
		Root:       root,
		InputDir:   fspath.JoinStr(root, "input"),
		OutputDir:  fspath.JoinStr(root, "output"),
		ScriptPath: fspath.JoinStr(codeDir, "script.py"),
	}
}

// Create materialises a fresh workspace tree for id and writes code as its
// guest script in one step. Directory/file permissions are deliberately
// permissive (0o777/0o666) so a non-root container user can read the script
// and write under output.
func (m *Manager) Create(id contracts.ExecutionID, code string) (*Workspace, error) {
	ws := m.Paths(id)
	if err := m.Materialize(ws, code); err != nil {
		return nil, err
	}
	return ws, nil
}

// Materialize creates ws's directories (the input directory may already
// exist if the Input Fetcher got there first) and writes code as its guest
// script.
func (m *Manager) Materialize(ws *Workspace, code string) error {
	codeDir := fspath.Dir(ws.ScriptPath)
	for _, dir := range []types.FilesystemPath{ws.Root, ws.InputDir, ws.OutputDir, codeDir} {
		if err := os.MkdirAll(string(dir), 0o777); err != nil {
			return fmt.Errorf("create workspace directory %q: %w", dir, err)
		}
	}

	if err := os.WriteFile(string(ws.ScriptPath), []byte(code), 0o666); err != nil {
		return fmt.Errorf("write guest script %q: %w", ws.ScriptPath, err)
	}

	return nil
}

// Destroy removes the entire workspace tree. Errors are logged and
// swallowed: teardown never fails a request.
func (m *Manager) Destroy(ws *Workspace) {
	if ws == nil {
		return
	}
	if err := os.RemoveAll(string(ws.Root)); err != nil {
		m.logger.Warn("failed to remove workspace", "root", ws.Root, "error", err)
	}
}
