// SPDX-License-Identifier: MPL-2.0

package outputs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"codebroker/internal/config"
	"codebroker/pkg/contracts"
)

// reservedImageName is the well-known chart output the guest script writes;
// it's harvested separately into the image store, never the file store.
const reservedImageName = "result.png"

// Collector harvests a finished execution's output directory into the
// broker's persistent file and image stores.
type Collector struct {
	settings *config.Settings
}

// NewCollector returns a Collector bound to settings' store paths and budgets.
func NewCollector(settings *config.Settings) *Collector {
	return &Collector{settings: settings}
}

// sanitizeName reduces name to a basename and rejects "." and "..".
func sanitizeName(name string) string {
	name = filepath.Base(name)
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}

// movePath relocates src to dst, falling back to a copy-then-remove when the
// store lives on a different filesystem than the workspace (EXDEV), the way
// Python's shutil.move falls back off a plain os.rename/os.link failure.
func movePath(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, openErr := os.Open(src)
	if openErr != nil {
		return openErr
	}
	defer in.Close()

	out, createErr := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if createErr != nil {
		return createErr
	}
	if _, copyErr := io.Copy(out, in); copyErr != nil {
		out.Close()
		os.Remove(dst)
		return copyErr
	}
	if closeErr := out.Close(); closeErr != nil {
		os.Remove(dst)
		return closeErr
	}

	return os.Remove(src)
}

// isAllowedOutputFile reports whether name may be published to the file
// store: reserved names and disallowed extensions are excluded.
func (c *Collector) isAllowedOutputFile(name string) bool {
	if name == "" || name == reservedImageName {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return c.settings.AllowsExtension(ext)
}

// PersistFiles scans outputDir in sorted order and moves every allowed file
// into the file store, renamed "out_{executionId}_{index}_{originalName}",
// under the OutputMaxFiles/OutputFileMaxBytes/OutputTotalMaxBytes budgets.
func (c *Collector) PersistFiles(executionID, outputDir string) ([]contracts.OutputFile, error) {
	if err := os.MkdirAll(c.settings.FileStorePath, 0o777); err != nil {
		return nil, fmt.Errorf("create file store directory: %w", err)
	}

	entries, err := os.ReadDir(outputDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list output directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var results []contracts.OutputFile
	var totalBytes int64
	index := 0

	for _, name := range names {
		if len(results) >= c.settings.OutputMaxFiles {
			break
		}
		safeName := sanitizeName(name)
		if safeName != name || !c.isAllowedOutputFile(safeName) {
			continue
		}

		srcPath := filepath.Join(outputDir, safeName)
		info, err := os.Stat(srcPath)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		size := info.Size()
		if size <= 0 || size > c.settings.OutputFileMaxBytes {
			continue
		}
		if totalBytes+size > c.settings.OutputTotalMaxBytes {
			break
		}

		index++
		storedName := fmt.Sprintf("out_%s_%d_%s", executionID, index, safeName)
		dstPath := filepath.Join(c.settings.FileStorePath, storedName)
		if err := movePath(srcPath, dstPath); err != nil {
			continue
		}
		os.Chmod(dstPath, 0o666)

		results = append(results, contracts.OutputFile{
			Filename:     storedName,
			OriginalName: safeName,
			SizeBytes:    size,
		})
		totalBytes += size
	}

	return results, nil
}

// PersistImage moves outputDir/result.png, if present, into the image store
// as "plot_{executionId}_{unixSeconds}.png" and returns its stored filename.
func (c *Collector) PersistImage(executionID, outputDir string) (string, error) {
	srcPath := filepath.Join(outputDir, reservedImageName)
	info, err := os.Stat(srcPath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil || !info.Mode().IsRegular() || info.Size() <= 0 {
		return "", nil
	}

	if err := os.MkdirAll(c.settings.ImageStorePath, 0o777); err != nil {
		return "", fmt.Errorf("create image store directory: %w", err)
	}

	filename := fmt.Sprintf("plot_%s_%d.png", executionID, time.Now().Unix())
	dstPath := filepath.Join(c.settings.ImageStorePath, filename)
	if err := movePath(srcPath, dstPath); err != nil {
		return "", fmt.Errorf("move chart image into store: %w", err)
	}
	os.Chmod(dstPath, 0o666)

	return filename, nil
}
