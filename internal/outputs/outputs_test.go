// SPDX-License-Identifier: MPL-2.0

package outputs

import (
	"os"
	"path/filepath"
	"testing"

	"codebroker/internal/config"
)

func testCollector(t *testing.T) (*Collector, string) {
	t.Helper()
	settings := config.Default()
	settings.FileStorePath = filepath.Join(t.TempDir(), "files")
	settings.ImageStorePath = filepath.Join(t.TempDir(), "images")
	settings.OutputMaxFiles = 20
	settings.OutputFileMaxBytes = 1024
	settings.OutputTotalMaxBytes = 4096
	return NewCollector(settings), t.TempDir()
}

func writeOutput(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write output file: %v", err)
	}
}

func TestPersistFiles_PublishesAllowedFile(t *testing.T) {
	t.Parallel()

	collector, outputDir := testCollector(t)
	collector.settings.OutputAllowedExtensions = map[string]struct{}{"md": {}}
	writeOutput(t, outputDir, "note.md", "hello")

	files, err := collector.PersistFiles("exec-1", outputDir)
	if err != nil {
		t.Fatalf("PersistFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].OriginalName != "note.md" {
		t.Fatalf("PersistFiles() = %+v", files)
	}
	if files[0].Filename != "out_exec-1_1_note.md" {
		t.Errorf("Filename = %q, want out_exec-1_1_note.md", files[0].Filename)
	}
	if _, err := os.Stat(filepath.Join(collector.settings.FileStorePath, files[0].Filename)); err != nil {
		t.Errorf("expected stored file on disk: %v", err)
	}
}

func TestPersistFiles_SkipsDisallowedExtension(t *testing.T) {
	t.Parallel()

	collector, outputDir := testCollector(t)
	collector.settings.OutputAllowedExtensions = map[string]struct{}{"md": {}}
	writeOutput(t, outputDir, "secret.exe", "x")

	files, err := collector.PersistFiles("exec-1", outputDir)
	if err != nil {
		t.Fatalf("PersistFiles() error = %v", err)
	}
	if len(files) != 0 {
		t.Errorf("PersistFiles() = %+v, want empty", files)
	}
}

func TestPersistFiles_SkipsReservedImageName(t *testing.T) {
	t.Parallel()

	collector, outputDir := testCollector(t)
	collector.settings.OutputAllowedExtensions = map[string]struct{}{"png": {}}
	writeOutput(t, outputDir, reservedImageName, "x")

	files, err := collector.PersistFiles("exec-1", outputDir)
	if err != nil {
		t.Fatalf("PersistFiles() error = %v", err)
	}
	if len(files) != 0 {
		t.Errorf("PersistFiles() = %+v, want empty (result.png reserved)", files)
	}
}

func TestPersistFiles_EnforcesMaxFiles(t *testing.T) {
	t.Parallel()

	collector, outputDir := testCollector(t)
	collector.settings.OutputAllowedExtensions = map[string]struct{}{"txt": {}}
	collector.settings.OutputMaxFiles = 1
	writeOutput(t, outputDir, "a.txt", "a")
	writeOutput(t, outputDir, "b.txt", "b")

	files, err := collector.PersistFiles("exec-1", outputDir)
	if err != nil {
		t.Fatalf("PersistFiles() error = %v", err)
	}
	if len(files) != 1 {
		t.Errorf("PersistFiles() returned %d files, want 1", len(files))
	}
}

func TestPersistFiles_EnforcesTotalByteBudget(t *testing.T) {
	t.Parallel()

	collector, outputDir := testCollector(t)
	collector.settings.OutputAllowedExtensions = map[string]struct{}{"txt": {}}
	collector.settings.OutputTotalMaxBytes = 3
	writeOutput(t, outputDir, "a.txt", "aaa")
	writeOutput(t, outputDir, "b.txt", "bbb")

	files, err := collector.PersistFiles("exec-1", outputDir)
	if err != nil {
		t.Fatalf("PersistFiles() error = %v", err)
	}
	if len(files) != 1 {
		t.Errorf("PersistFiles() returned %d files, want 1 (second exceeds total budget)", len(files))
	}
}

func TestPersistFiles_MissingDirectoryReturnsEmpty(t *testing.T) {
	t.Parallel()

	collector, outputDir := testCollector(t)
	files, err := collector.PersistFiles("exec-1", filepath.Join(outputDir, "missing"))
	if err != nil {
		t.Fatalf("PersistFiles() error = %v", err)
	}
	if files != nil {
		t.Errorf("PersistFiles() = %+v, want nil", files)
	}
}

func TestPersistImage_MovesReservedFile(t *testing.T) {
	t.Parallel()

	collector, outputDir := testCollector(t)
	writeOutput(t, outputDir, reservedImageName, "png-bytes")

	filename, err := collector.PersistImage("exec-1", outputDir)
	if err != nil {
		t.Fatalf("PersistImage() error = %v", err)
	}
	if filename == "" {
		t.Fatal("PersistImage() filename = \"\", want non-empty")
	}
	if _, err := os.Stat(filepath.Join(collector.settings.ImageStorePath, filename)); err != nil {
		t.Errorf("expected stored image on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outputDir, reservedImageName)); !os.IsNotExist(err) {
		t.Error("expected result.png removed from output dir after move")
	}
}

func TestMovePath_CopiesContentAndRemovesSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	writeOutput(t, dir, "src.txt", "payload")

	if err := movePath(src, dst); err != nil {
		t.Fatalf("movePath() error = %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("dst content = %q, want %q", got, "payload")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("expected src removed after move")
	}
}

func TestPersistImage_NoImageReturnsEmptyFilename(t *testing.T) {
	t.Parallel()

	collector, outputDir := testCollector(t)
	filename, err := collector.PersistImage("exec-1", outputDir)
	if err != nil {
		t.Fatalf("PersistImage() error = %v", err)
	}
	if filename != "" {
		t.Errorf("PersistImage() = %q, want empty", filename)
	}
}
