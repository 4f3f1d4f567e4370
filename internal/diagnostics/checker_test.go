package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"room-capture/internal/domain"
)

func foundOnPath(name string) (string, error) { return "/usr/local/bin/" + name, nil }

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(foundOnPath, os.Stat, os.CreateTemp, os.Remove)

	report := checker.Run(domain.Settings{
		EnginePath:    "photogrammetry-engine",
		WorkspaceRoot: root,
		ExportDir:     root,
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
	item, ok := report.Item(CheckEngine)
	if !ok || item.Message != "Found at /usr/local/bin/photogrammetry-engine" {
		t.Fatalf("engine item = %+v", item)
	}
	entries, err := os.ReadDir(root)
	if err != nil || len(entries) != 0 {
		t.Fatalf("write probe left files behind: %v %v", entries, err)
	}
}

// TestCheckerRunMissingEngineAndPaths validates failure reporting.
func TestCheckerRunMissingEngineAndPaths(t *testing.T) {
	var looked string
	checker := NewCheckerForTests(
		func(name string) (string, error) {
			looked = name
			return "", errors.New("not found")
		},
		os.Stat,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		WorkspaceRoot: filepath.Join(t.TempDir(), "missing"),
		ExportDir:     "",
	})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}
	if looked != "photogrammetry-engine" {
		t.Fatalf("looked up %q, want default engine", looked)
	}

	assertStatusByID(t, report, CheckEngine, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, CheckWorkspaceRoot, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, CheckExportDir, domain.DiagnosticStatusFail)

	if item, _ := report.Item(CheckWorkspaceRoot); !item.Fixable {
		t.Fatalf("missing workspace root should be fixable: %+v", item)
	}
	if item, _ := report.Item(CheckExportDir); item.Fixable {
		t.Fatalf("empty export dir should not be fixable: %+v", item)
	}
}

// TestCheckerRunFileInsteadOfDirectoryFails validates path type check.
func TestCheckerRunFileInsteadOfDirectoryFails(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "exports")
	if err := os.WriteFile(file, []byte("not a dir"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	checker := NewCheckerForTests(foundOnPath, os.Stat, os.CreateTemp, os.Remove)
	report := checker.Run(domain.Settings{WorkspaceRoot: root, ExportDir: file})

	assertStatusByID(t, report, CheckWorkspaceRoot, domain.DiagnosticStatusPass)
	assertStatusByID(t, report, CheckExportDir, domain.DiagnosticStatusFail)
}

// TestCheckerRunUnwritableDirectoryFails validates the write probe.
func TestCheckerRunUnwritableDirectoryFails(t *testing.T) {
	root := t.TempDir()
	checker := NewCheckerForTests(
		foundOnPath,
		os.Stat,
		func(string, string) (*os.File, error) { return nil, os.ErrPermission },
		os.Remove,
	)

	report := checker.Run(domain.Settings{WorkspaceRoot: root, ExportDir: root})

	assertStatusByID(t, report, CheckWorkspaceRoot, domain.DiagnosticStatusFail)
	assertStatusByID(t, report, CheckExportDir, domain.DiagnosticStatusFail)
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	item, ok := report.Item(id)
	if !ok {
		t.Fatalf("diagnostic item not found: %s", id)
	}
	if item.Status != want {
		t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
	}
}
