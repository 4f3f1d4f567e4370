package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"room-capture/internal/config"
	"room-capture/internal/domain"
)

// Check IDs reported by Run.
const (
	CheckEngine        = "capture_engine"
	CheckWorkspaceRoot = "workspace_root"
	CheckExportDir     = "export_dir"
)

// Checker validates the capture engine and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all readiness checks and returns a combined report. Run
// never creates directories; see Fix.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	enginePath := strings.TrimSpace(settings.EnginePath)
	if enginePath == "" {
		enginePath = config.DefaultEnginePath
	}

	items := []domain.DiagnosticItem{
		c.checkEngine(enginePath),
		c.checkDir(CheckWorkspaceRoot, "Workspace root", settings.WorkspaceRoot,
			"Choose a writable location for temporary capture workspaces."),
		c.checkDir(CheckExportDir, "Export directory", settings.ExportDir,
			"Choose a writable directory for exported models."),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkEngine verifies the reconstruction engine executable resolves.
func (c *Checker) checkEngine(name string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: CheckEngine, Name: "Capture engine"}

	path, err := c.lookPath(name)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Capture engine not found: %s", name)
		item.Hint = "Install the photogrammetry engine and put it on PATH, or set enginePath in settings."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkDir validates directory existence and write access. A missing
// directory is reported as fixable.
func (c *Checker) checkDir(id, name, dir, hint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = hint
		return item
	}

	info, err := c.stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory does not exist: %s", dir)
		item.Hint = "Use Fix to create it."
		item.Fixable = true
		return item
	case err != nil:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot access directory: %s", dir)
		item.Hint = hint
		return item
	case !info.IsDir():
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Not a directory: %s", dir)
		item.Hint = hint
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = hint
		return item
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		createTemp: createTemp,
		remove:     remove,
	}
}
