package bootstrap

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"room-capture/internal/config"
	"room-capture/internal/diagnostics"
	"room-capture/internal/domain"
)

// InstallOrFixDiagnostic applies the remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, errors.New("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, errors.New("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, errors.Wrap(err, "load settings")
	}
	settings = normalizeSettings(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case diagnostics.CheckEngine:
		fixErr = engineInstallError(settings.EnginePath)
	case diagnostics.CheckWorkspaceRoot:
		settings, settingsChanged, fixErr = fixWorkspaceRoot(settings)
	case diagnostics.CheckExportDir:
		settings, settingsChanged, fixErr = fixExportDir(settings)
	default:
		return domain.DiagnosticReport{}, errors.Newf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, errors.Wrap(saveErr, "save settings after fix")
		}
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

// ensureLocalBinOnPATH prepends the per-user tool directory so an engine
// dropped there resolves without editing the shell profile.
func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, ".room-capture", "bin")
}

// engineInstallError explains how to provide the engine; it cannot be
// installed automatically.
func engineInstallError(enginePath string) error {
	hint := "Install the photogrammetry engine and put it on PATH, or set enginePath in settings."
	if homeDir, err := os.UserHomeDir(); err == nil {
		hint = "Copy the engine binary into " + localBinDir(homeDir) + " or set enginePath in settings."
	}
	return errors.WithHint(
		errors.Mark(errors.Newf("capture engine %q is not installed", enginePath), domain.ErrUnsupportedDevice),
		hint,
	)
}

func fixWorkspaceRoot(settings domain.Settings) (domain.Settings, bool, error) {
	root := strings.TrimSpace(settings.WorkspaceRoot)
	changed := false
	if root == "" {
		root = config.DefaultSettings().WorkspaceRoot
		settings.WorkspaceRoot = root
		changed = true
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return settings, changed, errors.Mark(errors.Wrapf(err, "create workspace root %s", root), domain.ErrIO)
	}
	return settings, changed, nil
}

func fixExportDir(settings domain.Settings) (domain.Settings, bool, error) {
	exportDir := strings.TrimSpace(settings.ExportDir)
	changed := false
	if exportDir == "" {
		exportDir = config.DefaultSettings().ExportDir
		settings.ExportDir = exportDir
		changed = true
	}

	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return settings, changed, errors.Mark(errors.Wrapf(err, "create export directory %s", exportDir), domain.ErrIO)
	}
	return settings, changed, nil
}
