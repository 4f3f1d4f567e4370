package bootstrap

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"room-capture/internal/capture"
	"room-capture/internal/config"
	"room-capture/internal/diagnostics"
	"room-capture/internal/domain"
	"room-capture/internal/export"
	"room-capture/internal/jobs"
	"room-capture/internal/orchestrator"
	"room-capture/internal/staging"
	"room-capture/internal/uiexec"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// captureEventName is the runtime event carrying jobs.Event payloads.
const captureEventName = "capture:event"

// progressPushInterval bounds how often progress is pushed to the UI.
const progressPushInterval = 100 * time.Millisecond

// shutdownTimeout bounds how long Shutdown waits for a cancelled capture.
const shutdownTimeout = 10 * time.Second

var artifactDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "USDZ models",
		Pattern:     "*.usdz",
	},
}

// App wires configuration, the capture orchestrator and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	logger      *zap.Logger

	orch      *orchestrator.Orchestrator
	ui        *uiexec.Serial
	events    *jobs.EventBus
	newEngine func(domain.Settings) capture.Engine
	prompter  export.Prompter
	sink      export.Sink
	files     *export.FileManagerSink
	emit      func(ctx context.Context, name string, data ...interface{})
	limiter   *rate.Limiter

	mu         sync.Mutex
	runtimeCtx context.Context
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "resolve user home")
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, errors.Wrap(err, "prepare local tool path")
	}

	store := config.NewJSONStore(config.DefaultPath(homeDir))
	app, err := newApp(store, func(settings domain.Settings) capture.Engine {
		return capture.NewProcessEngine(settings.EnginePath, logger)
	}, logger)
	if err != nil {
		return nil, err
	}
	app.assets = assets
	app.prompter = saveDialogPrompter{app: app}
	app.files = export.NewFileManagerSink()
	app.sink = app.files
	return app, nil
}

// newApp assembles the app around store and an engine factory.
func newApp(store config.Store, newEngine func(domain.Settings) capture.Engine, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	settings = normalizeSettings(settings)

	checker := diagnostics.NewChecker()
	a := &App{
		Settings:    settings,
		Store:       store,
		Diagnostics: checker.Run(settings),
		checker:     checker,
		logger:      logger,
		ui:          uiexec.NewSerial(),
		events:      jobs.NewEventBus(1000),
		newEngine:   newEngine,
		emit:        wailsruntime.EventsEmit,
		limiter:     rate.NewLimiter(rate.Every(progressPushInterval), 1),
	}
	a.events.OnPublish(a.pushEvent)
	a.orch = orchestrator.New(
		settingsEngine{app: a},
		staging.NewStager(settings.WorkspaceRoot),
		jobs.NewManager(),
		a.events,
		a.ui,
		orchestrator.WithLogger(logger),
	)
	return a, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Room Capture",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events and dialogs.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown cancels any running capture, releases capture workspaces and
// stops the UI executor.
func (a *App) Shutdown(context.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.orch.Close(ctx); err != nil {
		a.logger.Warn("capture did not stop before shutdown", zap.Error(err))
	}
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()
	a.ui.Close()
	_ = a.logger.Sync()
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, errors.Wrap(err, "load settings")
	}
	settings = normalizeSettings(settings)

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
// A changed workspace root applies from the next launch.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if _, err := capture.NormalizeOptions(normalized.CaptureOptions()); err != nil {
		return domain.Settings{}, err
	}
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, errors.Wrap(err, "save settings")
	}

	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns readiness checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, errors.Wrap(err, "load settings")
	}
	return a.refreshDiagnosticsFromSettings(normalizeSettings(settings)), nil
}

// PickInputFolder opens a native directory picker for an image folder.
func (a *App) PickInputFolder() (string, error) {
	return a.pickDirectory("Select image folder")
}

// PickExportDirectory opens a native directory picker for exported models.
func (a *App) PickExportDirectory() (string, error) {
	return a.pickDirectory("Select export directory")
}

func (a *App) pickDirectory(title string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{Title: title})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// StartCapture reconstructs an object model from the images in folder.
func (a *App) StartCapture(folder string) (domain.Job, error) {
	return a.start(domain.CaptureKindObject, domain.FolderInput(strings.TrimSpace(folder)))
}

// StartRoomScan starts a live sensor room scan.
func (a *App) StartRoomScan() (domain.Job, error) {
	return a.start(domain.CaptureKindRoom, domain.LiveSensorInput())
}

func (a *App) start(kind domain.CaptureKind, input domain.InputSource) (domain.Job, error) {
	settings, err := a.GetSettings()
	if err != nil {
		return domain.Job{}, err
	}

	job, err := a.orch.Start(orchestrator.Request{
		Kind:    kind,
		Input:   input,
		Options: settings.CaptureOptions(),
	})
	if err != nil {
		a.logger.Info("capture not started", zap.String("kind", string(kind)), zap.Error(err))
		return domain.Job{}, err
	}
	return job, nil
}

// CancelCapture cancels the running capture, if any.
func (a *App) CancelCapture() error {
	return a.orch.Cancel()
}

// AcknowledgeCapture dismisses a finished capture and returns to idle.
func (a *App) AcknowledgeCapture() (domain.Job, error) {
	return a.orch.Acknowledge()
}

// ExportCapture asks for a name, moves the model into the export
// directory and reveals it.
func (a *App) ExportCapture() (domain.StagedArtifact, error) {
	a.mu.Lock()
	exportDir := a.Settings.ExportDir
	a.mu.Unlock()

	flow := export.NewFlow(exportDir, a.prompter, a.sink, a.logger)
	return a.orch.Export(context.Background(), flow)
}

// OpenExportFolder opens the given path (or configured export dir) in the file manager.
func (a *App) OpenExportFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.ExportDir
		a.mu.Unlock()
	}
	if target == "" {
		return errors.New("export path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return errors.Wrap(err, "resolve export path")
	}
	if !info.IsDir() {
		target = filepath.Dir(target)
	}
	return a.files.Open(target)
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.orch.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.orch.Events(sinceSeq)
}

// pushEvent forwards published events to the runtime. Progress pushes are
// rate limited; JobEvents still returns every event.
func (a *App) pushEvent(event jobs.Event) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx == nil {
		return
	}
	if event.Type == jobs.EventTypeProgress && !a.limiter.Allow() {
		return
	}
	a.emit(ctx, captureEventName, event)
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, errors.New("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// settingsEngine resolves the process engine from the current settings so
// a changed engine path applies to the next capture.
type settingsEngine struct {
	app *App
}

func (e settingsEngine) current() capture.Engine {
	e.app.mu.Lock()
	settings := e.app.Settings
	e.app.mu.Unlock()
	return e.app.newEngine(settings)
}

func (e settingsEngine) Supported() bool {
	return e.current().Supported()
}

func (e settingsEngine) Configure(opts domain.CaptureOptions) (capture.Session, error) {
	return e.current().Configure(opts)
}

// saveDialogPrompter asks for the artifact name with a native save dialog.
// Only the chosen base name is used; files land in the export directory.
type saveDialogPrompter struct {
	app *App
}

func (p saveDialogPrompter) ProposeFilename(_ context.Context, defaultName string) (string, bool, error) {
	ctx, err := p.app.runtimeContext()
	if err != nil {
		return "", false, err
	}

	p.app.mu.Lock()
	exportDir := p.app.Settings.ExportDir
	p.app.mu.Unlock()

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:            "Name your capture",
		DefaultDirectory: exportDir,
		DefaultFilename:  defaultName,
		Filters:          artifactDialogFilter,
	})
	if err != nil {
		return "", false, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", false, nil
	}
	return filepath.Base(path), true, nil
}

// normalizeSettings trims user inputs and fills empty fields with defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()

	settings.EnginePath = strings.TrimSpace(settings.EnginePath)
	settings.WorkspaceRoot = strings.TrimSpace(settings.WorkspaceRoot)
	settings.ExportDir = strings.TrimSpace(settings.ExportDir)
	settings.FeatureSensitivity = strings.ToLower(strings.TrimSpace(settings.FeatureSensitivity))
	settings.SampleOrdering = strings.ToLower(strings.TrimSpace(settings.SampleOrdering))
	settings.DetailLevel = strings.ToLower(strings.TrimSpace(settings.DetailLevel))

	if settings.EnginePath == "" {
		settings.EnginePath = defaults.EnginePath
	}
	if settings.WorkspaceRoot == "" {
		settings.WorkspaceRoot = defaults.WorkspaceRoot
	}
	if settings.FeatureSensitivity == "" {
		settings.FeatureSensitivity = defaults.FeatureSensitivity
	}
	if settings.SampleOrdering == "" {
		settings.SampleOrdering = defaults.SampleOrdering
	}
	if settings.DetailLevel == "" {
		settings.DetailLevel = defaults.DetailLevel
	}
	return settings
}
