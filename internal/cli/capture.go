package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"room-capture/internal/capture"
	"room-capture/internal/capture/capturetest"
	"room-capture/internal/domain"
	"room-capture/internal/export"
	"room-capture/internal/jobs"
	"room-capture/internal/orchestrator"
	"room-capture/internal/staging"
	"room-capture/internal/uiexec"
)

// captureOptions holds per-run overrides of the stored settings.
type captureOptions struct {
	input         string
	liveSensor    bool
	name          string
	exportDir     string
	workspaceRoot string
	engine        string
	detail        string
	sensitivity   string
	ordering      string
	masking       bool
	simulate      bool
	timeout       time.Duration
}

func NewCaptureCmd(flags *globalFlags) *cobra.Command {
	opts := &captureOptions{}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run one capture and export the resulting model",
		Long: "Reconstructs a model from an image folder (--input) or a live sensor scan\n" +
			"(--live-sensor), then moves it into the export directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.input == "") == !opts.liveSensor {
				return errors.New("exactly one of --input or --live-sensor is required")
			}

			settings, err := loadSettings(flags)
			if err != nil {
				return err
			}
			applyCaptureOverrides(cmd, &settings, opts)

			logger, err := newLogger(flags, cmd.ErrOrStderr())
			if err != nil {
				return errors.Wrap(err, "build logger")
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			return runCapture(ctx, cmd.OutOrStdout(), settings, opts, logger)
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "", "Folder of images to reconstruct")
	cmd.Flags().BoolVar(&opts.liveSensor, "live-sensor", false, "Scan a room with the live sensor")
	cmd.Flags().StringVar(&opts.name, "name", "", "Exported model name (default: staged file name)")
	cmd.Flags().StringVar(&opts.exportDir, "export-dir", "", "Export directory (default: settings)")
	cmd.Flags().StringVar(&opts.workspaceRoot, "workspace-root", "", "Parent directory of temporary workspaces (default: settings)")
	cmd.Flags().StringVar(&opts.engine, "engine", "", "Capture engine executable (default: settings)")
	cmd.Flags().StringVar(&opts.detail, "detail", "", "Detail level (preview|reduced|medium|full|raw)")
	cmd.Flags().StringVar(&opts.sensitivity, "feature-sensitivity", "", "Feature sensitivity (normal|high)")
	cmd.Flags().StringVar(&opts.ordering, "sample-ordering", "", "Sample ordering (unordered|sequential)")
	cmd.Flags().BoolVar(&opts.masking, "object-masking", true, "Mask the background around the object")
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "Use a scripted engine instead of the real one")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Hour, "Overall capture timeout")
	return cmd
}

// applyCaptureOverrides copies explicitly set flags over settings.
func applyCaptureOverrides(cmd *cobra.Command, settings *domain.Settings, opts *captureOptions) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&settings.ExportDir, opts.exportDir)
	set(&settings.WorkspaceRoot, opts.workspaceRoot)
	set(&settings.EnginePath, opts.engine)
	set(&settings.DetailLevel, opts.detail)
	set(&settings.FeatureSensitivity, opts.sensitivity)
	set(&settings.SampleOrdering, opts.ordering)
	if cmd.Flags().Changed("object-masking") {
		settings.ObjectMasking = opts.masking
	}
}

func runCapture(ctx context.Context, out io.Writer, settings domain.Settings, opts *captureOptions, logger *zap.Logger) error {
	var engine capture.Engine = capture.NewProcessEngine(settings.EnginePath, logger)
	if opts.simulate {
		engine = &capturetest.Engine{Script: simulatedScript()}
	}

	ui := uiexec.NewSerial()
	defer ui.Close()

	events := jobs.NewEventBus(1000)
	events.OnPublish(func(ev jobs.Event) { printEvent(out, ev) })

	orch := orchestrator.New(engine, staging.NewStager(settings.WorkspaceRoot), jobs.NewManager(), events, ui,
		orchestrator.WithLogger(logger))

	req := orchestrator.Request{Options: settings.CaptureOptions(), ArtifactName: "model.usdz"}
	if opts.liveSensor {
		req.Kind = domain.CaptureKindRoom
		req.Input = domain.LiveSensorInput()
		req.ArtifactName = "room.usdz"
	} else {
		req.Kind = domain.CaptureKindObject
		req.Input = domain.FolderInput(opts.input)
	}

	job, err := orch.Start(req)
	if err != nil {
		return err
	}
	logger.Debug("capture job created", zap.String("job_id", job.ID))

	job, err = orch.Wait(ctx)
	if err != nil {
		if cancelErr := orch.Cancel(); cancelErr == nil {
			logger.Info("cancelling capture", zap.String("job_id", job.ID), zap.Error(err))
		}
		job, _ = orch.Wait(context.Background())
	}
	ui.Flush()
	defer func() {
		_, _ = orch.Acknowledge()
		ui.Flush()
	}()

	switch job.Status {
	case domain.JobStatusSucceeded:
	case domain.JobStatusCancelled:
		if err != nil {
			return errors.Wrap(err, "capture cancelled")
		}
		return errors.New("capture cancelled")
	default:
		return noticeError(job.Notice)
	}

	flow := export.NewFlow(settings.ExportDir, export.FixedName{Name: opts.name}, export.WriterSink{W: out}, logger)
	if _, err := orch.Export(context.Background(), flow); err != nil {
		return err
	}
	ui.Flush()
	return nil
}

// simulatedScript mimics an engine run including a skipped sample.
func simulatedScript() []capture.Event {
	script := capturetest.Progressive(10)
	return append(script[:3:3], append([]capture.Event{capture.SampleSkipped("motion blur")}, script[3:]...)...)
}

// printEvent writes one human-readable line per job event.
func printEvent(w io.Writer, ev jobs.Event) {
	switch ev.Type {
	case jobs.EventTypeStatus:
		fmt.Fprintf(w, "[%s] %s\n", ev.Status, ev.Message)
	case jobs.EventTypeProgress:
		fmt.Fprintf(w, "progress %3.0f%%\n", ev.Progress*100)
	case jobs.EventTypeLog:
		fmt.Fprintf(w, "  %s\n", ev.Message)
	case jobs.EventTypeError:
		if ev.Notice != nil && ev.Notice.Hint != "" {
			fmt.Fprintf(w, "error: %s\n  hint: %s\n", ev.Message, strings.ReplaceAll(ev.Notice.Hint, "\n", " "))
			return
		}
		fmt.Fprintf(w, "error: %s\n", ev.Message)
	case jobs.EventTypeResult:
		fmt.Fprintf(w, "%s: %s\n", ev.Message, ev.ArtifactPath)
	}
}

func noticeError(notice *domain.Notice) error {
	if notice == nil {
		return errors.New("capture failed")
	}
	return errors.Newf("capture failed (%s): %s", notice.Kind, notice.Message)
}
