// Package capture abstracts the opaque reconstruction engine behind a
// capability interface that emits a single tagged event stream per run.
package capture

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"room-capture/internal/domain"
)

// EventType tags the variant carried by an Event.
type EventType string

const (
	EventInputIngested      EventType = "input_ingested"
	EventProgress           EventType = "processing_progress"
	EventProcessingComplete EventType = "processing_complete"
	EventResultReady        EventType = "result_ready"
	EventSampleSkipped      EventType = "sample_skipped"
	EventFailed             EventType = "failed"
	EventCancelled          EventType = "cancelled"
)

// Event is one notification from a running session. Only the fields that
// belong to Type are set.
type Event struct {
	Type         EventType
	Fraction     float64
	ArtifactPath string
	SidecarPath  string
	Reason       string
	Err          error
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventResultReady, EventFailed, EventCancelled:
		return true
	default:
		return false
	}
}

func InputIngested() Event      { return Event{Type: EventInputIngested} }
func ProcessingComplete() Event { return Event{Type: EventProcessingComplete} }
func Cancelled() Event          { return Event{Type: EventCancelled} }

// Progress reports reconstruction progress in [0,1].
func Progress(fraction float64) Event {
	return Event{Type: EventProgress, Fraction: fraction}
}

// ResultReady reports the finished artifact and optional sidecar.
func ResultReady(artifactPath, sidecarPath string) Event {
	return Event{Type: EventResultReady, ArtifactPath: artifactPath, SidecarPath: sidecarPath}
}

// SampleSkipped reports an input sample the engine could not use.
func SampleSkipped(reason string) Event {
	return Event{Type: EventSampleSkipped, Reason: reason}
}

// Failed reports a terminal engine failure. Errors without a taxonomy mark
// are classified as session output failures.
func Failed(err error) Event {
	if err == nil {
		err = errors.New("capture engine failed")
	}
	if domain.KindOf(err) == domain.ErrorKindUnknown {
		err = errors.Mark(err, domain.ErrSessionOutput)
	}
	return Event{Type: EventFailed, Err: err}
}

// Request describes one capture run.
type Request struct {
	Input       domain.InputSource
	InputDir    string
	OutputPath  string
	SidecarPath string
}

// Engine is the external capture capability.
type Engine interface {
	// Supported reports whether capture can run on this device.
	Supported() bool
	// Configure prepares a session; ErrUnsupportedDevice when unavailable.
	Configure(opts domain.CaptureOptions) (Session, error)
}

// Session is a single, non-restartable capture run.
type Session interface {
	Start(ctx context.Context, req Request) error
	// Events is closed after exactly one terminal event.
	Events() <-chan Event
	// Cancel is advisory and may be called repeatedly.
	Cancel()
}

// DetailLevel is one reconstruction quality preset.
type DetailLevel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DetailLevels lists presets from fastest to most detailed.
var DetailLevels = []DetailLevel{
	{ID: "preview", Name: "Preview", Description: "Fast, low-resolution model for a quick check."},
	{ID: "reduced", Name: "Reduced", Description: "Small mesh suited for sharing and AR viewing."},
	{ID: "medium", Name: "Medium", Description: "Balanced geometry and texture quality."},
	{ID: "full", Name: "Full", Description: "High-detail mesh and textures."},
	{ID: "raw", Name: "Raw", Description: "Unsimplified output for post-processing tools."},
}

var (
	featureSensitivities = []string{"normal", "high"}
	sampleOrderings      = []string{"unordered", "sequential"}
)

// LookupDetailLevel returns the preset with the given ID.
func LookupDetailLevel(id string) (DetailLevel, bool) {
	for _, level := range DetailLevels {
		if level.ID == id {
			return level, true
		}
	}
	return DetailLevel{}, false
}

// NormalizeOptions fills empty fields with defaults and rejects unknown
// values with ErrSessionStart.
func NormalizeOptions(opts domain.CaptureOptions) (domain.CaptureOptions, error) {
	opts.FeatureSensitivity = strings.ToLower(strings.TrimSpace(opts.FeatureSensitivity))
	opts.SampleOrdering = strings.ToLower(strings.TrimSpace(opts.SampleOrdering))
	opts.DetailLevel = strings.ToLower(strings.TrimSpace(opts.DetailLevel))
	if opts.FeatureSensitivity == "" {
		opts.FeatureSensitivity = "normal"
	}
	if opts.SampleOrdering == "" {
		opts.SampleOrdering = "unordered"
	}
	if opts.DetailLevel == "" {
		opts.DetailLevel = "medium"
	}

	if !contains(featureSensitivities, opts.FeatureSensitivity) {
		return opts, invalidOption("feature sensitivity", opts.FeatureSensitivity)
	}
	if !contains(sampleOrderings, opts.SampleOrdering) {
		return opts, invalidOption("sample ordering", opts.SampleOrdering)
	}
	if _, ok := LookupDetailLevel(opts.DetailLevel); !ok {
		return opts, invalidOption("detail level", opts.DetailLevel)
	}
	return opts, nil
}

func invalidOption(name, value string) error {
	return errors.WithHint(
		errors.Mark(errors.Newf("unsupported %s %q", name, value), domain.ErrSessionStart),
		"Pick a supported value in capture settings.",
	)
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
