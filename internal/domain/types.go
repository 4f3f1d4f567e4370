package domain

import "time"

// JobStatus tracks each orchestration stage for a single capture job.
type JobStatus string

const (
	JobStatusIdle        JobStatus = "idle"
	JobStatusConfiguring JobStatus = "configuring"
	JobStatusRunning     JobStatus = "running"
	JobStatusSucceeded   JobStatus = "succeeded"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

// IsTerminal reports whether no further work happens without a restart.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the job currently owns the engine.
func (s JobStatus) IsActive() bool {
	return s == JobStatusConfiguring || s == JobStatusRunning
}

// CaptureKind distinguishes object photogrammetry from room scanning.
type CaptureKind string

const (
	CaptureKindObject CaptureKind = "object"
	CaptureKindRoom   CaptureKind = "room"
)

// InputKind names where the engine reads samples from.
type InputKind string

const (
	InputKindFolder     InputKind = "folder"
	InputKindLiveSensor InputKind = "live_sensor"
)

// InputSource is either an image folder or the live device sensor feed.
type InputSource struct {
	Kind InputKind `json:"kind"`
	Path string    `json:"path,omitempty"`
}

// FolderInput builds a folder-backed input source.
func FolderInput(path string) InputSource {
	return InputSource{Kind: InputKindFolder, Path: path}
}

// LiveSensorInput builds a live sensor input source.
func LiveSensorInput() InputSource {
	return InputSource{Kind: InputKindLiveSensor}
}

// CaptureOptions configures the external reconstruction engine.
type CaptureOptions struct {
	FeatureSensitivity string `json:"featureSensitivity"`
	SampleOrdering     string `json:"sampleOrdering"`
	ObjectMasking      bool   `json:"objectMasking"`
	DetailLevel        string `json:"detailLevel"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	EnginePath         string `json:"enginePath"`
	WorkspaceRoot      string `json:"workspaceRoot"`
	ExportDir          string `json:"exportDir"`
	FeatureSensitivity string `json:"featureSensitivity"`
	SampleOrdering     string `json:"sampleOrdering"`
	ObjectMasking      bool   `json:"objectMasking"`
	DetailLevel        string `json:"detailLevel"`
}

// CaptureOptions extracts engine options from settings.
func (s Settings) CaptureOptions() CaptureOptions {
	return CaptureOptions{
		FeatureSensitivity: s.FeatureSensitivity,
		SampleOrdering:     s.SampleOrdering,
		ObjectMasking:      s.ObjectMasking,
		DetailLevel:        s.DetailLevel,
	}
}

// StagedArtifact is a finished model waiting to be renamed or exported.
type StagedArtifact struct {
	TemporaryPath string `json:"temporaryPath"`
	SidecarPath   string `json:"sidecarPath,omitempty"`
	FinalPath     string `json:"finalPath,omitempty"`
}

// Path returns the final location once renamed, else the staged one.
func (a StagedArtifact) Path() string {
	if a.FinalPath != "" {
		return a.FinalPath
	}
	return a.TemporaryPath
}

// Job stores the current capture job identity and lifecycle status.
type Job struct {
	ID         string          `json:"id"`
	Kind       CaptureKind     `json:"kind"`
	Input      InputSource     `json:"input"`
	OutputPath string          `json:"outputPath,omitempty"`
	Status     JobStatus       `json:"status"`
	Progress   float64         `json:"progress"`
	Artifact   *StagedArtifact `json:"artifact,omitempty"`
	Notice     *Notice         `json:"notice,omitempty"`
	StartedAt  time.Time       `json:"startedAt,omitempty"`
	FinishedAt time.Time       `json:"finishedAt,omitempty"`
}

// DetailLevelOption is one reconstruction preset shown in settings.
type DetailLevelOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Selected    bool   `json:"selected"`
}
