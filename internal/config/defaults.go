package config

import (
	"os"
	"path/filepath"

	"room-capture/internal/domain"
)

const (
	DefaultEnginePath         = "photogrammetry-engine"
	DefaultFeatureSensitivity = "normal"
	DefaultSampleOrdering     = "unordered"
	DefaultDetailLevel        = "medium"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		EnginePath:         DefaultEnginePath,
		WorkspaceRoot:      os.TempDir(),
		ExportDir:          filepath.Join(homeDir, "Documents", "Captures"),
		FeatureSensitivity: DefaultFeatureSensitivity,
		SampleOrdering:     DefaultSampleOrdering,
		ObjectMasking:      true,
		DetailLevel:        DefaultDetailLevel,
	}
}

// DefaultPath is the settings file location under the user's home.
func DefaultPath(homeDir string) string {
	return filepath.Join(homeDir, ".room-capture", "settings.json")
}
