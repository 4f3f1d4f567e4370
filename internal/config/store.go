package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"room-capture/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. ROOMCAPTURE_DETAILLEVEL.
const EnvPrefix = "ROOMCAPTURE"

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// JSONStore persists settings in a single JSON file on disk. Loading goes
// through viper so defaults and environment overrides apply uniformly.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the backing file location.
func (s *JSONStore) Path() string {
	return s.path
}

// Load reads settings from disk, falling back to defaults for missing keys
// or a missing file, then applies environment overrides.
func (s *JSONStore) Load() (domain.Settings, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v, DefaultSettings())

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return domain.Settings{}, errors.Wrapf(err, "read settings %s", s.path)
	default:
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return domain.Settings{}, errors.Wrapf(err, "parse settings %s", s.path)
		}
	}

	var cfg domain.Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Settings{}, errors.Wrap(err, "decode settings")
	}
	return cfg, nil
}

// Save writes settings as indented JSON and creates parent directories.
func (s *JSONStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create settings directory")
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// setDefaults registers every settings key so env overrides resolve.
func setDefaults(v *viper.Viper, d domain.Settings) {
	v.SetDefault("enginePath", d.EnginePath)
	v.SetDefault("workspaceRoot", d.WorkspaceRoot)
	v.SetDefault("exportDir", d.ExportDir)
	v.SetDefault("featureSensitivity", d.FeatureSensitivity)
	v.SetDefault("sampleOrdering", d.SampleOrdering)
	v.SetDefault("objectMasking", d.ObjectMasking)
	v.SetDefault("detailLevel", d.DetailLevel)
}
