package bootstrap

import (
	"strings"

	"github.com/cockroachdb/errors"

	"room-capture/internal/capture"
	"room-capture/internal/domain"
)

// GetDetailLevels returns the reconstruction presets with the configured
// one marked as selected.
func (a *App) GetDetailLevels() []domain.DetailLevelOption {
	selected := ""
	if settings, err := a.GetSettings(); err == nil {
		selected = settings.DetailLevel
	}
	return detailLevelOptions(selected)
}

// SelectDetailLevel persists the chosen preset to settings.
func (a *App) SelectDetailLevel(levelID string) (domain.Settings, error) {
	id := strings.ToLower(strings.TrimSpace(levelID))
	if id == "" {
		return domain.Settings{}, errors.New("detail level id is required")
	}
	if _, ok := capture.LookupDetailLevel(id); !ok {
		return domain.Settings{}, errors.Newf("unknown detail level: %s", id)
	}

	settings, err := a.GetSettings()
	if err != nil {
		return domain.Settings{}, err
	}
	settings.DetailLevel = id
	return a.SaveSettings(settings)
}

func detailLevelOptions(selected string) []domain.DetailLevelOption {
	out := make([]domain.DetailLevelOption, 0, len(capture.DetailLevels))
	for _, level := range capture.DetailLevels {
		out = append(out, domain.DetailLevelOption{
			ID:          level.ID,
			Name:        level.Name,
			Description: level.Description,
			Selected:    level.ID == selected,
		})
	}
	return out
}
