package bootstrap

import (
	"testing"

	"room-capture/internal/domain"
)

// TestDetailLevelOptionsMarksSelection verifies catalog order and selection.
func TestDetailLevelOptionsMarksSelection(t *testing.T) {
	options := detailLevelOptions("full")
	if len(options) != 5 || options[0].ID != "preview" || options[4].ID != "raw" {
		t.Fatalf("options = %+v", options)
	}
	for _, option := range options {
		if option.Selected != (option.ID == "full") {
			t.Fatalf("option %s selected = %v", option.ID, option.Selected)
		}
	}
}

// TestSelectDetailLevelPersists saves the chosen preset.
func TestSelectDetailLevelPersists(t *testing.T) {
	store := &fakeStore{settings: domain.Settings{WorkspaceRoot: t.TempDir()}}
	app := newTestApp(t, store, nil)

	settings, err := app.SelectDetailLevel(" Reduced ")
	if err != nil {
		t.Fatalf("select detail level: %v", err)
	}
	if settings.DetailLevel != "reduced" || store.settings.DetailLevel != "reduced" {
		t.Fatalf("detail level = %q, stored %q", settings.DetailLevel, store.settings.DetailLevel)
	}

	for _, option := range app.GetDetailLevels() {
		if option.ID == "reduced" && !option.Selected {
			t.Fatal("expected reduced to be selected")
		}
	}
}

// TestSelectDetailLevelRejectsUnknown leaves settings untouched.
func TestSelectDetailLevelRejectsUnknown(t *testing.T) {
	store := &fakeStore{settings: domain.Settings{WorkspaceRoot: t.TempDir(), DetailLevel: "medium"}}
	app := newTestApp(t, store, nil)

	if _, err := app.SelectDetailLevel("ultra"); err == nil {
		t.Fatal("expected unknown detail level to be rejected")
	}
	if store.settings.DetailLevel != "medium" {
		t.Fatalf("stored detail level = %q", store.settings.DetailLevel)
	}
}
