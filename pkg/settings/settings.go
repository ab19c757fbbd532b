// Package settings persists the user's tracker configuration between runs.
package settings

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/balanceai/balance/pkg/core"
	"github.com/balanceai/balance/pkg/track"
)

const (
	DefaultWeightKg = 70.0
	DefaultTier     = track.IntensityModerate
)

// Settings is the persisted user configuration. Weight and intensity are
// editable only between tracking sessions; a running tracker holds the values
// it snapshotted at start.
type Settings struct {
	WeightKg  float64         `json:"weight_kg"`
	Intensity track.Intensity `json:"intensity"`
}

// Validate checks the settings are usable for a tracking session.
func (s Settings) Validate() error {
	if s.WeightKg <= 0 {
		return core.NewInvalidRequestError("weight must be positive", "weight_kg")
	}
	if !s.Intensity.Valid() {
		return core.NewInvalidRequestError("unknown intensity tier: "+string(s.Intensity), "intensity")
	}
	return nil
}

// Store reads and writes settings as JSON at a fixed path.
type Store struct {
	path string
}

// NewStore creates a store over the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the per-user settings location, normally
// ~/.config/balance/settings.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", core.NewUnavailableError("no user config dir: " + err.Error())
	}
	return filepath.Join(dir, "balance", "settings.json"), nil
}

// Load reads the persisted settings. A missing file yields the defaults; a
// present but unreadable or invalid file is an error.
func (s *Store) Load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{WeightKg: DefaultWeightKg, Intensity: DefaultTier}, nil
	}
	if err != nil {
		return Settings{}, core.NewUnavailableError("read settings: " + err.Error())
	}
	var out Settings
	if err := json.Unmarshal(data, &out); err != nil {
		return Settings{}, core.NewInvalidRequestError("malformed settings file: "+err.Error(), "")
	}
	if err := out.Validate(); err != nil {
		return Settings{}, err
	}
	return out, nil
}

// Save validates and writes the settings, creating the directory as needed.
// The write goes through a temp file and rename so a crash cannot leave a
// half-written settings file behind.
func (s *Store) Save(in Settings) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return core.NewUnavailableError("create settings dir: " + err.Error())
	}
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return core.NewUnavailableError("encode settings: " + err.Error())
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return core.NewUnavailableError("write settings: " + err.Error())
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return core.NewUnavailableError("replace settings: " + err.Error())
	}
	return nil
}
