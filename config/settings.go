package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// UserSettings represents the user's personal settings
type UserSettings struct {
	UploadLocation      string `json:"uploadLocation"`
	DefaultTargetFormat string `json:"defaultTargetFormat"`
}

// defaultSettingsPath returns the path to the settings file
func defaultSettingsPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".anclora-settings.json"
	}
	return filepath.Join(homeDir, ".anclora-settings.json")
}

// LoadSettings loads the settings file; a missing file yields empty settings
func LoadSettings(path string) (*UserSettings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &UserSettings{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveSettings writes the settings file
func SaveSettings(path string, settings *UserSettings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
