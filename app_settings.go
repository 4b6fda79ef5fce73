package main

import (
	"wapor-downloader/internal/config"
)

// ===================
// Settings Management
// ===================

// GetSettings returns current user settings
func (a *App) GetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	return &settingsCopy, nil
}

// SaveSettings saves user settings to disk and updates app state
func (a *App) SaveSettings(settings *config.UserSettings) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := settings.Validate(); err != nil {
		return err
	}

	if err := config.SaveSettings(a.fs, a.settingsPath, settings); err != nil {
		return err
	}

	a.settings = settings
	a.logger.Info("Settings saved", "path", a.settingsPath)
	return nil
}

// GetSettingsPath returns the settings file in use
func (a *App) GetSettingsPath() string {
	return a.settingsPath
}

// SetDownloadPath changes and persists the default destination folder
func (a *App) SetDownloadPath(path string) error {
	settings, _ := a.GetSettings()
	settings.DownloadPath = path
	return a.SaveSettings(settings)
}

// ResetSettings restores the defaults, keeping the telemetry id
func (a *App) ResetSettings() error {
	current, _ := a.GetSettings()
	settings := config.DefaultSettings()
	settings.TelemetryDistinctID = current.TelemetryDistinctID
	return a.SaveSettings(settings)
}
