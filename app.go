package main

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/spf13/afero"

	"wapor-downloader/internal/config"
	"wapor-downloader/internal/downloads"
	"wapor-downloader/internal/logging"
	"wapor-downloader/internal/telemetry"
	"wapor-downloader/internal/wapor"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// ErrDownloadRunning is returned when a second download is started
var ErrDownloadRunning = errors.New("a download is already running")

// App struct
type App struct {
	fs           afero.Fs
	env          *config.Environment
	settings     *config.UserSettings
	settingsPath string
	logger       *logging.Logger
	tracker      *telemetry.Tracker
	mu           sync.Mutex

	current *downloads.Handle // running download, if any
}

// NewApp creates a new App with settings loaded from the environment's
// settings path
func NewApp(fs afero.Fs, env *config.Environment, logger *logging.Logger) *App {
	settingsPath := env.ResolveSettingsPath()
	settings, err := config.LoadSettings(fs, settingsPath)
	if err != nil {
		logger.Warn("Failed to load settings, using defaults", "err", err)
		settings = config.DefaultSettings()
	}
	env.Apply(settings)
	logger.Debug("Settings loaded", "path", settingsPath)

	tracker := telemetry.Noop()
	if settings.TelemetryEnabled {
		key, host := env.PosthogKey, env.PosthogHost
		if key == "" {
			key = PostHogKey
		}
		if PostHogHost != "" && env.PosthogHost == "" {
			host = PostHogHost
		}
		t, err := telemetry.New(key, host, settings.TelemetryDistinctID, AppVersion, logger)
		if err != nil {
			logger.Warn("Failed to initialize PostHog", "err", err)
		} else {
			tracker = t
		}
	}

	return &App{
		fs:           fs,
		env:          env,
		settings:     settings,
		settingsPath: settingsPath,
		logger:       logger,
		tracker:      tracker,
	}
}

// startup is called before any command runs
func (a *App) startup() {
	a.TrackEvent(telemetry.EventAppStarted, map[string]interface{}{
		"version": a.GetAppVersion(),
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
	})
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	a.tracker.Track(event, props)
}

// Shutdown cleans up resources
func (a *App) Shutdown() {
	a.CancelDownload()
	if err := a.tracker.Close(); err != nil {
		a.logger.Debug("Failed to flush telemetry", "err", err)
	}
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

// newClient creates a WaPOR client from the current settings
func (a *App) newClient(settings *config.UserSettings) *wapor.Client {
	return wapor.NewClient(wapor.ClientConfig{
		BaseURL:         settings.BaseURL,
		Workspace:       settings.Workspace,
		PollInterval:    time.Duration(settings.PollIntervalSeconds) * time.Second,
		MaxPollAttempts: settings.MaxPollAttempts,
		DedupeExempt:    settings.DedupeExempt,
		Logger:          a.logger,
	})
}

// ListWorkspaces returns the workspaces of the catalog
func (a *App) ListWorkspaces(ctx context.Context) ([]wapor.Workspace, error) {
	settings, _ := a.GetSettings()
	return a.newClient(settings).ListWorkspaces(ctx)
}

// ListDatasets returns the datasets of the configured workspace carrying
// tag, sorted for display
func (a *App) ListDatasets(ctx context.Context, tag string) ([]wapor.Cube, error) {
	settings, _ := a.GetSettings()
	cubes, err := a.newClient(settings).ListCubes(ctx, tag)
	if err != nil {
		return nil, err
	}
	wapor.SortForListing(cubes, tag)
	return cubes, nil
}

// DescribeDataset resolves a dataset with its measure and dimensions
func (a *App) DescribeDataset(ctx context.Context, code string) (*wapor.Cube, error) {
	settings, _ := a.GetSettings()
	return a.newClient(settings).NewCatalog(settings.CatalogTagsFor(settings.Workspace)).ResolveDataset(ctx, code)
}

// APIKey returns the key from WAPOR_API_KEY
func (a *App) APIKey() string {
	return a.env.APIKey
}

// Download runs one download session and forwards its events to onEvent.
// Only one download runs at a time.
func (a *App) Download(ctx context.Context, req downloads.Request, onEvent func(downloads.Event)) (*downloads.Summary, error) {
	settings, _ := a.GetSettings()

	orchestrator := downloads.NewOrchestrator(
		a.newClient(settings),
		a.fs,
		settings,
		a.logger,
		nil,
		func(message string) { a.logger.Debug(message) },
		a.TrackEvent,
	)

	a.mu.Lock()
	if a.current != nil {
		a.mu.Unlock()
		return nil, ErrDownloadRunning
	}
	handle := orchestrator.Start(ctx, req)
	a.current = handle
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.current = nil
		a.mu.Unlock()
	}()

	for e := range handle.Events() {
		if onEvent != nil {
			onEvent(e)
		}
	}
	return handle.Wait()
}

// CancelDownload asks the running download to stop. It reports whether a
// download was running.
func (a *App) CancelDownload() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return false
	}
	a.current.Cancel()
	a.logger.Info("Download cancel requested")
	return true
}

// describeSummary renders the outcome of a session for the terminal
func describeSummary(s *downloads.Summary) string {
	msg := fmt.Sprintf("%s: %d raster(s) written", s.State, len(s.Written))
	if len(s.Skipped) > 0 {
		msg += fmt.Sprintf(", %d item(s) skipped", len(s.Skipped))
	}
	if s.SessionDir != "" {
		msg += " in " + s.SessionDir
	}
	return msg
}
