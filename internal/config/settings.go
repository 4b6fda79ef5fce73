package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"wapor-downloader/internal/common"
)

// AppDirName is the directory created under the XDG config home
const AppDirName = "wapor-downloader"

// DedupeExemption disables duplicate-cell removal for matching datasets.
// An empty field matches anything.
type DedupeExemption struct {
	Workspace string `json:"workspace,omitempty"`
	Cube      string `json:"cube,omitempty"`
}

// Matches reports whether the exemption covers the workspace/cube pair
func (e DedupeExemption) Matches(workspace, cube string) bool {
	if e.Workspace == "" && e.Cube == "" {
		return false
	}
	if e.Workspace != "" && e.Workspace != workspace {
		return false
	}
	if e.Cube != "" && e.Cube != cube {
		return false
	}
	return true
}

// MaskRule restricts the multiplier to pixel values below Threshold.
// ExceptCubes lists cubes of the workspace the rule does not apply to.
type MaskRule struct {
	Workspace   string   `json:"workspace"`
	ExceptCubes []string `json:"exceptCubes,omitempty"`
	Threshold   float64  `json:"threshold"`
}

// ThresholdFor returns the mask threshold for a dataset, if any rule applies
func ThresholdFor(rules []MaskRule, workspace, cube string) (float64, bool) {
	for _, rule := range rules {
		if rule.Workspace != workspace {
			continue
		}
		excepted := false
		for _, c := range rule.ExceptCubes {
			if c == cube {
				excepted = true
				break
			}
		}
		if !excepted {
			return rule.Threshold, true
		}
	}
	return 0, false
}

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Download settings
	DownloadPath string `json:"downloadPath"`
	OutputMode   string `json:"outputMode"` // "Average" or "Cumulative"
	Clip         bool   `json:"clip"`

	// API settings
	BaseURL          string   `json:"baseUrl"`
	Workspace        string   `json:"workspace"`
	CatalogTags      []string `json:"catalogTags"`
	TaggedWorkspaces []string `json:"taggedWorkspaces"` // workspaces whose listings are split by tag

	// Job polling and token refresh
	PollIntervalSeconds int `json:"pollIntervalSeconds"`
	MaxPollAttempts     int `json:"maxPollAttempts"`
	TokenMarginSeconds  int `json:"tokenMarginSeconds"`

	// Dataset handling
	LegendMarker         string            `json:"legendMarker"`
	DedupeExemptions     []DedupeExemption `json:"dedupeExemptions"`
	MaskRules            []MaskRule        `json:"maskRules"`
	CumulativeWorkspaces []string          `json:"cumulativeWorkspaces"`
	LegendWorkspaces     []string          `json:"legendWorkspaces"`
	StopOnRasterError    bool              `json:"stopOnRasterError"`

	// Telemetry
	TelemetryEnabled    bool   `json:"telemetryEnabled"`
	TelemetryDistinctID string `json:"telemetryDistinctId"`
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	homeDir, _ := os.UserHomeDir()
	downloadPath := filepath.Join(homeDir, "Downloads", "wapor")

	return &UserSettings{
		DownloadPath:        downloadPath,
		OutputMode:          string(common.OutputAverage),
		Clip:                true,
		BaseURL:             common.DefaultBaseURL,
		Workspace:           common.WorkspaceWaPOR2,
		CatalogTags:         append([]string(nil), common.DefaultCatalogTags...),
		TaggedWorkspaces:    []string{common.WorkspaceWaPOR2},
		PollIntervalSeconds: 2,
		MaxPollAttempts:     450,
		TokenMarginSeconds:  600,
		LegendMarker:        "lcc",
		DedupeExemptions: []DedupeExemption{
			{Cube: "EMS"},
			{Workspace: common.WorkspaceGLEAM3},
		},
		MaskRules: []MaskRule{
			{Workspace: common.WorkspaceASIS, ExceptCubes: []string{"PHE"}, Threshold: 251},
		},
		CumulativeWorkspaces: []string{common.WorkspaceWaPOR2},
		LegendWorkspaces:     []string{common.WorkspaceWaPOR2},
		TelemetryEnabled:     true,
		TelemetryDistinctID:  uuid.NewString(),
	}
}

// GetSettingsPath returns the OS-specific settings file path
func GetSettingsPath() string {
	return filepath.Join(xdg.ConfigHome, AppDirName, "settings.json")
}

// LoadSettings loads user settings from path, falling back to defaults when
// the file does not exist
func LoadSettings(fs afero.Fs, path string) (*UserSettings, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	if !exists {
		return DefaultSettings(), nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Merge with defaults for any missing fields
	defaults := DefaultSettings()
	if settings.DownloadPath == "" {
		settings.DownloadPath = defaults.DownloadPath
	}
	if settings.OutputMode == "" {
		settings.OutputMode = defaults.OutputMode
	}
	if settings.BaseURL == "" {
		settings.BaseURL = defaults.BaseURL
	}
	if settings.Workspace == "" {
		settings.Workspace = defaults.Workspace
	}
	if settings.CatalogTags == nil {
		settings.CatalogTags = defaults.CatalogTags
	}
	if settings.TaggedWorkspaces == nil {
		settings.TaggedWorkspaces = defaults.TaggedWorkspaces
	}
	if settings.PollIntervalSeconds == 0 {
		settings.PollIntervalSeconds = defaults.PollIntervalSeconds
	}
	if settings.MaxPollAttempts == 0 {
		settings.MaxPollAttempts = defaults.MaxPollAttempts
	}
	if settings.TokenMarginSeconds == 0 {
		settings.TokenMarginSeconds = defaults.TokenMarginSeconds
	}
	if settings.LegendMarker == "" {
		settings.LegendMarker = defaults.LegendMarker
	}
	if settings.DedupeExemptions == nil {
		settings.DedupeExemptions = defaults.DedupeExemptions
	}
	if settings.MaskRules == nil {
		settings.MaskRules = defaults.MaskRules
	}
	if settings.CumulativeWorkspaces == nil {
		settings.CumulativeWorkspaces = defaults.CumulativeWorkspaces
	}
	if settings.LegendWorkspaces == nil {
		settings.LegendWorkspaces = defaults.LegendWorkspaces
	}
	if settings.TelemetryDistinctID == "" {
		settings.TelemetryDistinctID = defaults.TelemetryDistinctID
	}

	return &settings, nil
}

// SaveSettings saves user settings to path
func SaveSettings(fs afero.Fs, path string, settings *UserSettings) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// Validate checks the settings for values the downloader cannot work with
func (s *UserSettings) Validate() error {
	var errs []error
	if s.DownloadPath == "" {
		errs = append(errs, errors.New("download path cannot be empty"))
	}
	if s.BaseURL == "" {
		errs = append(errs, errors.New("base URL cannot be empty"))
	}
	if s.Workspace == "" {
		errs = append(errs, errors.New("workspace cannot be empty"))
	}
	if _, err := common.ParseOutputMode(s.OutputMode); err != nil {
		errs = append(errs, err)
	}
	if s.PollIntervalSeconds <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if s.MaxPollAttempts <= 0 {
		errs = append(errs, errors.New("max poll attempts must be positive"))
	}
	if s.TokenMarginSeconds < 0 {
		errs = append(errs, errors.New("token margin cannot be negative"))
	}
	for i, rule := range s.MaskRules {
		if rule.Workspace == "" {
			errs = append(errs, fmt.Errorf("mask rule %d: workspace is required", i))
		}
	}
	return errors.Join(errs...)
}

// DedupeExempt reports whether duplicate-cell removal is disabled for a dataset
func (s *UserSettings) DedupeExempt(workspace, cube string) bool {
	for _, e := range s.DedupeExemptions {
		if e.Matches(workspace, cube) {
			return true
		}
	}
	return false
}

// CumulativeAllowed reports whether the cumulative conversion may be applied
// to datasets of the workspace
func (s *UserSettings) CumulativeAllowed(workspace string) bool {
	return hasWorkspace(s.CumulativeWorkspaces, workspace)
}

// LegendAllowed reports whether classified datasets of the workspace get a
// legend file
func (s *UserSettings) LegendAllowed(workspace string) bool {
	return hasWorkspace(s.LegendWorkspaces, workspace)
}

// CatalogTagsFor returns the tags that select the cube listings of the
// workspace. Untagged workspaces get nil, which lists every cube.
func (s *UserSettings) CatalogTagsFor(workspace string) []string {
	if !hasWorkspace(s.TaggedWorkspaces, workspace) {
		return nil
	}
	return s.CatalogTags
}

func hasWorkspace(workspaces []string, workspace string) bool {
	for _, ws := range workspaces {
		if ws == workspace {
			return true
		}
	}
	return false
}
