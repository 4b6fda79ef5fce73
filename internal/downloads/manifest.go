package downloads

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"wapor-downloader/internal/utils/naming"
)

// SessionStatus represents the current status of a download session
type SessionStatus string

const (
	SessionStatusPending            SessionStatus = "pending"
	SessionStatusRunning            SessionStatus = "running"
	SessionStatusCompleted          SessionStatus = "completed"
	SessionStatusCompletedWithSkips SessionStatus = "completed_with_skips"
	SessionStatusFailed             SessionStatus = "failed"
	SessionStatusCancelled          SessionStatus = "cancelled"
)

// SessionProgress represents detailed progress information
type SessionProgress struct {
	CurrentPhase   string `json:"currentPhase"`
	TotalDatasets  int    `json:"totalDatasets"`
	CurrentDataset int    `json:"currentDataset"`
	RastersTotal   int    `json:"rastersTotal"`
	RastersDone    int    `json:"rastersDone"`
	Percent        int    `json:"percent"`
}

// Skip records an item that was not written
type Skip struct {
	Dataset string `json:"dataset"`
	Raster  string `json:"raster,omitempty"`
	Reason  string `json:"reason"`
}

// Manifest is the session.json record kept at the session root
type Manifest struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	CreatedAt   string        `json:"createdAt"` // ISO 8601 format
	StartedAt   string        `json:"startedAt,omitempty"`
	CompletedAt string        `json:"completedAt,omitempty"`

	// Request
	Workspace  string      `json:"workspace"`
	Datasets   []string    `json:"datasets"`
	BBox       BoundingBox `json:"bbox"`
	Cutline    string      `json:"cutline,omitempty"`
	Clip       bool        `json:"clip"`
	Cumulative bool        `json:"cumulative"`
	StartDate  string      `json:"startDate"`
	EndDate    string      `json:"endDate"`

	Progress SessionProgress `json:"progress"`

	Written []string `json:"written"`
	Skipped []Skip   `json:"skipped"`

	// Error message if failed
	Error string `json:"error,omitempty"`
}

// NewManifest creates a pending manifest for a request
func NewManifest(workspace string, req Request, bbox BoundingBox) *Manifest {
	return &Manifest{
		ID:         uuid.NewString(),
		Status:     SessionStatusPending,
		CreatedAt:  time.Now().Format(time.RFC3339),
		Workspace:  workspace,
		Datasets:   append([]string(nil), req.Datasets...),
		BBox:       bbox,
		Cutline:    req.CutlinePath,
		Clip:       req.Clip,
		Cumulative: req.Cumulative,
		StartDate:  req.Start.Format("2006-01-02"),
		EndDate:    req.End.Format("2006-01-02"),
		Progress: SessionProgress{
			TotalDatasets: len(req.Datasets),
		},
		Written: []string{},
		Skipped: []Skip{},
	}
}

// SaveToFile persists the manifest as session.json in dir
func (m *Manifest) SaveToFile(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	path := filepath.Join(dir, naming.ManifestFilename)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// LoadManifest loads a manifest from a JSON file
func LoadManifest(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	return &m, nil
}

// UpdateProgress copies an event's position into the manifest
func (m *Manifest) UpdateProgress(e Event) {
	m.Progress.CurrentPhase = e.State.String()
	m.Progress.CurrentDataset = e.DatasetIndex
	m.Progress.TotalDatasets = e.DatasetTotal
	m.Progress.RastersDone = e.RasterIndex
	m.Progress.RastersTotal = e.RasterTotal
	m.Progress.Percent = e.Percent()
}

// MarkStarted marks the session as started
func (m *Manifest) MarkStarted() {
	m.StartedAt = time.Now().Format(time.RFC3339)
	m.Status = SessionStatusRunning
}

// MarkCompleted marks the session as completed, with skips when any item
// was not written
func (m *Manifest) MarkCompleted() {
	m.CompletedAt = time.Now().Format(time.RFC3339)
	m.Status = SessionStatusCompleted
	if len(m.Skipped) > 0 {
		m.Status = SessionStatusCompletedWithSkips
	}
	m.Progress.Percent = 100
}

// MarkFailed marks the session as failed with an error
func (m *Manifest) MarkFailed(err error) {
	m.CompletedAt = time.Now().Format(time.RFC3339)
	m.Status = SessionStatusFailed
	if err != nil {
		m.Error = err.Error()
	}
}

// MarkCancelled marks the session as cancelled
func (m *Manifest) MarkCancelled() {
	m.CompletedAt = time.Now().Format(time.RFC3339)
	m.Status = SessionStatusCancelled
}
