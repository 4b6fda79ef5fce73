package downloads

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
)

// BoundingBox represents a geographic bounding box in EPSG:4326
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Constants for validation
const (
	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 180.0
)

// Validate checks if the bounding box is valid
func (b BoundingBox) Validate() error {
	if b.South >= b.North {
		return fmt.Errorf("south (%f) must be less than north (%f)", b.South, b.North)
	}
	if b.West >= b.East {
		return fmt.Errorf("west (%f) must be less than east (%f)", b.West, b.East)
	}
	if b.South < MinLat || b.North > MaxLat {
		return fmt.Errorf("latitude out of range [-90, 90]: south=%f, north=%f", b.South, b.North)
	}
	if b.West < MinLon || b.East > MaxLon {
		return fmt.Errorf("longitude out of range [-180, 180]: west=%f, east=%f", b.West, b.East)
	}
	return nil
}

// Bound converts the box to an orb.Bound (x = longitude, y = latitude)
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

// BoundingBoxFromBound is the inverse of BoundingBox.Bound
func BoundingBoxFromBound(bound orb.Bound) BoundingBox {
	return BoundingBox{
		South: bound.Min.Y(),
		West:  bound.Min.X(),
		North: bound.Max.Y(),
		East:  bound.Max.X(),
	}
}

// ValidateOutputPath validates that a file path is within the session directory.
// Names built from server values must not escape it.
func ValidateOutputPath(sessionDir, filePath string) error {
	if sessionDir == "" || filePath == "" {
		return fmt.Errorf("session directory or file path is empty")
	}

	absSessionDir, err := filepath.Abs(sessionDir)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for session directory: %w", err)
	}

	absFilePath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for file: %w", err)
	}

	relPath, err := filepath.Rel(absSessionDir, absFilePath)
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}

	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal attempt detected: %s is outside session directory %s", filePath, sessionDir)
	}

	return nil
}
