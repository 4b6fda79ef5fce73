package downloads

import (
	"path/filepath"
	"time"

	"github.com/paulmach/orb"

	"wapor-downloader/internal/utils/naming"
	"wapor-downloader/internal/wapor"
)

// Request describes one download run
type Request struct {
	APIKey   string
	Datasets []string

	// BBox is the crop extent. When nil the cutline extent is used.
	BBox *BoundingBox

	// CutlinePath is a GeoJSON or WKT polygon file in EPSG:4326
	CutlinePath string
	// Clip clips every raster to the cutline (all-touched)
	Clip bool

	// Cumulative converts dekadal averages to totals
	Cumulative bool

	Start time.Time
	End   time.Time

	// Destination is the folder the session directory is created in
	Destination string

	// Filters restricts categorical dimensions to the listed member codes
	Filters map[string][]string
}

// Session holds everything one run owns: token, catalog cache, output
// directory and manifest. Nothing outlives it.
type Session struct {
	ID        string
	Dir       string
	Workspace string
	Started   time.Time

	Request Request
	Bound   orb.Bound
	Cutline orb.MultiPolygon

	Tokens   *wapor.TokenManager
	Catalog  *wapor.Catalog
	Manifest *Manifest
}

// DatasetDir is the folder rasters and the legend of a dataset are written to
func (s *Session) DatasetDir(code string) string {
	return filepath.Join(s.Dir, naming.SanitizeComponent(code))
}

// RasterPath is the output file of one availability row
func (s *Session) RasterPath(code string, row wapor.AvailabilityRow) string {
	return filepath.Join(s.DatasetDir(code), naming.RasterFilename(row.RasterID, row.TimeCode))
}

// LegendPath is the legend CSV of a classification dataset
func (s *Session) LegendPath(code string) string {
	return filepath.Join(s.DatasetDir(code), naming.LegendFilename(code))
}

// ListPath is the availability table of a dataset, kept at the session root
func (s *Session) ListPath(code string) string {
	return filepath.Join(s.Dir, naming.ListFilename(code))
}
