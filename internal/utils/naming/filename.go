package naming

import (
	"fmt"
	"strings"
	"time"

	"wapor-downloader/internal/common"
)

// unsafeChars are replaced in path components built from server values
var unsafeChars = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
)

// SanitizeComponent makes a server supplied value usable as a single path
// component. Brackets and commas of time codes are kept.
func SanitizeComponent(s string) string {
	return unsafeChars.Replace(strings.TrimSpace(s))
}

// SessionDirName creates the per-run output directory name
// Format: {workspace} {YYYY-MM-DD-HH-MM-SS}
func SessionDirName(workspace string, t time.Time) string {
	return fmt.Sprintf("%s %s", SanitizeComponent(workspace), t.Format(common.SessionTimestamp))
}

// RasterFilename creates the output name of one raster
// Format: {rasterId}{timeCode}.tif
func RasterFilename(rasterID, timeCode string) string {
	return SanitizeComponent(rasterID+timeCode) + ".tif"
}

// LegendFilename creates the classification legend name
// Format: {cube} Legend.csv
func LegendFilename(cube string) string {
	return SanitizeComponent(cube) + " Legend.csv"
}

// ListFilename creates the availability table name
// Format: {cube} list.csv
func ListFilename(cube string) string {
	return SanitizeComponent(cube) + " list.csv"
}

// ManifestFilename is the session record written at the session root
const ManifestFilename = "session.json"
