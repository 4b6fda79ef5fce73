package downloads

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/spf13/afero"

	"wapor-downloader/internal/wapor"
)

// missingDescription fills description columns the catalog left empty
const missingDescription = "NA"

// WriteLegend writes the classification legend of a cube as CSV:
// code,caption,description with the measure first, then one row per class.
func WriteLegend(fs afero.Fs, path string, cube *wapor.Cube) error {
	records := [][]string{{"code", "caption", "description"}}
	for _, entry := range cube.Legend() {
		records = append(records, []string{entry.Code, entry.Caption, orNA(entry.Description)})
	}
	return writeCSV(fs, path, records)
}

// WriteAvailabilityList writes the flattened availability table of a cube.
// Every dimension contributes a caption, code and description column, then
// raster_id and bbox follow.
func WriteAvailabilityList(fs afero.Fs, path string, cube *wapor.Cube, rows []wapor.AvailabilityRow) error {
	header := make([]string, 0, 3*len(cube.Dimensions)+2)
	for _, dim := range cube.Dimensions {
		header = append(header, dim.Code, dim.Code+"-code", dim.Code+"-description")
	}
	header = append(header, "raster_id", "bbox")

	records := [][]string{header}
	for _, row := range rows {
		record := make([]string, 0, len(header))
		for _, dim := range cube.Dimensions {
			v, _ := row.Value(dim.Code)
			record = append(record, v.Caption, v.Code, orNA(v.Description))
		}
		record = append(record, row.RasterID, string(row.BBox))
		records = append(records, record)
	}
	return writeCSV(fs, path, records)
}

func writeCSV(fs afero.Fs, path string, records [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func orNA(s string) string {
	if s == "" {
		return missingDescription
	}
	return s
}
