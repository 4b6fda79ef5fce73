package wapor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Cell types of an MDAQuery_Table response
const (
	CellRowHeader = "ROW_HEADER"
	CellData      = "DATA_CELL"
)

// seasonCodes and stageCodes translate captions that are not listed as
// members into the codes the crop endpoint expects.
var (
	seasonCodes = map[string]string{"Season 1": "S1", "Season 2": "S2"}
	stageCodes  = map[string]string{"End": "EOS", "Maximum": "MOS", "Start": "SOS"}
)

// DimensionValue is the value one row takes along one dimension
type DimensionValue struct {
	Dimension   string
	Caption     string
	Code        string
	Description string

	// Resolved is false when the caption matched neither a member nor a
	// translation table and Code is the caption itself
	Resolved bool
}

// AvailabilityRow is one downloadable raster
type AvailabilityRow struct {
	Values   []DimensionValue
	RasterID string
	BBox     json.RawMessage
	TimeCode string
}

// Value returns the row's value along a dimension
func (r AvailabilityRow) Value(dimension string) (DimensionValue, bool) {
	for _, v := range r.Values {
		if v.Dimension == dimension {
			return v, true
		}
	}
	return DimensionValue{}, false
}

type tableCell struct {
	Type     string          `json:"type"`
	Value    json.RawMessage `json:"value"`
	Metadata struct {
		Raster *struct {
			ID   json.RawMessage `json:"id"`
			BBox json.RawMessage `json:"bbox"`
		} `json:"raster"`
	} `json:"metadata"`
}

// rawText renders a JSON scalar without quotes
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// FlattenTable turns query rows of ROW_HEADER and DATA_CELL cells into one
// record per data cell. Headers fill the cube's dimensions in order; a data
// cell copies the current header values, so repeated data cells reuse the
// most recent headers. A null cell ends the row.
func FlattenTable(cube *Cube, items [][]json.RawMessage) ([]AvailabilityRow, error) {
	var rows []AvailabilityRow
	nDims := len(cube.Dimensions)

	for r, item := range items {
		headers := make([]DimensionValue, 0, nDims)
		timeCode := ""

		for i, raw := range item {
			if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
				break
			}
			var cell tableCell
			if err := json.Unmarshal(raw, &cell); err != nil {
				return nil, shapeError(r, i, "undecodable cell: %v", err)
			}

			switch cell.Type {
			case CellRowHeader:
				if len(headers) >= nDims {
					return nil, shapeError(r, i, "more row headers than the %d dimensions of %s", nDims, cube.Code)
				}
				dim := &cube.Dimensions[len(headers)]
				value, err := resolveHeader(dim, rawText(cell.Value))
				if err != nil {
					return nil, shapeError(r, i, "%v", err)
				}
				if dim.IsTime() {
					timeCode = value.Code
				}
				headers = append(headers, value)

			case CellData:
				if len(headers) < nDims {
					return nil, shapeError(r, i, "data cell after %d of %d row headers", len(headers), nDims)
				}
				if cell.Metadata.Raster == nil {
					// Nothing to download for this combination
					continue
				}
				rows = append(rows, AvailabilityRow{
					Values:   append([]DimensionValue(nil), headers...),
					RasterID: rawText(cell.Metadata.Raster.ID),
					BBox:     cell.Metadata.Raster.BBox,
					TimeCode: timeCode,
				})

			default:
				return nil, shapeError(r, i, "unknown cell type %q", cell.Type)
			}
		}
	}
	return rows, nil
}

func resolveHeader(dim *Dimension, caption string) (DimensionValue, error) {
	value := DimensionValue{Dimension: dim.Code, Caption: caption}
	if m, ok := dim.MemberByCaption(caption); ok {
		value.Code = m.Code
		value.Description = m.Description
		value.Resolved = true
		return value, nil
	}
	if dim.IsTime() {
		return value, fmt.Errorf("time caption %q is not a member of %s", caption, dim.Code)
	}
	if code, ok := seasonCodes[caption]; ok {
		value.Code, value.Resolved = code, true
		return value, nil
	}
	if code, ok := stageCodes[caption]; ok {
		value.Code, value.Resolved = code, true
		return value, nil
	}
	value.Code = caption
	return value, nil
}

func shapeError(row, cell int, format string, args ...any) *Error {
	return newError(KindQuery, "flatten", fmt.Sprintf("row %d cell %d: ", row, cell)+fmt.Sprintf(format, args...), nil)
}

// DedupeRows removes, within each row, every cell equal to an earlier cell of
// the same row. The first occurrence is kept. Rows are modified in place.
func DedupeRows(items [][]json.RawMessage) [][]json.RawMessage {
	for r, item := range items {
		decoded := make([]any, len(item))
		for i, raw := range item {
			if err := json.Unmarshal(raw, &decoded[i]); err != nil {
				decoded[i] = string(raw)
			}
		}

		for y := len(item) - 1; y > 0; y-- {
			for x := 0; x < y; x++ {
				if reflect.DeepEqual(decoded[x], decoded[y]) {
					item = append(item[:y], item[y+1:]...)
					decoded = append(decoded[:y], decoded[y+1:]...)
					break
				}
			}
		}
		items[r] = item
	}
	return items
}
