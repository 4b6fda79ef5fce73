package wapor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wapor-downloader/internal/common"
)

// queryDimension is one entry of the query's dimension list. Time axes
// carry a range, categorical axes a list of member codes.
type queryDimension struct {
	Code   string   `json:"code"`
	Range  string   `json:"range,omitempty"`
	Values []string `json:"values,omitempty"`
}

type queryCube struct {
	Code          string `json:"code"`
	WorkspaceCode string `json:"workspaceCode"`
	Language      string `json:"language"`
}

type tableQuery struct {
	Type   string `json:"type"`
	Params struct {
		Properties struct {
			Metadata bool `json:"metadata"`
			Paged    bool `json:"paged"`
		} `json:"properties"`
		Cube       queryCube        `json:"cube"`
		Dimensions []queryDimension `json:"dimensions"`
		Measures   []string         `json:"measures"`
		Projection struct {
			Columns []string `json:"columns"`
			Rows    []string `json:"rows"`
		} `json:"projection"`
	} `json:"params"`
}

type tableResponse struct {
	Items [][]json.RawMessage `json:"items"`
}

// BuildAvailabilityQuery builds the MDAQuery_Table request listing one row per
// combination of the cube's dimensions within [start, end). Filters restrict
// categorical dimensions to the given member codes.
func BuildAvailabilityQuery(workspace string, cube *Cube, start, end time.Time, filters map[string][]string) (*tableQuery, error) {
	if cube.Measure == nil {
		return nil, fmt.Errorf("cube %s has no measure", cube.Code)
	}

	q := &tableQuery{Type: "MDAQuery_Table"}
	q.Params.Properties.Metadata = true
	q.Params.Cube = queryCube{Code: cube.Code, WorkspaceCode: workspace, Language: "en"}
	q.Params.Measures = []string{cube.Measure.Code}
	q.Params.Projection.Columns = []string{"MEASURES"}
	q.Params.Projection.Rows = []string{}

	for i := range cube.Dimensions {
		dim := &cube.Dimensions[i]
		if dim.IsTime() {
			q.Params.Dimensions = append(q.Params.Dimensions, queryDimension{
				Code:  dim.Code,
				Range: common.TimeRangeFilter(start, end),
			})
		} else {
			values := filters[dim.Code]
			if len(values) == 0 {
				values = dim.MemberCodes()
			}
			q.Params.Dimensions = append(q.Params.Dimensions, queryDimension{Code: dim.Code, Values: values})
		}
		q.Params.Projection.Rows = append(q.Params.Projection.Rows, dim.Code)
	}
	return q, nil
}

// QueryAvailability lists the rasters of a cube available between start and
// end. Rows come back in server order.
func (c *Client) QueryAvailability(ctx context.Context, cube *Cube, start, end time.Time, filters map[string][]string) ([]AvailabilityRow, error) {
	q, err := BuildAvailabilityQuery(c.workspace, cube, start, end, filters)
	if err != nil {
		return nil, newError(KindQuery, "availability", "", err)
	}

	var table tableResponse
	if err := c.post(ctx, "/query/", nil, q, &table); err != nil {
		return nil, newError(KindQuery, "availability", "", err)
	}
	if table.Items == nil {
		return nil, newError(KindQuery, "availability", "response has no items", nil)
	}

	items := table.Items
	if !c.dedupeExempt(c.workspace, cube.Code) {
		items = DedupeRows(items)
	}

	rows, err := FlattenTable(cube, items)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		for _, v := range row.Values {
			if !v.Resolved {
				c.logger.Warn("dimension caption not found among members", "cube", cube.Code, "dimension", v.Dimension, "caption", v.Caption)
			}
		}
	}

	c.logger.Info("availability", "cube", cube.Code, "rasters", len(rows), "range", common.TimeRangeFilter(start, end))
	return rows, nil
}
