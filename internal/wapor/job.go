package wapor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"wapor-downloader/internal/common"
)

// Job types and statuses reported by the job endpoint
const (
	JobTypeCropRaster = "CROP RASTER"
	JobTypeAreaStats  = "AREA STATS"

	JobCompleted           = "COMPLETED"
	JobCompletedWithErrors = "COMPLETED WITH ERRORS"
)

type cropShape struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
	Coordinates orb.Polygon `json:"coordinates"`
}

type cropProperties struct {
	OutputFileName string `json:"outputFileName"`
	Cutline        bool   `json:"cutline"`
	Tiled          bool   `json:"tiled"`
	Compressed     bool   `json:"compressed"`
	Overviews      bool   `json:"overviews"`
}

// CropRequest is the body of a CropRaster job submission
type CropRequest struct {
	Type   string `json:"type"`
	Params struct {
		Properties cropProperties   `json:"properties"`
		Cube       queryCube        `json:"cube"`
		Dimensions []queryDimension `json:"dimensions"`
		Measures   []string         `json:"measures"`
		Shape      cropShape        `json:"shape"`
	} `json:"params"`
}

// BoundsPolygon returns the closed five point ring around a bounding box,
// starting at the lower-left corner and running clockwise
func BoundsPolygon(b orb.Bound) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{b.Min[0], b.Min[1]},
		{b.Min[0], b.Max[1]},
		{b.Max[0], b.Max[1]},
		{b.Max[0], b.Min[1]},
		{b.Min[0], b.Min[1]},
	}}
}

// BuildCropRequest builds the CropRaster job for one availability row
func BuildCropRequest(workspace string, cube *Cube, bound orb.Bound, row AvailabilityRow) (*CropRequest, error) {
	if cube.Measure == nil {
		return nil, fmt.Errorf("cube %s has no measure", cube.Code)
	}
	if row.RasterID == "" {
		return nil, errors.New("row has no raster id")
	}

	req := &CropRequest{Type: "CropRaster"}
	req.Params.Properties = cropProperties{
		OutputFileName: row.RasterID + ".tif",
		Cutline:        true,
		Tiled:          true,
		Compressed:     true,
		Overviews:      true,
	}
	req.Params.Cube = queryCube{Code: cube.Code, WorkspaceCode: workspace, Language: "en"}
	req.Params.Measures = []string{cube.Measure.Code}
	req.Params.Shape.Type = "Polygon"
	req.Params.Shape.Properties.Name = common.CatalogCRS
	req.Params.Shape.Coordinates = BoundsPolygon(bound)

	for _, dim := range cube.Dimensions {
		v, ok := row.Value(dim.Code)
		if !ok {
			return nil, fmt.Errorf("row %s has no value for dimension %s", row.RasterID, dim.Code)
		}
		code := v.Code
		if dim.IsTime() && row.TimeCode != "" {
			code = row.TimeCode
		}
		req.Params.Dimensions = append(req.Params.Dimensions, queryDimension{Code: dim.Code, Values: []string{code}})
	}
	return req, nil
}

type jobLinks struct {
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

// SubmitCropJob submits a crop job for one raster and returns the job URL
func (c *Client) SubmitCropJob(ctx context.Context, tokens *TokenManager, cube *Cube, bound orb.Bound, row AvailabilityRow) (string, error) {
	body, err := BuildCropRequest(c.workspace, cube, bound, row)
	if err != nil {
		return "", newError(KindSubmit, "crop raster", "", err)
	}

	token, err := tokens.EnsureFresh(ctx)
	if err != nil {
		return "", err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	var links jobLinks
	if err := c.post(ctx, "/query/", header, body, &links); err != nil {
		return "", newError(KindSubmit, "crop raster", "", err)
	}
	if len(links.Links) == 0 || links.Links[0].Href == "" {
		return "", newError(KindSubmit, "crop raster", "response has no job link", nil)
	}

	c.logger.Debug("crop job submitted", "cube", cube.Code, "raster", row.RasterID, "job", links.Links[0].Href)
	return links.Links[0].Href, nil
}

// AreaStatsTable is the tabular output of an area statistics job
type AreaStatsTable struct {
	Header []string `json:"header"`
	Items  [][]any  `json:"items"`
}

// JobResult is the output of a completed job
type JobResult struct {
	Type        string
	DownloadURL string
	AreaStats   *AreaStatsTable
}

type jobStatus struct {
	Type   string          `json:"type"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Log    json.RawMessage `json:"log"`
}

func (s *jobStatus) logText() string {
	if len(s.Log) == 0 {
		return ""
	}
	var lines []string
	if err := json.Unmarshal(s.Log, &lines); err == nil {
		return strings.Join(lines, "; ")
	}
	return rawText(s.Log)
}

// AwaitJob polls a job until it completes, fails, or the attempt ceiling
// is reached. Cancelling ctx aborts the wait.
func (c *Client) AwaitJob(ctx context.Context, jobURL string) (*JobResult, error) {
	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		var status jobStatus
		if err := c.get(ctx, jobURL, &status); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, newError(KindJob, "poll", "", err)
		}

		switch status.Status {
		case JobCompleted:
			return decodeJobOutput(&status)
		case JobCompletedWithErrors:
			return nil, newError(KindJob, "poll", "job completed with errors: "+status.logText(), nil)
		}

		c.logger.Debug("job pending", "status", status.Status, "attempt", attempt)
		if attempt == c.maxPollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return nil, newError(KindJobTimeout, "poll", fmt.Sprintf("job not finished after %d attempts", c.maxPollAttempts), nil)
}

func decodeJobOutput(status *jobStatus) (*JobResult, error) {
	result := &JobResult{Type: status.Type}
	switch status.Type {
	case JobTypeCropRaster:
		var out struct {
			DownloadURL string `json:"downloadUrl"`
		}
		if err := json.Unmarshal(status.Output, &out); err != nil || out.DownloadURL == "" {
			return nil, newError(KindJob, "output", "crop raster job has no download URL", err)
		}
		result.DownloadURL = out.DownloadURL
	case JobTypeAreaStats:
		var table AreaStatsTable
		if err := json.Unmarshal(status.Output, &table); err != nil {
			return nil, newError(KindJob, "output", "undecodable area statistics", err)
		}
		result.AreaStats = &table
	default:
		return nil, newError(KindJob, "output", fmt.Sprintf("unknown job type %q", status.Type), nil)
	}
	return result, nil
}
