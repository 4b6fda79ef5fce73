package downloads

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/spf13/afero"

	"wapor-downloader/internal/raster"
)

// ValidationError lists every problem found in a request. It is returned
// before any request is sent to the server.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid download request: " + strings.Join(e.Problems, "; ")
}

// checkedInputs are the values derived while validating a request
type checkedInputs struct {
	bound   orb.Bound
	cutline orb.MultiPolygon
}

// validate checks all guards of a request and reports them together
func validate(fs afero.Fs, req Request) (*checkedInputs, error) {
	var problems []string
	inputs := &checkedInputs{}

	if req.Destination == "" {
		problems = append(problems, "destination folder is required")
	}

	switch {
	case req.Start.IsZero() || req.End.IsZero():
		problems = append(problems, "start and end dates are required")
	case req.End.Before(req.Start):
		problems = append(problems, fmt.Sprintf("end date %s is before start date %s",
			req.End.Format("2006-01-02"), req.Start.Format("2006-01-02")))
	}

	if len(req.Datasets) == 0 {
		problems = append(problems, "no dataset selected")
	}

	if req.APIKey == "" {
		problems = append(problems, "API key is required")
	}

	if req.CutlinePath != "" {
		cutline, err := raster.LoadCutline(fs, req.CutlinePath)
		if err != nil {
			problems = append(problems, fmt.Sprintf("cutline cannot be read: %v", err))
		} else {
			inputs.cutline = cutline
		}
	}

	switch {
	case req.BBox != nil:
		if err := req.BBox.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("bounding box: %v", err))
		} else {
			inputs.bound = req.BBox.Bound()
		}
	case inputs.cutline != nil:
		bbox := BoundingBoxFromBound(raster.CutlineBounds(inputs.cutline))
		if err := bbox.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("cutline extent: %v", err))
		} else {
			inputs.bound = bbox.Bound()
		}
	case req.CutlinePath == "":
		problems = append(problems, "a bounding box or a cutline is required")
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	if problem := prepareDestination(fs, req.Destination); problem != "" {
		return nil, &ValidationError{Problems: []string{problem}}
	}
	if !req.Clip {
		inputs.cutline = nil
	}
	return inputs, nil
}

// prepareDestination creates the destination folder when missing and checks
// that a file can be written into it. It is only called for otherwise valid
// requests.
func prepareDestination(fs afero.Fs, dir string) string {
	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return fmt.Sprintf("destination folder cannot be read: %v", err)
	}
	if !exists {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Sprintf("destination folder cannot be created: %v", err)
		}
	}

	f, err := afero.TempFile(fs, dir, ".wapor-write-check-*")
	if err != nil {
		return fmt.Sprintf("destination folder is not writable: %v", err)
	}
	name := f.Name()
	_ = f.Close()
	_ = fs.Remove(name)
	return ""
}
