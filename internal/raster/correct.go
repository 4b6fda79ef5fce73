package raster

import (
	"math"

	"wapor-downloader/internal/common"
	"wapor-downloader/pkg/geotiff"
)

// DayFactor returns the number of days a dekadal rate is scaled by when
// cumulative output is requested, and 1 otherwise
func DayFactor(timeCode string, cumulative bool) (float64, error) {
	if !cumulative {
		return 1, nil
	}
	return common.DaysInTimeRangeCode(timeCode)
}

// Mask limits correction to values below Threshold; values at or above it
// are flags and are written unchanged.
type Mask struct {
	Threshold float64
}

// Correct multiplies every valid pixel by factor in place. No-data pixels
// become NaN; a raster without a no-data value gets geotiff.DefaultNoData so
// the encoder can restore them.
func Correct(r *geotiff.Raster, factor float64, mask *Mask) {
	for i, v := range r.Data {
		switch {
		case r.IsNoData(v):
			r.Data[i] = math.NaN()
		case mask != nil && v >= mask.Threshold:
		default:
			r.Data[i] = v * factor
		}
	}
	if !r.HasNoData {
		r.NoData = geotiff.DefaultNoData
		r.HasNoData = true
	}
}
