package raster

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	"wapor-downloader/pkg/geotiff"
)

// ErrNoOverlap is returned when a cutline lies entirely outside a raster
var ErrNoOverlap = errors.New("cutline does not overlap raster")

// Clip crops r to the cutline's bounding box and blanks every pixel the
// cutline does not touch. A pixel is kept when its center is inside the
// cutline or any cutline edge crosses it (all-touched).
// The window is snapped to the source pixel grid.
func Clip(r *geotiff.Raster, cutline orb.MultiPolygon) (*geotiff.Raster, error) {
	gt := r.GeoTransform
	if gt[2] != 0 || gt[4] != 0 {
		return nil, errors.New("rotated rasters cannot be clipped")
	}
	if gt[1] == 0 || gt[5] == 0 {
		return nil, errors.New("raster has a degenerate geotransform")
	}

	b := cutline.Bound()
	minX, minY, maxX, maxY := r.Bounds()
	if !b.Intersects(orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}) {
		return nil, ErrNoOverlap
	}
	col0, col1 := pixelSpan(b.Min[0], b.Max[0], gt[0], gt[1], r.Width)
	row0, row1 := pixelSpan(b.Min[1], b.Max[1], gt[3], gt[5], r.Height)
	if col1 <= col0 || row1 <= row0 {
		return nil, ErrNoOverlap
	}

	out := r.Window(col0, row0, col1-col0, row1-row0)
	keep := make([]bool, out.Width*out.Height)

	for row := 0; row < out.Height; row++ {
		for col := 0; col < out.Width; col++ {
			x, y := out.PixelCenter(col, row)
			if planar.MultiPolygonContains(cutline, orb.Point{x, y}) {
				keep[row*out.Width+col] = true
			}
		}
	}

	ogt := out.GeoTransform
	for _, polygon := range cutline {
		for _, ring := range polygon {
			for i := 0; i+1 < len(ring); i++ {
				segment := orb.LineString{ring[i], ring[i+1]}
				sb := segment.Bound()
				c0, c1 := pixelSpan(sb.Min[0], sb.Max[0], ogt[0], ogt[1], out.Width)
				r0, r1 := pixelSpan(sb.Min[1], sb.Max[1], ogt[3], ogt[5], out.Height)
				for row := r0; row < r1; row++ {
					for col := c0; col < c1; col++ {
						idx := row*out.Width + col
						if keep[idx] {
							continue
						}
						if len(clip.LineString(cellBound(out, col, row), segment)) > 0 {
							keep[idx] = true
						}
					}
				}
			}
		}
	}

	for i, k := range keep {
		if !k {
			out.Data[i] = math.NaN()
		}
	}
	if !out.HasNoData {
		out.NoData = geotiff.DefaultNoData
		out.HasNoData = true
	}
	return out, nil
}

// pixelSpan converts the map interval [lo, hi] along one axis into the
// half-open pixel range covering it, clamped to [0, size).
func pixelSpan(lo, hi, origin, step float64, size int) (int, int) {
	a := (lo - origin) / step
	b := (hi - origin) / step
	if a > b {
		a, b = b, a
	}
	start := int(math.Floor(a))
	end := int(math.Ceil(b))
	if end == start {
		end++
	}
	return max(start, 0), min(end, size)
}

func cellBound(r *geotiff.Raster, col, row int) orb.Bound {
	x0, y0 := r.PixelToGeo(float64(col), float64(row))
	x1, y1 := r.PixelToGeo(float64(col+1), float64(row+1))
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}
