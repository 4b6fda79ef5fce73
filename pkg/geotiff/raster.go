// Package geotiff reads and writes single-band GeoTIFF rasters.
//
// Decoding understands classic (non-Big) TIFF files with strips or tiles,
// no/LZW/Deflate compression, horizontal and floating point predictors and
// 8 to 64 bit integer or float samples. Encoding always produces a float32
// band. Georeferencing (geotransform and GeoKeys) and the GDAL no-data value
// survive a decode/encode round trip.
package geotiff

import "math"

// GeoKeys holds the raw GeoTIFF key directory and its parameter tags.
// They are copied verbatim between input and output.
type GeoKeys struct {
	Directory    []uint16
	DoubleParams []float64
	AsciiParams  string
}

// EPSG returns the projected or geographic EPSG code declared by the keys,
// or 0 when none is present
func (k GeoKeys) EPSG() int {
	if v, ok := k.shortKey(geoKeyProjectedCSType); ok {
		return int(v)
	}
	v, _ := k.shortKey(geoKeyGeographicType)
	return int(v)
}

// PixelIsPoint reports whether the tie point refers to pixel centers
func (k GeoKeys) PixelIsPoint() bool {
	v, ok := k.shortKey(geoKeyRasterType)
	return ok && v == rasterPixelIsPoint
}

// shortKey returns the value of a key stored inline in the directory
func (k GeoKeys) shortKey(id uint16) (uint16, bool) {
	i := k.keyIndex(id)
	if i < 0 {
		return 0, false
	}
	return k.Directory[i+3], true
}

// keyIndex returns the directory offset of an inline key, or -1
func (k GeoKeys) keyIndex(id uint16) int {
	if len(k.Directory) < 4 {
		return -1
	}
	n := int(k.Directory[3])
	for i := 0; i < n; i++ {
		base := 4 + i*4
		if base+3 >= len(k.Directory) {
			break
		}
		if k.Directory[base] == id && k.Directory[base+1] == 0 {
			return base
		}
	}
	return -1
}

// Raster is a single band of pixels plus its georeferencing.
//
// GeoTransform uses the affine convention
// x = gt[0] + col*gt[1] + row*gt[2], y = gt[3] + col*gt[4] + row*gt[5].
type Raster struct {
	Width, Height int
	Data          []float64 // row-major, len Width*Height

	NoData    float64
	HasNoData bool

	GeoTransform  [6]float64
	Georeferenced bool
	GeoKeys       GeoKeys
}

// New allocates a raster of the given size filled with zeros
func New(width, height int) *Raster {
	return &Raster{
		Width:        width,
		Height:       height,
		Data:         make([]float64, width*height),
		GeoTransform: [6]float64{0, 1, 0, 0, 0, 1},
	}
}

// At returns the value at (col, row)
func (r *Raster) At(col, row int) float64 {
	return r.Data[row*r.Width+col]
}

// Set stores v at (col, row)
func (r *Raster) Set(col, row int, v float64) {
	r.Data[row*r.Width+col] = v
}

// IsNoData reports whether v is the no-data value or NaN
func (r *Raster) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return r.HasNoData && v == r.NoData
}

// PixelToGeo maps a pixel corner coordinate to map coordinates
func (r *Raster) PixelToGeo(col, row float64) (x, y float64) {
	gt := r.GeoTransform
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// PixelCenter returns the map coordinates of the center of pixel (col, row)
func (r *Raster) PixelCenter(col, row int) (x, y float64) {
	return r.PixelToGeo(float64(col)+0.5, float64(row)+0.5)
}

// Bounds returns the map extent covered by the raster
func (r *Raster) Bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, c := range [][2]float64{{0, 0}, {float64(r.Width), 0}, {0, float64(r.Height)}, {float64(r.Width), float64(r.Height)}} {
		x, y := r.PixelToGeo(c[0], c[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return minX, minY, maxX, maxY
}

// Window copies the sub-raster starting at (col0, row0) with the given size.
// The geotransform is shifted so the copy stays in place on the map.
func (r *Raster) Window(col0, row0, width, height int) *Raster {
	out := &Raster{
		Width:         width,
		Height:        height,
		Data:          make([]float64, width*height),
		NoData:        r.NoData,
		HasNoData:     r.HasNoData,
		Georeferenced: r.Georeferenced,
		GeoKeys:       r.GeoKeys,
	}
	for row := 0; row < height; row++ {
		copy(out.Data[row*width:(row+1)*width], r.Data[(row0+row)*r.Width+col0:(row0+row)*r.Width+col0+width])
	}
	gt := r.GeoTransform
	x, y := r.PixelToGeo(float64(col0), float64(row0))
	out.GeoTransform = [6]float64{x, gt[1], gt[2], y, gt[4], gt[5]}
	return out
}
