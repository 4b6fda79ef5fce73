package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// DefaultNoData is written when a raster has no no-data value of its own
const DefaultNoData = -9999

var enc = binary.LittleEndian

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

type byTag []ifdEntry

func (d byTag) Len() int           { return len(d) }
func (d byTag) Less(i, j int) bool { return d[i].tag < d[j].tag }
func (d byTag) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

// Options controls the layout of encoded files. The zero value writes a
// single uncompressed strip.
type Options struct {
	// Deflate compresses strips with zlib
	Deflate bool
	// FloatPredictor applies the floating point predictor (Deflate only)
	FloatPredictor bool
	// RowsPerStrip defaults to the full image height
	RowsPerStrip int
}

// Encode writes r to w as a little-endian float32 GeoTIFF.
// NaN pixels are written as the no-data value; DefaultNoData is used when
// the raster declares none.
func Encode(w io.Writer, r *Raster, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("geotiff: invalid raster size %dx%d", r.Width, r.Height)
	}
	if len(r.Data) != r.Width*r.Height {
		return fmt.Errorf("geotiff: raster has %d pixels, want %d", len(r.Data), r.Width*r.Height)
	}

	noData := r.NoData
	if !r.HasNoData {
		noData = DefaultNoData
	}

	rowsPerStrip := opts.RowsPerStrip
	if rowsPerStrip <= 0 || rowsPerStrip > r.Height {
		rowsPerStrip = r.Height
	}

	// Pixel data, one chunk per strip
	var chunks [][]byte
	for row0 := 0; row0 < r.Height; row0 += rowsPerStrip {
		rows := min(rowsPerStrip, r.Height-row0)
		strip := make([]byte, 0, rows*r.Width*4)
		for row := row0; row < row0+rows; row++ {
			line := make([]byte, r.Width*4)
			for col := 0; col < r.Width; col++ {
				v := r.Data[row*r.Width+col]
				if math.IsNaN(v) {
					v = noData
				}
				enc.PutUint32(line[col*4:], math.Float32bits(float32(v)))
			}
			if opts.Deflate && opts.FloatPredictor {
				line = applyFloatPredictor(line, r.Width)
			}
			strip = append(strip, line...)
		}
		if opts.Deflate {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(strip); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			strip = buf.Bytes()
		}
		chunks = append(chunks, strip)
	}

	var entries []ifdEntry
	addEntry := func(tag uint16, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, datatype, count, data})
	}

	compression, predictor := uint16(CompressionNone), uint16(PredictorNone)
	if opts.Deflate {
		compression = CompressionDeflate
		if opts.FloatPredictor {
			predictor = PredictorFloatingPoint
		}
	}

	// Standard Tags
	addEntry(TagType_ImageWidth, DataType_Long, 1, enc32(uint32(r.Width)))
	addEntry(TagType_ImageLength, DataType_Long, 1, enc32(uint32(r.Height)))
	addEntry(TagType_BitsPerSample, DataType_Short, 1, enc16(32))
	addEntry(TagType_Compression, DataType_Short, 1, enc16(compression))
	addEntry(TagType_PhotometricInterpretation, DataType_Short, 1, enc16(1)) // BlackIsZero
	addEntry(TagType_SamplesPerPixel, DataType_Short, 1, enc16(1))
	addEntry(TagType_RowsPerStrip, DataType_Long, 1, enc32(uint32(rowsPerStrip)))
	addEntry(TagType_PlanarConfiguration, DataType_Short, 1, enc16(1))
	addEntry(TagType_SampleFormat, DataType_Short, 1, enc16(SampleFormatFloat))
	if predictor != PredictorNone {
		addEntry(TagType_Predictor, DataType_Short, 1, enc16(predictor))
	}

	// GeoTags
	if r.Georeferenced {
		gt := r.GeoTransform
		if gt[2] == 0 && gt[4] == 0 {
			addEntry(TagType_ModelPixelScaleTag, DataType_Double, 3, encDoubles([]float64{gt[1], -gt[5], 0}))
			addEntry(TagType_ModelTiepointTag, DataType_Double, 6, encDoubles([]float64{0, 0, 0, gt[0], gt[3], 0}))
		} else {
			addEntry(TagType_ModelTransformationTag, DataType_Double, 16, encDoubles([]float64{
				gt[1], gt[2], 0, gt[0],
				gt[4], gt[5], 0, gt[3],
				0, 0, 0, 0,
				0, 0, 0, 1,
			}))
		}
	}
	if len(r.GeoKeys.Directory) > 0 {
		addEntry(TagType_GeoKeyDirectoryTag, DataType_Short, uint32(len(r.GeoKeys.Directory)), enc16s(r.GeoKeys.Directory))
	}
	if len(r.GeoKeys.DoubleParams) > 0 {
		addEntry(TagType_GeoDoubleParamsTag, DataType_Double, uint32(len(r.GeoKeys.DoubleParams)), encDoubles(r.GeoKeys.DoubleParams))
	}
	if r.GeoKeys.AsciiParams != "" {
		b := encASCII(r.GeoKeys.AsciiParams)
		addEntry(TagType_GeoAsciiParamsTag, DataType_ASCII, uint32(len(b)), b)
	}
	nd := encASCII(strconv.FormatFloat(noData, 'g', -1, 64))
	addEntry(TagType_GDALNoData, DataType_ASCII, uint32(len(nd)), nd)

	return writeTIFF(w, entries, chunks, TagType_StripOffsets, TagType_StripByteCounts)
}

// writeTIFF lays out header, IFD, out-of-line tag values and pixel chunks,
// filling in the offset and byte count tags for the chunks.
func writeTIFF(w io.Writer, entries []ifdEntry, chunks [][]byte, offsetsTag, countsTag uint16) error {
	// LittleEndian (II), Version 42, first IFD at offset 8
	header := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	if _, err := w.Write(header); err != nil {
		return err
	}

	n := uint32(len(chunks))
	entries = append(entries,
		ifdEntry{offsetsTag, DataType_Long, n, make([]byte, 4*n)},
		ifdEntry{countsTag, DataType_Long, n, make([]byte, 4*n)},
	)
	sort.Sort(byTag(entries))

	// IFD: 2 (count) + 12*N + 4 (next offset)
	ifdSize := 2 + 12*len(entries) + 4
	valueDataOffset := uint32(8 + ifdSize)

	// Values wider than 4 bytes go to the data area after the IFD, each
	// starting on a word boundary
	external := make([]uint32, len(entries))
	dataLen := uint32(0)
	for i, e := range entries {
		if len(e.data) > 4 {
			external[i] = valueDataOffset + dataLen
			dataLen += uint32(len(e.data) + len(e.data)%2)
		}
	}

	pixelsOffset := valueDataOffset + dataLen
	for i := range entries {
		switch entries[i].tag {
		case offsetsTag:
			off := pixelsOffset
			for c, chunk := range chunks {
				enc.PutUint32(entries[i].data[4*c:], off)
				off += uint32(len(chunk))
			}
		case countsTag:
			for c, chunk := range chunks {
				enc.PutUint32(entries[i].data[4*c:], uint32(len(chunk)))
			}
		}
	}

	if err := binary.Write(w, enc, uint16(len(entries))); err != nil {
		return err
	}
	for i, e := range entries {
		if err := binary.Write(w, enc, e.tag); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.datatype); err != nil {
			return err
		}
		if err := binary.Write(w, enc, e.count); err != nil {
			return err
		}

		// Offset/Value field (4 bytes)
		var val [4]byte
		if len(e.data) > 4 {
			enc.PutUint32(val[:], external[i])
		} else {
			copy(val[:], e.data)
		}
		if _, err := w.Write(val[:]); err != nil {
			return err
		}
	}

	// Next IFD Offset (0)
	if err := binary.Write(w, enc, uint32(0)); err != nil {
		return err
	}

	for _, e := range entries {
		if len(e.data) > 4 {
			if _, err := w.Write(e.data); err != nil {
				return err
			}
			if len(e.data)%2 == 1 {
				if _, err := w.Write([]byte{0}); err != nil {
					return err
				}
			}
		}
	}
	for _, chunk := range chunks {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// applyFloatPredictor shuffles a little-endian float32 row into byte planes
// (most significant first) and differences the bytes.
func applyFloatPredictor(line []byte, width int) []byte {
	out := make([]byte, len(line))
	for i := 0; i < width; i++ {
		for b := 0; b < 4; b++ {
			out[b*width+i] = line[i*4+3-b]
		}
	}
	for i := len(out) - 1; i > 0; i-- {
		out[i] -= out[i-1]
	}
	return out
}

// Helpers

func enc16(v uint16) []byte {
	b := make([]byte, 2)
	enc.PutUint16(b, v)
	return b
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func enc16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		enc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

// ASCII values carry a NUL terminator
func encASCII(s string) []byte {
	return append([]byte(s), 0)
}
