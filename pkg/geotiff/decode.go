package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/tiff/lzw"
)

// A FormatError reports that the input is not a valid TIFF image.
type FormatError string

func (e FormatError) Error() string { return "geotiff: invalid format: " + string(e) }

// An UnsupportedError reports that the input uses a valid but unimplemented
// TIFF feature.
type UnsupportedError string

func (e UnsupportedError) Error() string { return "geotiff: unsupported feature: " + string(e) }

type field struct {
	datatype uint16
	count    uint64
	raw      []byte
}

type decoder struct {
	buf          []byte
	bo           binary.ByteOrder
	littleEndian bool
	fields       map[uint16]field

	width, height   int
	samplesPerPixel int
	bytesPerSample  int
	pixelStride     int
	sampleFormat    uint64
	compression     uint64
	predictor       uint64
	sample          func([]byte) float64
}

// Decode reads a GeoTIFF from r and returns its first band
func Decode(r io.Reader) (*Raster, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(data)
}

// DecodeBytes decodes an in-memory GeoTIFF
func DecodeBytes(data []byte) (*Raster, error) {
	if len(data) < 8 {
		return nil, FormatError("file too short")
	}
	d := &decoder{buf: data, fields: make(map[uint16]field)}
	switch string(data[:2]) {
	case "II":
		d.bo = binary.LittleEndian
		d.littleEndian = true
	case "MM":
		d.bo = binary.BigEndian
	default:
		return nil, FormatError("missing byte order mark")
	}
	switch d.bo.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, UnsupportedError("BigTIFF")
	default:
		return nil, FormatError("bad magic number")
	}

	if err := d.readIFD(uint64(d.bo.Uint32(data[4:8]))); err != nil {
		return nil, err
	}
	return d.decode()
}

func (d *decoder) readIFD(off uint64) error {
	if off+2 > uint64(len(d.buf)) {
		return FormatError("IFD offset out of range")
	}
	n := uint64(d.bo.Uint16(d.buf[off:]))
	if off+2+12*n > uint64(len(d.buf)) {
		return FormatError("IFD entries out of range")
	}
	for i := uint64(0); i < n; i++ {
		p := off + 2 + 12*i
		tag := d.bo.Uint16(d.buf[p:])
		datatype := d.bo.Uint16(d.buf[p+2:])
		count := uint64(d.bo.Uint32(d.buf[p+4:]))
		size := typeSize(datatype)
		if size == 0 {
			continue
		}
		size *= count
		var raw []byte
		if size <= 4 {
			raw = d.buf[p+8 : p+8+size]
		} else {
			valueOff := uint64(d.bo.Uint32(d.buf[p+8:]))
			if valueOff+size > uint64(len(d.buf)) {
				return FormatError("tag " + strconv.Itoa(int(tag)) + " value out of range")
			}
			raw = d.buf[valueOff : valueOff+size]
		}
		d.fields[tag] = field{datatype: datatype, count: count, raw: raw}
	}
	return nil
}

func (d *decoder) uints(tag uint16) []uint64 {
	f, ok := d.fields[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, f.count)
	for i := range out {
		switch f.datatype {
		case DataType_Byte, DataType_Undefined:
			out[i] = uint64(f.raw[i])
		case DataType_Short:
			out[i] = uint64(d.bo.Uint16(f.raw[2*i:]))
		case DataType_Long, DataType_IFD:
			out[i] = uint64(d.bo.Uint32(f.raw[4*i:]))
		case DataType_Long8:
			out[i] = d.bo.Uint64(f.raw[8*i:])
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) firstUint(tag uint16, def uint64) uint64 {
	if v := d.uints(tag); len(v) > 0 {
		return v[0]
	}
	return def
}

func (d *decoder) floats(tag uint16) []float64 {
	f, ok := d.fields[tag]
	if !ok {
		return nil
	}
	out := make([]float64, f.count)
	for i := range out {
		switch f.datatype {
		case DataType_Double:
			out[i] = math.Float64frombits(d.bo.Uint64(f.raw[8*i:]))
		case DataType_Float:
			out[i] = float64(math.Float32frombits(d.bo.Uint32(f.raw[4*i:])))
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) ascii(tag uint16) (string, bool) {
	f, ok := d.fields[tag]
	if !ok || f.datatype != DataType_ASCII {
		return "", false
	}
	return strings.TrimRight(string(f.raw), "\x00"), true
}

func (d *decoder) decode() (*Raster, error) {
	d.width = int(d.firstUint(TagType_ImageWidth, 0))
	d.height = int(d.firstUint(TagType_ImageLength, 0))
	if d.width <= 0 || d.height <= 0 {
		return nil, FormatError("missing image dimensions")
	}

	d.samplesPerPixel = int(d.firstUint(TagType_SamplesPerPixel, 1))
	bits := d.firstUint(TagType_BitsPerSample, 1)
	d.sampleFormat = d.firstUint(TagType_SampleFormat, SampleFormatUint)
	d.compression = d.firstUint(TagType_Compression, CompressionNone)
	d.predictor = d.firstUint(TagType_Predictor, PredictorNone)
	planar := d.firstUint(TagType_PlanarConfiguration, 1)

	if err := d.pickSampleReader(bits); err != nil {
		return nil, err
	}
	d.bytesPerSample = int(bits / 8)
	d.pixelStride = d.bytesPerSample
	if planar == 1 {
		d.pixelStride *= d.samplesPerPixel
	}
	switch d.compression {
	case CompressionNone, CompressionLZW, CompressionDeflate, CompressionDeflateAdobe:
	default:
		return nil, UnsupportedError("compression " + strconv.FormatUint(d.compression, 10))
	}
	switch d.predictor {
	case PredictorNone, PredictorHorizontal:
	case PredictorFloatingPoint:
		if d.sampleFormat != SampleFormatFloat {
			return nil, FormatError("floating point predictor on integer samples")
		}
	default:
		return nil, UnsupportedError("predictor " + strconv.FormatUint(d.predictor, 10))
	}

	r := &Raster{
		Width:  d.width,
		Height: d.height,
		Data:   make([]float64, d.width*d.height),
	}

	if _, tiled := d.fields[TagType_TileWidth]; tiled {
		if err := d.readTiles(r.Data); err != nil {
			return nil, err
		}
	} else if err := d.readStrips(r.Data); err != nil {
		return nil, err
	}

	d.readGeoreference(r)
	return r, nil
}

func (d *decoder) pickSampleReader(bits uint64) error {
	bo := d.bo
	switch {
	case d.sampleFormat == SampleFormatUint && bits == 8:
		d.sample = func(b []byte) float64 { return float64(b[0]) }
	case d.sampleFormat == SampleFormatUint && bits == 16:
		d.sample = func(b []byte) float64 { return float64(bo.Uint16(b)) }
	case d.sampleFormat == SampleFormatUint && bits == 32:
		d.sample = func(b []byte) float64 { return float64(bo.Uint32(b)) }
	case d.sampleFormat == SampleFormatUint && bits == 64:
		d.sample = func(b []byte) float64 { return float64(bo.Uint64(b)) }
	case d.sampleFormat == SampleFormatInt && bits == 8:
		d.sample = func(b []byte) float64 { return float64(int8(b[0])) }
	case d.sampleFormat == SampleFormatInt && bits == 16:
		d.sample = func(b []byte) float64 { return float64(int16(bo.Uint16(b))) }
	case d.sampleFormat == SampleFormatInt && bits == 32:
		d.sample = func(b []byte) float64 { return float64(int32(bo.Uint32(b))) }
	case d.sampleFormat == SampleFormatInt && bits == 64:
		d.sample = func(b []byte) float64 { return float64(int64(bo.Uint64(b))) }
	case d.sampleFormat == SampleFormatFloat && bits == 32:
		d.sample = func(b []byte) float64 { return float64(math.Float32frombits(bo.Uint32(b))) }
	case d.sampleFormat == SampleFormatFloat && bits == 64:
		d.sample = func(b []byte) float64 { return math.Float64frombits(bo.Uint64(b)) }
	default:
		return UnsupportedError("sample format " + strconv.FormatUint(d.sampleFormat, 10) +
			" with " + strconv.FormatUint(bits, 10) + " bits")
	}
	return nil
}

func (d *decoder) readStrips(out []float64) error {
	rowsPerStrip := int(d.firstUint(TagType_RowsPerStrip, uint64(d.height)))
	if rowsPerStrip <= 0 || rowsPerStrip > d.height {
		rowsPerStrip = d.height
	}
	offsets := d.uints(TagType_StripOffsets)
	counts := d.uints(TagType_StripByteCounts)
	strips := (d.height + rowsPerStrip - 1) / rowsPerStrip
	if len(offsets) < strips || len(counts) < strips {
		return FormatError("missing strip offsets")
	}

	for s := 0; s < strips; s++ {
		row0 := s * rowsPerStrip
		rows := min(rowsPerStrip, d.height-row0)
		chunk, err := d.chunk(offsets[s], counts[s], d.width, rows)
		if err != nil {
			return err
		}
		d.place(out, chunk, d.width, rows, 0, row0)
	}
	return nil
}

func (d *decoder) readTiles(out []float64) error {
	tileWidth := int(d.firstUint(TagType_TileWidth, 0))
	tileHeight := int(d.firstUint(TagType_TileLength, 0))
	if tileWidth <= 0 || tileHeight <= 0 {
		return FormatError("invalid tile size")
	}
	offsets := d.uints(TagType_TileOffsets)
	counts := d.uints(TagType_TileByteCounts)
	across := (d.width + tileWidth - 1) / tileWidth
	down := (d.height + tileHeight - 1) / tileHeight
	if len(offsets) < across*down || len(counts) < across*down {
		return FormatError("missing tile offsets")
	}

	for t := 0; t < across*down; t++ {
		chunk, err := d.chunk(offsets[t], counts[t], tileWidth, tileHeight)
		if err != nil {
			return err
		}
		d.place(out, chunk, tileWidth, tileHeight, (t%across)*tileWidth, (t/across)*tileHeight)
	}
	return nil
}

// chunk returns the decompressed, predictor-free bytes of one strip or tile.
func (d *decoder) chunk(offset, count uint64, width, height int) ([]byte, error) {
	if offset+count > uint64(len(d.buf)) {
		return nil, FormatError("chunk out of range")
	}
	src := d.buf[offset : offset+count]
	want := width * height * d.pixelStride

	var data []byte
	switch d.compression {
	case CompressionNone:
		data = append([]byte(nil), src...)
	case CompressionLZW:
		rc := lzw.NewReader(bytes.NewReader(src), lzw.MSB, 8)
		var err error
		data, err = io.ReadAll(rc)
		rc.Close()
		if err != nil && len(data) < want {
			return nil, err
		}
	case CompressionDeflate, CompressionDeflateAdobe:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		data, err = io.ReadAll(zr)
		zr.Close()
		if err != nil && len(data) < want {
			return nil, err
		}
	}
	if len(data) < want {
		return nil, FormatError("short chunk")
	}
	data = data[:want]

	switch d.predictor {
	case PredictorHorizontal:
		d.undoHorizontal(data, width, height)
	case PredictorFloatingPoint:
		d.undoFloatingPoint(data, width, height)
	}
	return data, nil
}

// samplesPerRow is the number of interleaved samples in a chunk row.
func (d *decoder) samplesPerRow(width int) (perRow, stride int) {
	stride = d.pixelStride / d.bytesPerSample
	return width * stride, stride
}

func (d *decoder) undoHorizontal(data []byte, width, height int) {
	perRow, stride := d.samplesPerRow(width)
	n := d.bytesPerSample
	for y := 0; y < height; y++ {
		row := data[y*perRow*n : (y+1)*perRow*n]
		for i := stride; i < perRow; i++ {
			cur, prev := row[i*n:(i+1)*n], row[(i-stride)*n:(i-stride+1)*n]
			switch n {
			case 1:
				cur[0] += prev[0]
			case 2:
				d.bo.PutUint16(cur, d.bo.Uint16(cur)+d.bo.Uint16(prev))
			case 4:
				d.bo.PutUint32(cur, d.bo.Uint32(cur)+d.bo.Uint32(prev))
			case 8:
				d.bo.PutUint64(cur, d.bo.Uint64(cur)+d.bo.Uint64(prev))
			}
		}
	}
}

// undoFloatingPoint reverses the byte-plane shuffle and differencing of
// predictor 3. Byte planes are stored most significant first; the result is
// written back in the file's byte order.
func (d *decoder) undoFloatingPoint(data []byte, width, height int) {
	perRow, stride := d.samplesPerRow(width)
	n := d.bytesPerSample
	rowBytes := perRow * n
	tmp := make([]byte, rowBytes)
	for y := 0; y < height; y++ {
		row := data[y*rowBytes : (y+1)*rowBytes]
		for i := stride; i < rowBytes; i++ {
			row[i] += row[i-stride]
		}
		copy(tmp, row)
		for i := 0; i < perRow; i++ {
			for b := 0; b < n; b++ {
				v := tmp[b*perRow+i]
				if d.littleEndian {
					row[i*n+n-1-b] = v
				} else {
					row[i*n+b] = v
				}
			}
		}
	}
}

// place copies the first sample of every pixel of a chunk into out,
// dropping the padding of edge tiles.
func (d *decoder) place(out []float64, chunk []byte, width, height, col0, row0 int) {
	for y := 0; y < height; y++ {
		row := row0 + y
		if row >= d.height {
			break
		}
		for x := 0; x < width; x++ {
			col := col0 + x
			if col >= d.width {
				break
			}
			p := (y*width + x) * d.pixelStride
			out[row*d.width+col] = d.sample(chunk[p : p+d.bytesPerSample])
		}
	}
}

func (d *decoder) readGeoreference(r *Raster) {
	r.GeoTransform = [6]float64{0, 1, 0, 0, 0, 1}

	if m := d.floats(TagType_ModelTransformationTag); len(m) >= 16 {
		r.GeoTransform = [6]float64{m[3], m[0], m[1], m[7], m[4], m[5]}
		r.Georeferenced = true
	} else {
		scale := d.floats(TagType_ModelPixelScaleTag)
		tie := d.floats(TagType_ModelTiepointTag)
		if len(scale) >= 2 && len(tie) >= 6 {
			sx, sy := scale[0], scale[1]
			r.GeoTransform = [6]float64{tie[3] - tie[0]*sx, sx, 0, tie[4] + tie[1]*sy, 0, -sy}
			r.Georeferenced = true
		}
	}

	if dir := d.uints(TagType_GeoKeyDirectoryTag); len(dir) > 0 {
		r.GeoKeys.Directory = make([]uint16, len(dir))
		for i, v := range dir {
			r.GeoKeys.Directory[i] = uint16(v)
		}
	}
	r.GeoKeys.DoubleParams = d.floats(TagType_GeoDoubleParamsTag)
	if s, ok := d.ascii(TagType_GeoAsciiParamsTag); ok {
		r.GeoKeys.AsciiParams = s
	}

	// Point tie points name the center of the first pixel. The transform
	// always addresses pixel corners, so shift by half a pixel and record
	// the raster as PixelIsArea.
	if r.Georeferenced && r.GeoKeys.PixelIsPoint() {
		gt := &r.GeoTransform
		gt[0] -= 0.5*gt[1] + 0.5*gt[2]
		gt[3] -= 0.5*gt[4] + 0.5*gt[5]
		r.GeoKeys.Directory[r.GeoKeys.keyIndex(geoKeyRasterType)+3] = rasterPixelIsArea
	}

	if s, ok := d.ascii(TagType_GDALNoData); ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			r.NoData = v
			r.HasNoData = true
		}
	}
}
