package geotiff

// TIFF field types and the tags this package reads or writes.
const (
	DataType_Byte      = 1
	DataType_ASCII     = 2
	DataType_Short     = 3
	DataType_Long      = 4
	DataType_Rational  = 5
	DataType_SByte     = 6
	DataType_Undefined = 7
	DataType_SShort    = 8
	DataType_SLong     = 9
	DataType_SRational = 10
	DataType_Float     = 11
	DataType_Double    = 12
	DataType_IFD       = 13
	DataType_Long8     = 16

	TagType_ImageWidth                = 256
	TagType_ImageLength               = 257
	TagType_BitsPerSample             = 258
	TagType_Compression               = 259
	TagType_PhotometricInterpretation = 262
	TagType_StripOffsets              = 273
	TagType_SamplesPerPixel           = 277
	TagType_RowsPerStrip              = 278
	TagType_StripByteCounts           = 279
	TagType_PlanarConfiguration       = 284
	TagType_Predictor                 = 317
	TagType_TileWidth                 = 322
	TagType_TileLength                = 323
	TagType_TileOffsets               = 324
	TagType_TileByteCounts            = 325
	TagType_SampleFormat              = 339

	// GeoTIFF Tags
	TagType_ModelPixelScaleTag     = 33550
	TagType_ModelTiepointTag       = 33922
	TagType_ModelTransformationTag = 34264
	TagType_GeoKeyDirectoryTag     = 34735
	TagType_GeoDoubleParamsTag     = 34736
	TagType_GeoAsciiParamsTag      = 34737

	// GDAL private tag holding the no-data value as ASCII
	TagType_GDALNoData = 42113
)

// Compression schemes
const (
	CompressionNone         = 1
	CompressionLZW          = 5
	CompressionDeflate      = 8
	CompressionDeflateAdobe = 32946
)

// Predictor schemes
const (
	PredictorNone          = 1
	PredictorHorizontal    = 2
	PredictorFloatingPoint = 3
)

// Sample formats
const (
	SampleFormatUint  = 1
	SampleFormatInt   = 2
	SampleFormatFloat = 3
)

// GeoKey ids used to report the coordinate reference system and the
// raster space of the tie points
const (
	geoKeyRasterType      = 1025
	geoKeyGeographicType  = 2048
	geoKeyProjectedCSType = 3072

	rasterPixelIsArea  = 1
	rasterPixelIsPoint = 2
)

func typeSize(datatype uint16) uint64 {
	switch datatype {
	case DataType_Byte, DataType_ASCII, DataType_SByte, DataType_Undefined:
		return 1
	case DataType_Short, DataType_SShort:
		return 2
	case DataType_Long, DataType_SLong, DataType_Float, DataType_IFD:
		return 4
	case DataType_Rational, DataType_SRational, DataType_Double, DataType_Long8:
		return 8
	}
	return 0
}
