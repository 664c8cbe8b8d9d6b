package geotiff

// TIFF 6.0 tags used by the reader and writer, plus the GeoTIFF and GDAL
// extension tags.
const (
	tagNewSubfileType      = 254
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagSoftware            = 305
	tagPredictor           = 317
	tagExtraSamples        = 338
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339

	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoAsciiParams      = 34737
	tagGDALNoData          = 42113
)

// TIFF field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
	typeLong8     = 16
	typeSLong8    = 17
	typeIFD8      = 18
)

// typeSizes maps a TIFF field type to its size in bytes.
var typeSizes = map[uint16]uint64{
	typeByte:      1,
	typeASCII:     1,
	typeShort:     2,
	typeLong:      4,
	typeRational:  8,
	typeSByte:     1,
	typeUndefined: 1,
	typeSShort:    2,
	typeSLong:     4,
	typeSRational: 8,
	typeFloat:     4,
	typeDouble:    8,
	typeLong8:     8,
	typeSLong8:    8,
	typeIFD8:      8,
}

// Compression schemes the reader understands. The writer only ever emits
// ctNone and ctDeflate.
const (
	ctNone       = 1
	ctLZW        = 5
	ctDeflate    = 8
	ctPackBits   = 32773
	ctDeflateOld = 32946
)

// Sample formats.
const (
	formatUnsigned = 1
	formatSigned   = 2
	formatFloat    = 3
)
