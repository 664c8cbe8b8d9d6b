package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	tifflzw "golang.org/x/image/tiff/lzw"
)

// Read loads a GeoTIFF from disk into memory.
func Read(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Decode reads the base image of a TIFF stream.
func Decode(ra io.ReaderAt) (*Raster, error) {
	pages, err := decodePages(ra, 1, false)
	if err != nil {
		return nil, err
	}
	return pages[0], nil
}

// DecodePages reads every page of a TIFF stream: the base image first,
// followed by any reduced-resolution overviews.
func DecodePages(ra io.ReaderAt) ([]*Raster, error) {
	return decodePages(ra, 0, false)
}

// Inspect reads the metadata of every page without decoding any samples.
// The returned rasters carry no pixel data.
func Inspect(path string) ([]*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pages, err := decodePages(f, 0, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pages, nil
}

type decoder struct {
	ra  io.ReaderAt
	bo  binary.ByteOrder
	big bool
}

// entry is one parsed IFD field. Values that fit into the field itself are
// kept in inline; larger ones are fetched from offset on demand.
type entry struct {
	typ    uint16
	count  uint64
	inline []byte
	offset uint64
}

type ifd map[uint16]entry

func decodePages(ra io.ReaderAt, limit int, skipData bool) ([]*Raster, error) {
	d := &decoder{ra: ra}

	next, err := d.readHeader()
	if err != nil {
		return nil, err
	}

	var pages []*Raster
	seen := map[uint64]bool{}
	for next != 0 && (limit == 0 || len(pages) < limit) {
		if seen[next] {
			return nil, fmt.Errorf("image directory chain loops back to offset %d", next)
		}
		seen[next] = true

		fields, after, err := d.readIFD(next)
		if err != nil {
			return nil, err
		}
		r, err := d.decodeImage(fields, skipData)
		if err != nil {
			return nil, err
		}
		pages = append(pages, r)
		next = after
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("file contains no image directory")
	}
	return pages, nil
}

func (d *decoder) readHeader() (uint64, error) {
	head, err := d.bytesAt(0, 8)
	if err != nil {
		return 0, fmt.Errorf("reading TIFF header: %w", err)
	}

	switch string(head[:2]) {
	case "II":
		d.bo = binary.LittleEndian
	case "MM":
		d.bo = binary.BigEndian
	default:
		return 0, fmt.Errorf("not a TIFF file (bad byte-order mark %q)", head[:2])
	}

	switch d.bo.Uint16(head[2:4]) {
	case 42:
		return uint64(d.bo.Uint32(head[4:8])), nil
	case 43:
		d.big = true
		if d.bo.Uint16(head[4:6]) != 8 || d.bo.Uint16(head[6:8]) != 0 {
			return 0, fmt.Errorf("malformed BigTIFF header")
		}
		off, err := d.bytesAt(8, 8)
		if err != nil {
			return 0, err
		}
		return d.bo.Uint64(off), nil
	default:
		return 0, fmt.Errorf("not a TIFF file (bad magic number)")
	}
}

// readIFD parses the image directory at off and returns its fields and the
// offset of the following directory (0 if none).
func (d *decoder) readIFD(off uint64) (ifd, uint64, error) {
	var count uint64
	entryStart := off
	entrySize := uint64(12)
	if d.big {
		b, err := d.bytesAt(off, 8)
		if err != nil {
			return nil, 0, err
		}
		count = d.bo.Uint64(b)
		entryStart += 8
		entrySize = 20
	} else {
		b, err := d.bytesAt(off, 2)
		if err != nil {
			return nil, 0, err
		}
		count = uint64(d.bo.Uint16(b))
		entryStart += 2
	}
	if count > 4096 {
		return nil, 0, fmt.Errorf("implausible IFD with %d entries", count)
	}

	raw, err := d.bytesAt(entryStart, int(count*entrySize))
	if err != nil {
		return nil, 0, err
	}

	fields := make(ifd, count)
	for i := uint64(0); i < count; i++ {
		f := raw[i*entrySize:]
		tag := d.bo.Uint16(f[0:2])
		e := entry{typ: d.bo.Uint16(f[2:4])}

		var value []byte
		if d.big {
			e.count = d.bo.Uint64(f[4:12])
			value = f[12:20]
		} else {
			e.count = uint64(d.bo.Uint32(f[4:8]))
			value = f[8:12]
		}

		size := typeSizes[e.typ] * e.count
		if size == 0 {
			continue // unknown field type, skip
		}
		if size <= uint64(len(value)) {
			e.inline = append([]byte(nil), value[:size]...)
		} else if d.big {
			e.offset = d.bo.Uint64(value)
		} else {
			e.offset = uint64(d.bo.Uint32(value))
		}
		fields[tag] = e
	}

	nextSize := 4
	if d.big {
		nextSize = 8
	}
	nextField, err := d.bytesAt(entryStart+count*entrySize, nextSize)
	if err != nil {
		return nil, 0, err
	}
	if d.big {
		return fields, d.bo.Uint64(nextField), nil
	}
	return fields, uint64(d.bo.Uint32(nextField)), nil
}

func (d *decoder) bytesAt(off uint64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := d.ra.ReadAt(buf, int64(off)); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated file (read at %d)", off)
		}
		return nil, err
	}
	return buf, nil
}

// valueBytes returns the raw value data of an entry.
func (d *decoder) valueBytes(e entry) ([]byte, error) {
	if e.inline != nil {
		return e.inline, nil
	}
	return d.bytesAt(e.offset, int(typeSizes[e.typ]*e.count))
}

// ints decodes an entry as unsigned integers.
func (d *decoder) ints(e entry) ([]uint64, error) {
	raw, err := d.valueBytes(e)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeByte, typeSByte, typeUndefined:
			out[i] = uint64(raw[i])
		case typeShort, typeSShort:
			out[i] = uint64(d.bo.Uint16(raw[i*2:]))
		case typeLong, typeSLong:
			out[i] = uint64(d.bo.Uint32(raw[i*4:]))
		case typeLong8, typeSLong8, typeIFD8:
			out[i] = d.bo.Uint64(raw[i*8:])
		default:
			return nil, fmt.Errorf("field type %d is not integral", e.typ)
		}
	}
	return out, nil
}

// floats decodes an entry as float64 values.
func (d *decoder) floats(e entry) ([]float64, error) {
	if e.typ != typeFloat && e.typ != typeDouble {
		ints, err := d.ints(e)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(ints))
		for i, v := range ints {
			out[i] = float64(v)
		}
		return out, nil
	}

	raw, err := d.valueBytes(e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := range out {
		if e.typ == typeFloat {
			out[i] = float64(math.Float32frombits(d.bo.Uint32(raw[i*4:])))
		} else {
			out[i] = math.Float64frombits(d.bo.Uint64(raw[i*8:]))
		}
	}
	return out, nil
}

func (d *decoder) str(e entry) (string, error) {
	raw, err := d.valueBytes(e)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(raw), "\x00"), nil
}

// firstInt returns the first integer of a field, or def if absent.
func (d *decoder) firstInt(fields ifd, tag uint16, def uint64) (uint64, error) {
	e, ok := fields[tag]
	if !ok {
		return def, nil
	}
	vals, err := d.ints(e)
	if err != nil || len(vals) == 0 {
		return def, err
	}
	return vals[0], nil
}

// uniformInt returns the single value of a per-band field, requiring all
// bands to agree.
func (d *decoder) uniformInt(fields ifd, tag uint16, def uint64, name string) (uint64, error) {
	e, ok := fields[tag]
	if !ok {
		return def, nil
	}
	vals, err := d.ints(e)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return def, nil
	}
	for _, v := range vals[1:] {
		if v != vals[0] {
			return 0, fmt.Errorf("bands with mixed %s are not supported", name)
		}
	}
	return vals[0], nil
}

func (d *decoder) decodeImage(fields ifd, skipData bool) (*Raster, error) {
	width, err := d.firstInt(fields, tagImageWidth, 0)
	if err != nil {
		return nil, err
	}
	height, err := d.firstInt(fields, tagImageLength, 0)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("missing image dimensions")
	}

	bands, err := d.firstInt(fields, tagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	bits, err := d.uniformInt(fields, tagBitsPerSample, 8, "bits per sample")
	if err != nil {
		return nil, err
	}
	format, err := d.uniformInt(fields, tagSampleFormat, formatUnsigned, "sample formats")
	if err != nil {
		return nil, err
	}
	dtype, err := dataTypeFor(uint16(format), uint16(bits))
	if err != nil {
		return nil, err
	}

	planar, err := d.firstInt(fields, tagPlanarConfiguration, 1)
	if err != nil {
		return nil, err
	}
	if planar != 1 {
		return nil, fmt.Errorf("unsupported planar configuration %d (band-separate files)", planar)
	}

	photometric, err := d.firstInt(fields, tagPhotometric, 1)
	if err != nil {
		return nil, err
	}
	if photometric > 2 {
		return nil, fmt.Errorf("unsupported photometric interpretation %d", photometric)
	}

	compression, err := d.firstInt(fields, tagCompression, ctNone)
	if err != nil {
		return nil, err
	}
	switch compression {
	case ctNone, ctLZW, ctDeflate, ctDeflateOld, ctPackBits:
	default:
		return nil, fmt.Errorf("unsupported compression scheme %d", compression)
	}

	predictor, err := d.firstInt(fields, tagPredictor, 1)
	if err != nil {
		return nil, err
	}
	if predictor != 1 && predictor != 2 {
		return nil, fmt.Errorf("unsupported predictor %d", predictor)
	}
	if predictor == 2 && dtype.IsFloat() {
		return nil, fmt.Errorf("horizontal-differencing predictor on floating-point samples is not supported")
	}

	r := &Raster{
		Width:       int(width),
		Height:      int(height),
		Bands:       int(bands),
		Type:        dtype,
		Compression: compressionName(uint16(compression)),
	}
	if err := d.decodeGeo(fields, r); err != nil {
		return nil, err
	}
	if skipData {
		return r, nil
	}

	// compare against the divided limit: the plain product of two hostile
	// BigTIFF dimensions can wrap around uint64
	if width > (1<<34)/height {
		return nil, fmt.Errorf("raster of %d×%d pixels is too large to load", width, height)
	}
	r.data = make([]byte, int(width)*int(height)*int(bands)*dtype.Size())

	if err := d.decodeChunks(fields, r, uint16(compression), predictor == 2); err != nil {
		return nil, err
	}
	return r, nil
}

func compressionName(c uint16) string {
	switch c {
	case ctNone:
		return "none"
	case ctLZW:
		return "lzw"
	case ctDeflate, ctDeflateOld:
		return "deflate"
	case ctPackBits:
		return "packbits"
	}
	return "unknown"
}

// decodeGeo fills in transform, CRS and nodata from the GeoTIFF and GDAL
// extension tags.
func (d *decoder) decodeGeo(fields ifd, r *Raster) error {
	// sensible default for rasters with no georeferencing at all
	r.Transform = Transform{ScaleX: 1, ScaleY: 1}

	if e, ok := fields[tagModelTransformation]; ok {
		m, err := d.floats(e)
		if err != nil {
			return err
		}
		if len(m) < 16 {
			return fmt.Errorf("ModelTransformation holds %d values, want 16", len(m))
		}
		r.Transform = Transform{
			ScaleX: m[0], ShearX: m[1], OriginX: m[3],
			ShearY: m[4], ScaleY: m[5], OriginY: m[7],
		}
	} else if e, ok := fields[tagModelPixelScale]; ok {
		scale, err := d.floats(e)
		if err != nil {
			return err
		}
		var tie []float64
		if te, ok := fields[tagModelTiepoint]; ok {
			tie, err = d.floats(te)
			if err != nil {
				return err
			}
		}
		if len(scale) < 2 || len(tie) < 6 {
			return fmt.Errorf("incomplete pixel scale / tiepoint georeferencing")
		}
		r.Transform = Transform{
			ScaleX:  scale[0],
			ScaleY:  -scale[1],
			OriginX: tie[3] - tie[0]*scale[0],
			OriginY: tie[4] + tie[1]*scale[1],
		}
	}

	var directory []uint16
	var doubles []float64
	var ascii string
	if e, ok := fields[tagGeoKeyDirectory]; ok {
		vals, err := d.ints(e)
		if err != nil {
			return err
		}
		directory = make([]uint16, len(vals))
		for i, v := range vals {
			directory[i] = uint16(v)
		}
	}
	if e, ok := fields[tagGeoDoubleParams]; ok {
		var err error
		doubles, err = d.floats(e)
		if err != nil {
			return err
		}
	}
	if e, ok := fields[tagGeoAsciiParams]; ok {
		var err error
		ascii, err = d.str(e)
		if err != nil {
			return err
		}
	}
	crs, err := parseGeoKeys(directory, doubles, ascii)
	if err != nil {
		return err
	}
	r.CRS = crs

	if crs.pixelIsPoint() {
		r.Transform.OriginX -= 0.5*r.Transform.ScaleX + 0.5*r.Transform.ShearX
		r.Transform.OriginY -= 0.5*r.Transform.ShearY + 0.5*r.Transform.ScaleY
	}

	if e, ok := fields[tagGDALNoData]; ok {
		s, err := d.str(e)
		if err != nil {
			return err
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			r.NoData = &v
		}
	}
	return nil
}

// decodeChunks reads and decompresses every strip or tile into the raster's
// sample buffer.
func (d *decoder) decodeChunks(fields ifd, r *Raster, compression uint16, predict bool) error {
	offTag, cntTag := uint16(tagStripOffsets), uint16(tagStripByteCounts)
	tiled := false
	if _, ok := fields[tagTileOffsets]; ok {
		offTag, cntTag = tagTileOffsets, tagTileByteCounts
		tiled = true
	}

	offE, ok := fields[offTag]
	if !ok {
		return fmt.Errorf("missing strip/tile offsets")
	}
	offsets, err := d.ints(offE)
	if err != nil {
		return err
	}
	cntE, ok := fields[cntTag]
	if !ok {
		return fmt.Errorf("missing strip/tile byte counts")
	}
	counts, err := d.ints(cntE)
	if err != nil {
		return err
	}
	if len(counts) < len(offsets) {
		return fmt.Errorf("fewer byte counts (%d) than chunk offsets (%d)", len(counts), len(offsets))
	}

	// A chunk with offset 0 is a sparse block: all of its pixels carry the
	// nodata value (GDAL's SPARSE_OK convention).
	if r.NoData != nil {
		for _, off := range offsets {
			if off == 0 {
				r.Fill(*r.NoData)
				break
			}
		}
	}

	sampleSize := r.Type.Size()
	pixelSize := r.Bands * sampleSize

	var chunkW, chunkH int
	if tiled {
		tw, err := d.firstInt(fields, tagTileWidth, 0)
		if err != nil {
			return err
		}
		th, err := d.firstInt(fields, tagTileLength, 0)
		if err != nil {
			return err
		}
		if tw == 0 || th == 0 {
			return fmt.Errorf("missing tile dimensions")
		}
		chunkW, chunkH = int(tw), int(th)
	} else {
		rps, err := d.firstInt(fields, tagRowsPerStrip, uint64(r.Height))
		if err != nil {
			return err
		}
		if rps == 0 || rps > uint64(r.Height) {
			rps = uint64(r.Height)
		}
		chunkW, chunkH = r.Width, int(rps)
	}

	across := 1
	if tiled {
		across = (r.Width + chunkW - 1) / chunkW
	}

	for i, off := range offsets {
		if off == 0 {
			continue
		}

		var x0, y0 int
		if tiled {
			x0 = (i % across) * chunkW
			y0 = (i / across) * chunkH
		} else {
			y0 = i * chunkH
		}
		if y0 >= r.Height {
			break
		}

		rows := chunkH
		if !tiled && y0+rows > r.Height {
			rows = r.Height - y0
		}
		want := chunkW * rows * pixelSize

		raw, err := d.bytesAt(off, int(counts[i]))
		if err != nil {
			return fmt.Errorf("reading chunk %d: %w", i, err)
		}
		data, err := decompress(raw, compression, want)
		if err != nil {
			return fmt.Errorf("decompressing chunk %d: %w", i, err)
		}
		if predict {
			undoPredictor(data, chunkW*r.Bands, r.Bands, sampleSize, d.bo)
		}
		if d.bo == binary.BigEndian && sampleSize > 1 {
			swapToLittleEndian(data, sampleSize)
		}

		// copy the valid region of the chunk into place
		cols := chunkW
		if x0+cols > r.Width {
			cols = r.Width - x0
		}
		srcStride := chunkW * pixelSize
		for row := 0; row < rows; row++ {
			if y0+row >= r.Height {
				break
			}
			dst := r.sampleOffset(x0, y0+row, 0)
			src := row * srcStride
			copy(r.data[dst:dst+cols*pixelSize], data[src:src+cols*pixelSize])
		}
	}
	return nil
}

func decompress(raw []byte, compression uint16, want int) ([]byte, error) {
	switch compression {
	case ctNone:
		if len(raw) < want {
			return nil, fmt.Errorf("chunk holds %d bytes, want %d", len(raw), want)
		}
		return raw[:want], nil

	case ctLZW:
		rd := tifflzw.NewReader(bytes.NewReader(raw), tifflzw.MSB, 8)
		defer rd.Close()
		return readFull(rd, want)

	case ctDeflate, ctDeflateOld:
		rd, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer rd.Close()
		return readFull(rd, want)

	case ctPackBits:
		return unpackBits(raw, want)
	}
	return nil, fmt.Errorf("unsupported compression scheme %d", compression)
}

func readFull(r io.Reader, want int) ([]byte, error) {
	buf := make([]byte, want)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// unpackBits decodes PackBits-compressed data (TIFF 6.0 §9).
func unpackBits(src []byte, want int) ([]byte, error) {
	dst := make([]byte, 0, want)
	for i := 0; i < len(src) && len(dst) < want; {
		n := int8(src[i])
		i++
		switch {
		case n >= 0:
			end := i + int(n) + 1
			if end > len(src) {
				return nil, fmt.Errorf("truncated PackBits literal run")
			}
			dst = append(dst, src[i:end]...)
			i = end
		case n == -128:
			// noop
		default:
			if i >= len(src) {
				return nil, fmt.Errorf("truncated PackBits repeat run")
			}
			for j := 0; j < 1-int(n); j++ {
				dst = append(dst, src[i])
			}
			i++
		}
	}
	if len(dst) < want {
		return nil, fmt.Errorf("PackBits data decodes to %d bytes, want %d", len(dst), want)
	}
	return dst[:want], nil
}

// undoPredictor reverses TIFF horizontal differencing in place. rowSamples
// is the number of samples per chunk row. Deltas accumulate per sample
// channel in the file's byte order, so with interleaved bands each sample
// adds to the one a whole pixel back, not to its neighbor.
func undoPredictor(data []byte, rowSamples, bands, sampleSize int, bo binary.ByteOrder) {
	rowBytes := rowSamples * sampleSize
	stride := bands * sampleSize
	for rowStart := 0; rowStart+rowBytes <= len(data); rowStart += rowBytes {
		row := data[rowStart : rowStart+rowBytes]
		switch sampleSize {
		case 1:
			for i := stride; i < len(row); i++ {
				row[i] += row[i-stride]
			}
		case 2:
			for i := stride; i+2 <= len(row); i += 2 {
				bo.PutUint16(row[i:], bo.Uint16(row[i:])+bo.Uint16(row[i-stride:]))
			}
		case 4:
			for i := stride; i+4 <= len(row); i += 4 {
				bo.PutUint32(row[i:], bo.Uint32(row[i:])+bo.Uint32(row[i-stride:]))
			}
		}
	}
}

func swapToLittleEndian(data []byte, sampleSize int) {
	for i := 0; i+sampleSize <= len(data); i += sampleSize {
		for a, b := i, i+sampleSize-1; a < b; a, b = a+1, b-1 {
			data[a], data[b] = data[b], data[a]
		}
	}
}
