package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/airbusgeo/cogger"
)

// classicLimit is the largest file offset a classic TIFF can address, with
// a little headroom for the directory block at the end.
const classicLimit = 1<<32 - 1<<16

// WriteOptions control the on-disk layout of an encoded raster.
type WriteOptions struct {
	// Compression is "deflate" (the default) or "none".
	Compression string
	// Tiled selects 256×256 tiles instead of strips.
	Tiled bool
	// TileSize overrides the tile edge length. Must be a multiple of 16.
	TileSize int
	// Overviews appends reduced-resolution pages for fast zoomed-out reads.
	Overviews bool
}

// Write encodes r to a new file at path.
func Write(path string, r *Raster, opts WriteOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, r, opts); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// WriteCOG writes r as a cloud-optimized GeoTIFF: tiled, with overviews, and
// with the file layout rearranged so HTTP range readers can stream it. The
// tile data is staged in a sibling temp file that is removed afterwards.
func WriteCOG(path string, r *Raster, opts WriteOptions) error {
	opts.Tiled = true
	opts.Overviews = true

	staged := path + ".tiles"
	if err := Write(staged, r, opts); err != nil {
		return err
	}
	defer os.Remove(staged)

	in, err := os.Open(staged)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := cogger.Rewrite(out, in); err != nil {
		out.Close()
		os.Remove(path)
		return fmt.Errorf("rewriting as cloud-optimized GeoTIFF: %w", err)
	}
	return out.Close()
}

// Encode writes r as a classic little-endian TIFF. Chunk data comes first
// and the image directories go at the end, so nothing needs to be buffered;
// the header's directory pointer is patched once everything is in place.
func Encode(w io.WriteSeeker, r *Raster, opts WriteOptions) error {
	if r.Width <= 0 || r.Height <= 0 || r.Bands <= 0 {
		return fmt.Errorf("cannot encode an empty raster")
	}

	var comp uint16
	switch opts.Compression {
	case "", "deflate":
		comp = ctDeflate
	case "none":
		comp = ctNone
	default:
		return fmt.Errorf("unsupported compression %q (want deflate or none)", opts.Compression)
	}

	tileSize := opts.TileSize
	if tileSize == 0 {
		tileSize = 256
	}
	if tileSize%16 != 0 {
		return fmt.Errorf("tile size %d is not a multiple of 16", tileSize)
	}

	pages := []*Raster{r}
	if opts.Overviews {
		pages = append(pages, BuildOverviews(r)...)
	}

	var raw uint64
	for _, p := range pages {
		raw += uint64(p.Width) * uint64(p.Height) * uint64(p.Bands) * uint64(p.Type.Size())
	}
	if raw > classicLimit {
		return fmt.Errorf("raster needs %d bytes of sample data, beyond the 4 GiB a classic TIFF can address", raw)
	}

	e := &encoder{w: w}
	e.write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})

	// sample data for every page first
	chunks := make([]chunkLayout, len(pages))
	for i, p := range pages {
		var err error
		chunks[i], err = e.writeChunks(p, comp, opts.Tiled, tileSize)
		if err != nil {
			return err
		}
	}

	// build all directories, then lay them out back to back
	tables := make([][]ifdEntry, len(pages))
	for i, p := range pages {
		tables[i] = fileFields(p, comp, opts.Tiled, tileSize, chunks[i], i > 0)
	}

	offsets := make([]uint32, len(pages))
	off := e.off
	for i := range tables {
		off = (off + 1) &^ 1
		offsets[i] = uint32(off)
		off += ifdSize(tables[i])
	}
	if off > classicLimit {
		return fmt.Errorf("file exceeds the 4 GiB classic TIFF limit")
	}

	for i := range tables {
		e.pad()
		next := uint32(0)
		if i+1 < len(tables) {
			next = offsets[i+1]
		}
		e.writeIFD(tables[i], offsets[i], next)
	}
	if e.err != nil {
		return e.err
	}

	if _, err := w.Seek(4, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, offsets[0])
}

type chunkLayout struct {
	offsets      []uint32
	counts       []uint32
	rowsPerStrip uint32
}

type encoder struct {
	w   io.Writer
	off uint64
	err error
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	n, err := e.w.Write(b)
	e.off += uint64(n)
	e.err = err
}

// pad advances to an even offset; TIFF values must be word aligned.
func (e *encoder) pad() {
	if e.off%2 == 1 {
		e.write([]byte{0})
	}
}

func (e *encoder) writeChunks(r *Raster, comp uint16, tiled bool, tileSize int) (chunkLayout, error) {
	pixel := r.Bands * r.Type.Size()

	var chunkW, chunkH int
	if tiled {
		chunkW, chunkH = tileSize, tileSize
	} else {
		chunkW = r.Width
		chunkH = 8192 / (r.Width * pixel)
		if chunkH < 1 {
			chunkH = 1
		}
		if chunkH > r.Height {
			chunkH = r.Height
		}
	}
	across := (r.Width + chunkW - 1) / chunkW
	down := (r.Height + chunkH - 1) / chunkH

	var layout chunkLayout
	layout.rowsPerStrip = uint32(chunkH)

	// tiles at the right/bottom edge are padded out with nodata
	var padRow []byte
	if tiled {
		pad := New(1, 1, r.Bands, r.Type)
		if r.NoData != nil {
			pad.Fill(*r.NoData)
		}
		padRow = bytes.Repeat(pad.data, chunkW)
	}

	buf := make([]byte, chunkW*chunkH*pixel)
	var zbuf bytes.Buffer
	var zw *zlib.Writer

	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			var chunk []byte
			if tiled {
				cols := chunkW
				if tx*chunkW+cols > r.Width {
					cols = r.Width - tx*chunkW
				}
				rows := chunkH
				if ty*chunkH+rows > r.Height {
					rows = r.Height - ty*chunkH
				}
				for row := 0; row < chunkH; row++ {
					dst := buf[row*chunkW*pixel : (row+1)*chunkW*pixel]
					if row >= rows {
						copy(dst, padRow)
						continue
					}
					src := r.sampleOffset(tx*chunkW, ty*chunkH+row, 0)
					copy(dst, r.data[src:src+cols*pixel])
					if cols < chunkW {
						copy(dst[cols*pixel:], padRow)
					}
				}
				chunk = buf
			} else {
				rows := chunkH
				if ty*chunkH+rows > r.Height {
					rows = r.Height - ty*chunkH
				}
				start := r.sampleOffset(0, ty*chunkH, 0)
				chunk = r.data[start : start+rows*chunkW*pixel]
			}

			payload := chunk
			if comp == ctDeflate {
				zbuf.Reset()
				if zw == nil {
					zw = zlib.NewWriter(&zbuf)
				} else {
					zw.Reset(&zbuf)
				}
				if _, err := zw.Write(chunk); err != nil {
					return layout, err
				}
				if err := zw.Close(); err != nil {
					return layout, err
				}
				payload = zbuf.Bytes()
			}

			e.pad()
			if e.off+uint64(len(payload)) > classicLimit {
				return layout, fmt.Errorf("file exceeds the 4 GiB classic TIFF limit")
			}
			layout.offsets = append(layout.offsets, uint32(e.off))
			layout.counts = append(layout.counts, uint32(len(payload)))
			e.write(payload)
			if e.err != nil {
				return layout, e.err
			}
		}
	}
	return layout, nil
}

// ifdEntry is one directory field with its value already encoded
// little-endian. Values wider than 4 bytes spill past the entry table.
type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func entryShorts(tag uint16, vals ...uint16) ifdEntry {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(data[i*2:], v)
	}
	return ifdEntry{tag: tag, typ: typeShort, count: uint32(len(vals)), data: data}
}

func entryLongs(tag uint16, vals ...uint32) ifdEntry {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], v)
	}
	return ifdEntry{tag: tag, typ: typeLong, count: uint32(len(vals)), data: data}
}

func entryDoubles(tag uint16, vals ...float64) ifdEntry {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: typeDouble, count: uint32(len(vals)), data: data}
}

func entryASCII(tag uint16, s string) ifdEntry {
	data := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(data)), data: data}
}

// fileFields assembles the directory for one page. Georeferencing only goes
// on the base image; overviews inherit it.
func fileFields(r *Raster, comp uint16, tiled bool, tileSize int, chunks chunkLayout, overview bool) []ifdEntry {
	var fields []ifdEntry
	add := func(f ifdEntry) { fields = append(fields, f) }

	if overview {
		add(entryLongs(tagNewSubfileType, 1))
	}
	add(entryLongs(tagImageWidth, uint32(r.Width)))
	add(entryLongs(tagImageLength, uint32(r.Height)))

	bits := make([]uint16, r.Bands)
	formats := make([]uint16, r.Bands)
	for i := range bits {
		bits[i] = r.Type.bits()
		formats[i] = r.Type.sampleFormat()
	}
	add(entryShorts(tagBitsPerSample, bits...))
	add(entryShorts(tagSampleFormat, formats...))
	add(entryShorts(tagCompression, comp))

	photometric := uint16(1)
	colorBands := 1
	if r.Bands >= 3 {
		photometric = 2
		colorBands = 3
	}
	add(entryShorts(tagPhotometric, photometric))
	add(entryShorts(tagSamplesPerPixel, uint16(r.Bands)))
	if extra := r.Bands - colorBands; extra > 0 {
		add(entryShorts(tagExtraSamples, make([]uint16, extra)...))
	}

	if tiled {
		add(entryShorts(tagTileWidth, uint16(tileSize)))
		add(entryShorts(tagTileLength, uint16(tileSize)))
		add(entryLongs(tagTileOffsets, chunks.offsets...))
		add(entryLongs(tagTileByteCounts, chunks.counts...))
	} else {
		add(entryLongs(tagRowsPerStrip, chunks.rowsPerStrip))
		add(entryLongs(tagStripOffsets, chunks.offsets...))
		add(entryLongs(tagStripByteCounts, chunks.counts...))
	}

	if !overview {
		add(entryASCII(tagSoftware, "mosaic-utils"))

		t := r.Transform
		if t != (Transform{}) {
			if t.Rectilinear() && t.ScaleX > 0 && t.ScaleY < 0 {
				add(entryDoubles(tagModelPixelScale, t.ScaleX, -t.ScaleY, 0))
				add(entryDoubles(tagModelTiepoint, 0, 0, 0, t.OriginX, t.OriginY, 0))
			} else {
				add(entryDoubles(tagModelTransformation,
					t.ScaleX, t.ShearX, 0, t.OriginX,
					t.ShearY, t.ScaleY, 0, t.OriginY,
					0, 0, 0, 0,
					0, 0, 0, 1))
			}
		}

		if r.CRS.Defined() {
			add(entryShorts(tagGeoKeyDirectory, r.CRS.directory...))
			if len(r.CRS.doubles) > 0 {
				add(entryDoubles(tagGeoDoubleParams, r.CRS.doubles...))
			}
			if r.CRS.ascii != "" {
				add(entryASCII(tagGeoAsciiParams, r.CRS.ascii))
			}
		}

		if r.NoData != nil {
			add(entryASCII(tagGDALNoData, strconv.FormatFloat(*r.NoData, 'g', -1, 64)))
		}
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })
	return fields
}

// ifdSize returns the number of bytes writeIFD will emit for the directory:
// the entry table, the next-directory pointer and every spilled value, each
// padded to an even offset.
func ifdSize(fields []ifdEntry) uint64 {
	size := uint64(2 + 12*len(fields) + 4)
	for _, f := range fields {
		if len(f.data) > 4 {
			size += uint64(len(f.data)+1) &^ 1
		}
	}
	return size
}

func (e *encoder) writeIFD(fields []ifdEntry, at, next uint32) {
	var buf bytes.Buffer
	w := func(v interface{}) { binary.Write(&buf, binary.LittleEndian, v) }

	spill := at + uint32(2+12*len(fields)+4)
	var spilled [][]byte

	w(uint16(len(fields)))
	for _, f := range fields {
		w(f.tag)
		w(f.typ)
		w(f.count)
		if len(f.data) <= 4 {
			var inline [4]byte
			copy(inline[:], f.data)
			buf.Write(inline[:])
			continue
		}
		w(spill)
		padded := append([]byte(nil), f.data...)
		if len(padded)%2 == 1 {
			padded = append(padded, 0)
		}
		spilled = append(spilled, padded)
		spill += uint32(len(padded))
	}
	w(next)
	for _, b := range spilled {
		buf.Write(b)
	}

	e.write(buf.Bytes())
}
