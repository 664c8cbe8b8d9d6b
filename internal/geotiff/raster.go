package geotiff

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// DataType enumerates the sample types the codec supports.
type DataType int

const (
	Uint8 DataType = iota
	Uint16
	Uint32
	Int16
	Int32
	Float32
	Float64
)

// Size returns the width of one sample in bytes.
func (d DataType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// IsFloat reports whether samples are floating point.
func (d DataType) IsFloat() bool { return d == Float32 || d == Float64 }

func (d DataType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return "unknown"
}

// sampleFormat returns the TIFF SampleFormat code for the type.
func (d DataType) sampleFormat() uint16 {
	switch d {
	case Int16, Int32:
		return formatSigned
	case Float32, Float64:
		return formatFloat
	default:
		return formatUnsigned
	}
}

// bits returns the TIFF BitsPerSample value for the type.
func (d DataType) bits() uint16 { return uint16(d.Size() * 8) }

// dataTypeFor maps a TIFF (SampleFormat, BitsPerSample) pair to a DataType.
func dataTypeFor(format, bits uint16) (DataType, error) {
	switch {
	case format == formatUnsigned && bits == 8:
		return Uint8, nil
	case format == formatUnsigned && bits == 16:
		return Uint16, nil
	case format == formatUnsigned && bits == 32:
		return Uint32, nil
	case format == formatSigned && bits == 16:
		return Int16, nil
	case format == formatSigned && bits == 32:
		return Int32, nil
	case format == formatFloat && bits == 32:
		return Float32, nil
	case format == formatFloat && bits == 64:
		return Float64, nil
	}
	return 0, fmt.Errorf("unsupported sample type (format %d, %d bits)", format, bits)
}

// Raster is a georeferenced pixel grid. Samples are stored chunky
// (band-interleaved by pixel) in little-endian order regardless of the byte
// order of the file they were read from. A loaded Raster is treated as
// immutable by the processing stages; clipping produces a new one.
type Raster struct {
	Width, Height int
	Bands         int
	Type          DataType
	Transform     Transform
	CRS           CRS
	NoData        *float64

	// Compression names the scheme of the file this raster was read from.
	// Informational only; the writer picks its own.
	Compression string

	data []byte
}

// New allocates a zero-filled raster.
func New(width, height, bands int, dtype DataType) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Bands:  bands,
		Type:   dtype,
		data:   make([]byte, width*height*bands*dtype.Size()),
	}
}

func (r *Raster) sampleOffset(col, row, band int) int {
	return ((row*r.Width+col)*r.Bands + band) * r.Type.Size()
}

// Value returns the sample at (col, row) in the given band as a float64.
// It will panic if the indices are out of bounds for the grid.
func (r *Raster) Value(col, row, band int) float64 {
	i := r.sampleOffset(col, row, band)
	switch r.Type {
	case Uint8:
		return float64(r.data[i])
	case Uint16:
		return float64(binary.LittleEndian.Uint16(r.data[i:]))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(r.data[i:]))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(r.data[i:])))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(r.data[i:])))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(r.data[i:])))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(r.data[i:]))
	}
	return 0
}

// SetValue stores v at (col, row) in the given band, rounding and clamping
// for integer types.
func (r *Raster) SetValue(col, row, band int, v float64) {
	i := r.sampleOffset(col, row, band)
	switch r.Type {
	case Uint8:
		r.data[i] = uint8(clamp(v, 0, math.MaxUint8))
	case Uint16:
		binary.LittleEndian.PutUint16(r.data[i:], uint16(clamp(v, 0, math.MaxUint16)))
	case Uint32:
		binary.LittleEndian.PutUint32(r.data[i:], uint32(clamp(v, 0, math.MaxUint32)))
	case Int16:
		binary.LittleEndian.PutUint16(r.data[i:], uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
	case Int32:
		binary.LittleEndian.PutUint32(r.data[i:], uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	case Float32:
		binary.LittleEndian.PutUint32(r.data[i:], math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(r.data[i:], math.Float64bits(v))
	}
}

func clamp(v, lo, hi float64) float64 {
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Fill sets every sample of every band to v.
func (r *Raster) Fill(v float64) {
	if len(r.data) == 0 {
		return
	}
	r.SetValue(0, 0, 0, v)
	one := r.data[:r.Type.Size()]
	for i := r.Type.Size(); i < len(r.data); i += r.Type.Size() {
		copy(r.data[i:], one)
	}
}

// CopySamples copies n consecutive pixels (all bands) from src row srcRow
// starting at srcCol into dst at (dstCol, dstRow). Both rasters must share
// band count and data type.
func CopySamples(dst *Raster, dstCol, dstRow int, src *Raster, srcCol, srcRow, n int) {
	if n <= 0 {
		return
	}
	pixel := src.Bands * src.Type.Size()
	s := src.sampleOffset(srcCol, srcRow, 0)
	d := dst.sampleOffset(dstCol, dstRow, 0)
	copy(dst.data[d:d+n*pixel], src.data[s:s+n*pixel])
}

// PixelCenter returns the CRS coordinates of the center of pixel (col, row).
func (r *Raster) PixelCenter(col, row int) orb.Point {
	x, y := r.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
	return orb.Point{x, y}
}

// Bound returns the CRS-space bounding box of the raster, valid also for
// rotated transforms.
func (r *Raster) Bound() orb.Bound {
	w, h := float64(r.Width), float64(r.Height)
	corners := [4][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}}

	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, c := range corners {
		x, y := r.Transform.Apply(c[0], c[1])
		b = b.Extend(orb.Point{x, y})
	}
	return b
}
