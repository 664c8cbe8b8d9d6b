package mask

import (
	"errors"
	"fmt"
	"math"

	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
)

// ErrEmptyRaster means every pixel of the raster carries the nodata value.
var ErrEmptyRaster = errors.New("raster contains no valid pixels")

// Policy selects how the bands of a pixel combine into a validity verdict.
type Policy int

const (
	// AnyBand marks a pixel valid when at least one inspected band differs
	// from nodata. This is the default.
	AnyBand Policy = iota
	// AllBands requires every inspected band to differ from nodata.
	AllBands
)

// ParsePolicy maps the --valid_bands flag values to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "any":
		return AnyBand, nil
	case "all":
		return AllBands, nil
	}
	return 0, fmt.Errorf("unknown band policy %q (want any or all)", s)
}

// Source names where the effective nodata value came from.
type Source int

const (
	// SourceOverride: supplied explicitly by the caller.
	SourceOverride Source = iota
	// SourceTag: read from the raster's GDAL_NODATA tag.
	SourceTag
	// SourceTopLeft: no override and no tag; the top-left pixel of the
	// first band is assumed to be background.
	SourceTopLeft
)

func (s Source) String() string {
	switch s {
	case SourceOverride:
		return "explicit override"
	case SourceTag:
		return "raster metadata"
	case SourceTopLeft:
		return "top-left pixel fallback"
	}
	return "unknown"
}

// Options configure mask extraction.
type Options struct {
	// NoData overrides the raster's own nodata value when non-nil.
	NoData *float64
	// Policy is the band combination rule.
	Policy Policy
	// Bands restricts the mask to the first N bands (0 means all). Mosaics
	// with an alpha band are typically masked on the color bands only.
	Bands int
}

// Mask is the occupancy grid of a raster: true where a pixel holds valid
// data.
type Mask struct {
	Width, Height int

	// NoData and NoDataSource record the sentinel the mask was built
	// against and where it came from.
	NoData       float64
	NoDataSource Source

	// Valid counts the true cells.
	Valid int

	bits []bool
}

// New allocates an all-false mask.
func New(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		bits:   make([]bool, width*height),
	}
}

// At reports whether the pixel at (col, row) is valid. Out-of-range
// coordinates are invalid, which lets boundary tracing probe neighbors
// without bounds checks.
func (m *Mask) At(col, row int) bool {
	if col < 0 || col >= m.Width || row < 0 || row >= m.Height {
		return false
	}
	return m.bits[row*m.Width+col]
}

// Set marks the pixel at (col, row).
func (m *Mask) Set(col, row int, valid bool) {
	was := m.bits[row*m.Width+col]
	if was == valid {
		return
	}
	m.bits[row*m.Width+col] = valid
	if valid {
		m.Valid++
	} else {
		m.Valid--
	}
}

// FromRaster derives the occupancy mask of a raster. The nodata sentinel is
// taken from opts.NoData if set, else from the raster's metadata, else from
// the raster's top-left pixel of band 1.
func FromRaster(r *geotiff.Raster, opts Options) (*Mask, error) {
	m := New(r.Width, r.Height)

	switch {
	case opts.NoData != nil:
		m.NoData = *opts.NoData
		m.NoDataSource = SourceOverride
	case r.NoData != nil:
		m.NoData = *r.NoData
		m.NoDataSource = SourceTag
	default:
		m.NoData = r.Value(0, 0, 0)
		m.NoDataSource = SourceTopLeft
	}

	bands := opts.Bands
	if bands <= 0 || bands > r.Bands {
		bands = r.Bands
	}
	isFloat := r.Type.IsFloat()

	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			var valid bool
			if opts.Policy == AllBands {
				valid = true
				for band := 0; band < bands; band++ {
					if matchesNoData(r.Value(col, row, band), m.NoData, isFloat) {
						valid = false
						break
					}
				}
			} else {
				for band := 0; band < bands; band++ {
					if !matchesNoData(r.Value(col, row, band), m.NoData, isFloat) {
						valid = true
						break
					}
				}
			}
			if valid {
				m.bits[row*m.Width+col] = true
				m.Valid++
			}
		}
	}

	if m.Valid == 0 {
		return nil, ErrEmptyRaster
	}
	return m, nil
}

// floatTolerance is the relative tolerance for floating-point nodata
// comparison, guarding against drift introduced by resampling or format
// conversion.
const floatTolerance = 1e-6

func matchesNoData(v, nodata float64, isFloat bool) bool {
	if math.IsNaN(nodata) {
		return math.IsNaN(v)
	}
	if !isFloat {
		return v == nodata
	}
	return math.Abs(v-nodata) <= floatTolerance*math.Max(1, math.Abs(nodata))
}
