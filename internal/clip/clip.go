package clip

import (
	"errors"
	"math"

	"github.com/paulmach/orb"

	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
	"github.com/harmonize-tools/mosaic-utils/internal/rasterize"
)

// ErrNoOverlap means the cut geometry lies entirely outside the raster.
var ErrNoOverlap = errors.New("cut geometry does not intersect the raster extent")

// Clip cuts a raster against a polygon in CRS coordinates. The output grid
// stays aligned with the input grid and covers the polygon's bounding box
// intersected with the raster extent, never more. Pixels whose center falls
// inside the polygon (boundary inclusive) keep their value; the rest are set
// to nodata. CRS, pixel size, band count and data type carry over unchanged.
//
// The nodata argument overrides the raster's own sentinel for filling and
// for the output's metadata; pass nil to keep the raster's. A raster with
// neither fills with zero.
func Clip(r *geotiff.Raster, poly orb.Polygon, nodata *float64) (*geotiff.Raster, error) {
	inv, err := r.Transform.Invert()
	if err != nil {
		return nil, err
	}

	// polygon into pixel coordinates; affine maps keep polygons polygons
	pix := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		p := make(orb.Ring, len(ring))
		for j, pt := range ring {
			x, y := inv.Apply(pt[0], pt[1])
			p[j] = orb.Point{x, y}
		}
		pix[i] = p
	}

	// window: polygon bbox grown to whole pixels, clamped to the raster
	b := pix.Bound()
	col0 := int(math.Floor(b.Min[0]))
	row0 := int(math.Floor(b.Min[1]))
	col1 := int(math.Ceil(b.Max[0]))
	row1 := int(math.Ceil(b.Max[1]))
	if col0 < 0 {
		col0 = 0
	}
	if row0 < 0 {
		row0 = 0
	}
	if col1 > r.Width {
		col1 = r.Width
	}
	if row1 > r.Height {
		row1 = r.Height
	}
	if col0 >= col1 || row0 >= row1 {
		return nil, ErrNoOverlap
	}

	if nodata == nil {
		nodata = r.NoData
	}

	out := geotiff.New(col1-col0, row1-row0, r.Bands, r.Type)
	out.CRS = r.CRS
	out.NoData = nodata
	out.Transform = r.Transform
	out.Transform.OriginX, out.Transform.OriginY = r.Transform.Apply(float64(col0), float64(row0))

	fill := 0.0
	if nodata != nil {
		fill = *nodata
	}
	out.Fill(fill)

	for row := row0; row < row1; row++ {
		for _, s := range rasterize.RowSpans(pix, row, r.Width) {
			x0, x1 := s.X0, s.X1
			if x0 < col0 {
				x0 = col0
			}
			if x1 > col1-1 {
				x1 = col1 - 1
			}
			if x0 > x1 {
				continue
			}
			geotiff.CopySamples(out, x0-col0, row-row0, r, x0, row, x1-x0+1)
		}
	}
	return out, nil
}
