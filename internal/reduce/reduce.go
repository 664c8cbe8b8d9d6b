package reduce

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
	"github.com/harmonize-tools/mosaic-utils/internal/mask"
	"github.com/harmonize-tools/mosaic-utils/internal/rasterize"
	"github.com/harmonize-tools/mosaic-utils/internal/vectorize"
)

var (
	// ErrUnprojectedCRS means the raster's CRS uses angular units, in which
	// planar areas and buffer distances are meaningless.
	ErrUnprojectedCRS = errors.New("raster CRS is geographic (angular units); reproject it or enable auto-reprojection")

	// ErrEmptyBuffer means the inward buffer consumed the whole footprint:
	// the buffer distance exceeds the footprint's maximum inscribed circle
	// radius.
	ErrEmptyBuffer = errors.New("negative buffer collapsed the footprint to nothing")
)

// Formula selects how the buffer distance derives from the footprint area.
type Formula int

const (
	// FormulaArea multiplies the mapped area directly by the threshold
	// fraction: d = t·A. This mixes units (an area scaled into a linear
	// distance) but is kept as the default for compatibility with existing
	// workflows and their calibrated thresholds.
	FormulaArea Formula = iota
	// FormulaSqrt is the dimensionally consistent variant d = √(t·A),
	// which scales with the footprint's linear extent.
	FormulaSqrt
)

// ParseFormula maps the --buffer_formula flag values to a Formula.
func ParseFormula(s string) (Formula, error) {
	switch s {
	case "area":
		return FormulaArea, nil
	case "sqrt":
		return FormulaSqrt, nil
	}
	return 0, fmt.Errorf("unknown buffer formula %q (want area or sqrt)", s)
}

// Options configure the reduction.
type Options struct {
	Formula Formula

	// Reproject allows geographic (EPSG:4326) footprints: area, buffer and
	// hull are computed in spherical Mercator and the hull is mapped back.
	Reproject bool

	// Resolution is the erosion grid cell size in the units the buffer is
	// computed in, normally the raster's pixel size. Zero picks a size
	// from the footprint extent.
	Resolution float64
}

// Result is the outcome of a reduction.
type Result struct {
	// Hull is the final cutline: closed, counter-clockwise, convex in the
	// space the buffer was computed in.
	Hull orb.Ring
	// Area is the footprint area the buffer distance was derived from.
	Area float64
	// Distance is the inward buffer distance actually applied.
	Distance float64
	// Projected is true when the computation ran in spherical Mercator.
	Projected bool
}

// maxGridSide caps the erosion grid so degenerate resolutions cannot
// allocate unbounded memory.
const maxGridSide = 20000

// Reduce shrinks a footprint inward by the threshold-derived buffer distance
// and returns the convex hull of what remains. The hull's area never exceeds
// the footprint's, and a buffer distance beyond the footprint's maximum
// inscribed circle radius yields ErrEmptyBuffer.
func Reduce(footprint orb.Polygon, crs geotiff.CRS, threshold float64, opts Options) (Result, error) {
	var res Result

	if crs.IsGeographic() {
		if !opts.Reproject {
			return res, ErrUnprojectedCRS
		}
		if crs.EPSG != 4326 {
			return res, fmt.Errorf("auto-reprojection supports EPSG:4326 only, raster has EPSG:%d: %w", crs.EPSG, ErrUnprojectedCRS)
		}
		footprint = project.Polygon(footprint.Clone(), project.WGS84.ToMercator)
		res.Projected = true
	}

	res.Area = math.Abs(planar.Area(footprint))
	switch opts.Formula {
	case FormulaSqrt:
		res.Distance = math.Sqrt(threshold * res.Area)
	default:
		res.Distance = threshold * res.Area
	}

	var hullPoints []orb.Point
	if res.Distance > 0 {
		eroded, gridTr, err := erode(footprint, res.Distance, opts.Resolution)
		if err != nil {
			return res, err
		}
		parts, err := vectorize.Polygons(eroded, gridTr)
		if err != nil {
			return res, ErrEmptyBuffer
		}
		for _, part := range parts {
			hullPoints = append(hullPoints, part[0]...)
		}
	} else {
		hullPoints = footprint[0]
	}

	hull, err := convexHull(hullPoints)
	if err != nil {
		return res, err
	}
	if res.Projected {
		hull = project.Ring(hull, project.Mercator.ToWGS84)
	}
	res.Hull = hull
	return res, nil
}

// erode rasterizes the footprint onto its own grid, runs a Euclidean
// distance transform, and keeps the cells farther than d from the outside.
// The returned mask has a one-cell empty border so the transform sees the
// region's true edge.
func erode(footprint orb.Polygon, d, res float64) (*mask.Mask, geotiff.Transform, error) {
	b := footprint.Bound()
	spanX := b.Max[0] - b.Min[0]
	spanY := b.Max[1] - b.Min[1]

	if res <= 0 {
		res = math.Max(spanX, spanY) / 2048
	}
	if spanX/res > maxGridSide || spanY/res > maxGridSide {
		res = math.Max(spanX, spanY) / maxGridSide
	}

	cols := int(math.Ceil(spanX/res)) + 2
	rows := int(math.Ceil(spanY/res)) + 2
	tr := geotiff.Transform{
		OriginX: b.Min[0] - res,
		OriginY: b.Max[1] + res,
		ScaleX:  res,
		ScaleY:  -res,
	}

	inv, err := tr.Invert()
	if err != nil {
		return nil, tr, err
	}
	grid := make(orb.Polygon, len(footprint))
	for i, ring := range footprint {
		g := make(orb.Ring, len(ring))
		for j, pt := range ring {
			x, y := inv.Apply(pt[0], pt[1])
			g[j] = orb.Point{x, y}
		}
		grid[i] = g
	}

	valid := make([]bool, cols*rows)
	covered := 0
	for row := 0; row < rows; row++ {
		for _, s := range rasterize.RowSpans(grid, row, cols) {
			for col := s.X0; col <= s.X1; col++ {
				valid[row*cols+col] = true
				covered++
			}
		}
	}
	if covered == 0 {
		return nil, tr, ErrEmptyBuffer
	}

	dist2 := squaredDistances(valid, cols, rows)

	m := mask.New(cols, rows)
	limit := (d / res) * (d / res)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			i := row*cols + col
			if valid[i] && dist2[i] > limit {
				m.Set(col, row, true)
			}
		}
	}
	if m.Valid == 0 {
		return nil, tr, ErrEmptyBuffer
	}
	return m, tr, nil
}

const distInf = 1e18

// squaredDistances computes, for every cell, the squared distance in cell
// units to the nearest false cell (Felzenszwalb-Huttenlocher two-pass
// transform).
func squaredDistances(valid []bool, cols, rows int) []float64 {
	d := make([]float64, len(valid))
	for i, v := range valid {
		if v {
			d[i] = distInf
		}
	}

	side := cols
	if rows > side {
		side = rows
	}
	f := make([]float64, side)
	out := make([]float64, side)
	v := make([]int, side)
	z := make([]float64, side+1)

	for x := 0; x < cols; x++ {
		for y := 0; y < rows; y++ {
			f[y] = d[y*cols+x]
		}
		dt1d(f[:rows], out[:rows], v, z)
		for y := 0; y < rows; y++ {
			d[y*cols+x] = out[y]
		}
	}
	for y := 0; y < rows; y++ {
		copy(f[:cols], d[y*cols:(y+1)*cols])
		dt1d(f[:cols], out[:cols], v, z)
		copy(d[y*cols:(y+1)*cols], out[:cols])
	}
	return d
}

// dt1d is the one-dimensional squared distance transform over a sampled
// function, via the lower envelope of parabolas.
func dt1d(f, out []float64, v []int, z []float64) {
	n := len(f)
	k := 0
	v[0] = 0
	z[0] = -distInf
	z[1] = distInf

	for q := 1; q < n; q++ {
		var s float64
		for {
			p := v[k]
			s = ((f[q] + float64(q*q)) - (f[p] + float64(p*p))) / float64(2*q-2*p)
			if s > z[k] {
				break
			}
			k--
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = distInf
	}

	k = 0
	for q := 0; q < n; q++ {
		for z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		out[q] = dq*dq + f[v[k]]
	}
}

// convexHull computes the convex hull of pts as a closed counter-clockwise
// ring (monotone chain).
func convexHull(pts []orb.Point) (orb.Ring, error) {
	pts = append([]orb.Point(nil), pts...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] != pts[j][0] {
			return pts[i][0] < pts[j][0]
		}
		return pts[i][1] < pts[j][1]
	})

	dedup := pts[:0]
	for i, p := range pts {
		if i == 0 || p != pts[i-1] {
			dedup = append(dedup, p)
		}
	}
	pts = dedup
	if len(pts) < 3 {
		return nil, fmt.Errorf("need at least 3 distinct points for a hull, have %d", len(pts))
	}

	hull := make([]orb.Point, 0, 2*len(pts))
	for _, p := range pts { // lower chain
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- { // upper chain
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// first point repeats as the final one, closing the ring
	return orb.Ring(hull), nil
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}
