package vectorize

import (
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
	"github.com/harmonize-tools/mosaic-utils/internal/mask"
)

// ErrDegenerateGeometry means the mask vectorized to invalid or zero-area
// geometry.
var ErrDegenerateGeometry = errors.New("footprint geometry is degenerate or empty")

// Polygons traces the valid region of a mask into polygons, one per
// 4-connected component, in row-major discovery order. Ring vertices run
// along pixel edges, so each polygon's area equals its pixel count times the
// pixel area exactly. Holes become interior rings of the polygon that
// encloses them. Vertices are mapped to CRS coordinates through tr;
// exteriors wind counter-clockwise, holes clockwise.
func Polygons(m *mask.Mask, tr geotiff.Transform) (orb.MultiPolygon, error) {
	parts := traceParts(m)
	if len(parts) == 0 {
		return nil, ErrDegenerateGeometry
	}

	out := make(orb.MultiPolygon, len(parts))
	for i, p := range parts {
		out[i] = p.toCRS(tr)
	}
	return out, nil
}

// Footprint returns the canonical footprint of a mask: the part with the
// largest area (holes subtracted). Area ties keep the part discovered first
// in row-major order.
func Footprint(m *mask.Mask, tr geotiff.Transform) (orb.Polygon, error) {
	parts := traceParts(m)
	if len(parts) == 0 {
		return nil, ErrDegenerateGeometry
	}

	best := 0
	for i := 1; i < len(parts); i++ {
		if parts[i].area2() > parts[best].area2() {
			best = i
		}
	}

	poly := parts[best].toCRS(tr)
	if planar.Area(poly) == 0 {
		return nil, ErrDegenerateGeometry
	}
	return poly, nil
}

type point struct{ x, y int32 }

type edge struct {
	from, to point
	used     bool
}

func (e edge) dir() point {
	return point{e.to.x - e.from.x, e.to.y - e.from.y}
}

// pixelRing is a closed ring in pixel-corner coordinates. area2 is twice the
// signed shoelace area: positive for exteriors, negative for holes.
type pixelRing struct {
	pts   []point
	area2 int64
}

// part is one connected component: an exterior ring and its holes.
type part struct {
	exterior pixelRing
	holes    []pixelRing
}

// area2 is twice the part's area with holes subtracted.
func (p part) area2() int64 {
	a := p.exterior.area2
	for _, h := range p.holes {
		a += h.area2 // hole areas are negative
	}
	return a
}

func (p part) toCRS(tr geotiff.Transform) orb.Polygon {
	poly := make(orb.Polygon, 0, 1+len(p.holes))
	poly = append(poly, ringToCRS(p.exterior, tr))
	for _, h := range p.holes {
		poly = append(poly, ringToCRS(h, tr))
	}

	// GeoJSON winding: exterior counter-clockwise, holes clockwise. The
	// affine transform may flip orientation (ScaleY is negative for
	// north-up rasters), so fix it up after mapping.
	if poly[0].Orientation() == orb.CW {
		poly[0].Reverse()
	}
	for i := 1; i < len(poly); i++ {
		if poly[i].Orientation() == orb.CCW {
			poly[i].Reverse()
		}
	}
	return poly
}

func ringToCRS(r pixelRing, tr geotiff.Transform) orb.Ring {
	ring := make(orb.Ring, 0, len(r.pts)+1)
	for _, p := range r.pts {
		x, y := tr.Apply(float64(p.x), float64(p.y))
		ring = append(ring, orb.Point{x, y})
	}
	ring = append(ring, ring[0]) // close
	return ring
}

// traceParts extracts boundary rings from the mask and groups them into
// parts.
//
// Every valid pixel contributes one directed unit edge per invalid
// 4-neighbor, oriented so the valid region lies to the edge's algebraic
// left. Stitching edges end to end then yields exterior rings with positive
// shoelace area and hole rings with negative area. Where two valid pixels
// touch only diagonally, the shared corner has two outgoing edges; taking
// the sharpest left turn keeps the two pixels in separate rings, which makes
// the result exactly 4-connected.
func traceParts(m *mask.Mask) []part {
	if m == nil || m.Valid == 0 {
		return nil
	}

	var edges []edge
	outgoing := make(map[point][]int32)
	emit := func(from, to point) {
		outgoing[from] = append(outgoing[from], int32(len(edges)))
		edges = append(edges, edge{from: from, to: to})
	}

	for row := 0; row < m.Height; row++ {
		for col := 0; col < m.Width; col++ {
			if !m.At(col, row) {
				continue
			}
			x, y := int32(col), int32(row)
			if !m.At(col, row-1) {
				emit(point{x, y}, point{x + 1, y})
			}
			if !m.At(col+1, row) {
				emit(point{x + 1, y}, point{x + 1, y + 1})
			}
			if !m.At(col, row+1) {
				emit(point{x + 1, y + 1}, point{x, y + 1})
			}
			if !m.At(col-1, row) {
				emit(point{x, y + 1}, point{x, y})
			}
		}
	}

	var exteriors []part
	var holes []pixelRing
	for i := range edges {
		if edges[i].used {
			continue
		}
		ring := walkRing(edges, outgoing, int32(i))
		if ring.area2 > 0 {
			exteriors = append(exteriors, part{exterior: ring})
		} else if ring.area2 < 0 {
			holes = append(holes, ring)
		}
	}

	assignHoles(exteriors, holes)
	return exteriors
}

// walkRing follows edges from start until the ring closes, collapsing
// collinear vertices as it goes.
func walkRing(edges []edge, outgoing map[point][]int32, start int32) pixelRing {
	first := edges[start].from
	var pts []point

	push := func(p point) {
		n := len(pts)
		if n >= 2 && sameDir(pts[n-2], pts[n-1], p) {
			pts[n-1] = p
			return
		}
		pts = append(pts, p)
	}

	cur := start
	for {
		e := &edges[cur]
		e.used = true
		push(e.from)
		if e.to == first {
			break
		}
		cur = nextEdge(edges, outgoing, cur)
	}

	// the start vertex may sit in the middle of a straight run; drop it
	for len(pts) > 3 && sameDir(pts[len(pts)-1], pts[0], pts[1]) {
		pts = pts[1:]
	}

	return pixelRing{pts: pts, area2: shoelace2(pts)}
}

func sameDir(a, b, c point) bool {
	return (b.x-a.x)*(c.y-b.y) == (b.y-a.y)*(c.x-b.x)
}

// nextEdge picks the edge continuing the ring at the end of cur. At corners
// where two valid pixels meet diagonally there are two candidates; the one
// with the larger cross product against the incoming direction (the sharper
// left turn) stays on the same pixel's boundary.
func nextEdge(edges []edge, outgoing map[point][]int32, cur int32) int32 {
	e := edges[cur]
	din := e.dir()

	best := int32(-1)
	bestCross := int32(-2)
	for _, cand := range outgoing[e.to] {
		if edges[cand].used {
			continue
		}
		dout := edges[cand].dir()
		cross := din.x*dout.y - din.y*dout.x
		if cross > bestCross {
			best, bestCross = cand, cross
		}
	}
	return best
}

func shoelace2(pts []point) int64 {
	var sum int64
	for i, p := range pts {
		q := pts[(i+1)%len(pts)]
		sum += int64(p.x)*int64(q.y) - int64(q.x)*int64(p.y)
	}
	return sum
}

// assignHoles attaches each hole ring to the smallest exterior ring that
// contains it; with nesting, that is the hole's immediate parent.
func assignHoles(exteriors []part, holes []pixelRing) {
	if len(holes) == 0 {
		return
	}

	rings := make([]orb.Ring, len(exteriors))
	for i, ext := range exteriors {
		r := make(orb.Ring, 0, len(ext.exterior.pts)+1)
		for _, p := range ext.exterior.pts {
			r = append(r, orb.Point{float64(p.x), float64(p.y)})
		}
		r = append(r, r[0])
		rings[i] = r
	}

	for _, h := range holes {
		sample, ok := holeSample(h)
		if !ok {
			continue
		}
		owner := -1
		for i := range exteriors {
			if !planar.RingContains(rings[i], sample) {
				continue
			}
			if owner == -1 || exteriors[i].exterior.area2 < exteriors[owner].exterior.area2 {
				owner = i
			}
		}
		if owner >= 0 {
			exteriors[owner].holes = append(exteriors[owner].holes, h)
		}
	}
}

// holeSample returns a point strictly inside the invalid region a hole ring
// encloses: the center of the invalid pixel just below any leftward edge
// along the hole's top boundary.
func holeSample(h pixelRing) (orb.Point, bool) {
	for i, p := range h.pts {
		q := h.pts[(i+1)%len(h.pts)]
		if q.y == p.y && q.x < p.x {
			return orb.Point{float64(q.x) + 0.5, float64(p.y) + 0.5}, true
		}
	}
	return orb.Point{}, false
}
