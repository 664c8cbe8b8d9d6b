// Package rasterize maps polygons onto pixel grids. A pixel belongs to a
// polygon when its center lies inside under the even-odd rule, boundary
// inclusive.
package rasterize

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Span is an inclusive run of columns [X0, X1] within one row.
type Span struct {
	X0, X1 int
}

// RowSpans returns the column spans of poly covering pixel centers of the
// given row, clamped to [0, width). The polygon must be in pixel
// coordinates; rings may be open or closed.
func RowSpans(poly orb.Polygon, row, width int) []Span {
	y := float64(row) + 0.5

	var xs []float64
	for _, ring := range poly {
		n := len(ring)
		if n < 3 {
			continue
		}
		for i := 0; i < n; i++ {
			a := ring[i]
			b := ring[(i+1)%n]
			if i == n-1 && a == ring[0] {
				break // closed ring, wrap segment would be empty
			}
			// half-open in y so shared vertices count once
			if (a[1] <= y && y < b[1]) || (b[1] <= y && y < a[1]) {
				xs = append(xs, a[0]+(y-a[1])*(b[0]-a[0])/(b[1]-a[1]))
			}
		}
	}
	if len(xs) < 2 {
		return nil
	}
	sort.Float64s(xs)

	var spans []Span
	for i := 0; i+1 < len(xs); i += 2 {
		// centers at col+0.5 within [xs[i], xs[i+1]]
		x0 := int(math.Ceil(xs[i] - 0.5))
		x1 := int(math.Floor(xs[i+1] - 0.5))
		if x0 < 0 {
			x0 = 0
		}
		if x1 > width-1 {
			x1 = width - 1
		}
		if x0 <= x1 {
			spans = append(spans, Span{X0: x0, X1: x1})
		}
	}
	return spans
}
