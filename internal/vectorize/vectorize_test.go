package vectorize_test

import (
	"errors"
	"sort"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
	"github.com/harmonize-tools/mosaic-utils/internal/mask"
	"github.com/harmonize-tools/mosaic-utils/internal/vectorize"
)

// identity maps pixel corners straight to CRS coordinates, so expected
// rings can be written in pixel coordinates.
var identity = geotiff.Transform{ScaleX: 1, ScaleY: 1}

func maskFromArt(rows ...string) *mask.Mask {
	m := mask.New(utf8.RuneCountInString(rows[0]), len(rows))
	for row, line := range rows {
		col := 0
		for _, ch := range line {
			if ch == '◼' {
				m.Set(col, row, true)
			}
			col++
		}
	}
	return m
}

// canon rotates a closed ring so the lexicographically smallest vertex comes
// first, keeping orientation, so comparisons don't depend on where tracing
// happened to start.
func canon(r orb.Ring) orb.Ring {
	open := r[:len(r)-1]
	best := 0
	for i, p := range open {
		if p[0] < open[best][0] || (p[0] == open[best][0] && p[1] < open[best][1]) {
			best = i
		}
	}
	out := make(orb.Ring, 0, len(r))
	for i := 0; i < len(open); i++ {
		out = append(out, open[(best+i)%len(open)])
	}
	return append(out, out[0])
}

func canonPoly(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		out[i] = canon(r)
	}
	sort.Slice(out[1:], func(i, j int) bool {
		a, b := out[1+i][0], out[1+j][0]
		return a[0] < b[0] || (a[0] == b[0] && a[1] < b[1])
	})
	return out
}

func canonMulti(mp orb.MultiPolygon) orb.MultiPolygon {
	out := make(orb.MultiPolygon, len(mp))
	for i, p := range mp {
		out[i] = canonPoly(p)
	}
	return out
}

func TestSingleCell(t *testing.T) {
	m := maskFromArt("◼")

	got, err := vectorize.Polygons(m, identity)
	if err != nil {
		t.Fatal(err)
	}
	want := orb.MultiPolygon{
		{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
	}
	if diff := cmp.Diff(want, canonMulti(got)); diff != "" {
		t.Errorf("unexpected geometry: %s", diff)
	}
}

func TestRectangle(t *testing.T) {
	m := maskFromArt(
		"◻◻◻◻◻",
		"◻◼◼◼◻",
		"◻◼◼◼◻",
		"◻◻◻◻◻",
	)

	got, err := vectorize.Polygons(m, identity)
	if err != nil {
		t.Fatal(err)
	}
	want := orb.MultiPolygon{
		{{{1, 1}, {4, 1}, {4, 3}, {1, 3}, {1, 1}}},
	}
	if diff := cmp.Diff(want, canonMulti(got)); diff != "" {
		t.Errorf("unexpected geometry: %s", diff)
	}
}

func TestLShape(t *testing.T) {
	m := maskFromArt(
		"◼◻",
		"◼◼",
	)

	got, err := vectorize.Polygons(m, identity)
	if err != nil {
		t.Fatal(err)
	}
	want := orb.MultiPolygon{
		{{{0, 0}, {1, 0}, {1, 1}, {2, 1}, {2, 2}, {0, 2}, {0, 0}}},
	}
	if diff := cmp.Diff(want, canonMulti(got)); diff != "" {
		t.Errorf("unexpected geometry: %s", diff)
	}
}

func TestDonutHole(t *testing.T) {
	m := maskFromArt(
		"◼◼◼",
		"◼◻◼",
		"◼◼◼",
	)

	got, err := vectorize.Polygons(m, identity)
	if err != nil {
		t.Fatal(err)
	}
	want := orb.MultiPolygon{
		{
			{{0, 0}, {3, 0}, {3, 3}, {0, 3}, {0, 0}},
			{{1, 1}, {1, 2}, {2, 2}, {2, 1}, {1, 1}}, // hole, clockwise
		},
	}
	if diff := cmp.Diff(want, canonMulti(got)); diff != "" {
		t.Errorf("unexpected geometry: %s", diff)
	}
	if got := planar.Area(got[0]); got != 8 {
		t.Errorf("area with hole = %v, want 8", got)
	}
}

func TestDiagonalPixelsStaySeparate(t *testing.T) {
	// diagonal contact is not 4-connectivity: two parts, not one
	m := maskFromArt(
		"◼◻",
		"◻◼",
	)

	got, err := vectorize.Polygons(m, identity)
	if err != nil {
		t.Fatal(err)
	}
	want := orb.MultiPolygon{
		{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
		{{{1, 1}, {2, 1}, {2, 2}, {1, 2}, {1, 1}}},
	}
	if diff := cmp.Diff(want, canonMulti(got)); diff != "" {
		t.Errorf("unexpected geometry: %s", diff)
	}
}

func TestNestedHoleAssignment(t *testing.T) {
	// an island inside a hole inside a ring: the hole belongs to the outer
	// ring, and the island is its own part
	m := maskFromArt(
		"◼◼◼◼◼",
		"◼◻◻◻◼",
		"◼◻◼◻◼",
		"◼◻◻◻◼",
		"◼◼◼◼◼",
	)

	got, err := vectorize.Polygons(m, identity)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d parts, want 2", len(got))
	}

	var outer, island orb.Polygon
	for _, p := range got {
		if len(p) == 2 {
			outer = p
		} else {
			island = p
		}
	}
	if outer == nil || island == nil {
		t.Fatalf("want one ringed part and one plain part, got %v", got)
	}
	if got := planar.Area(outer); got != 25-9 {
		t.Errorf("outer area = %v, want 16", got)
	}
	if got := planar.Area(island); got != 1 {
		t.Errorf("island area = %v, want 1", got)
	}
}

func TestFootprintPicksLargestPart(t *testing.T) {
	m := maskFromArt(
		"◼◼◻◻◻",
		"◼◼◻◼◻",
		"◻◻◻◼◻",
	)

	got, err := vectorize.Footprint(m, identity)
	if err != nil {
		t.Fatal(err)
	}
	want := orb.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}}
	if diff := cmp.Diff(want, canonPoly(got)); diff != "" {
		t.Errorf("unexpected footprint: %s", diff)
	}
}

func TestFootprintTieKeepsFirst(t *testing.T) {
	m := maskFromArt("◼◻◼")

	got, err := vectorize.Footprint(m, identity)
	if err != nil {
		t.Fatal(err)
	}
	want := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	if diff := cmp.Diff(want, canonPoly(got)); diff != "" {
		t.Errorf("unexpected footprint: %s", diff)
	}
}

func TestEmptyMask(t *testing.T) {
	if _, err := vectorize.Polygons(mask.New(3, 3), identity); !errors.Is(err, vectorize.ErrDegenerateGeometry) {
		t.Fatalf("got %v, want ErrDegenerateGeometry", err)
	}
}

func TestAreaMatchesPixelCount(t *testing.T) {
	m := maskFromArt(
		"◼◼◻◼◻◻◼◼",
		"◼◼◼◼◻◼◼◼",
		"◻◼◻◼◼◼◻◻",
		"◼◼◼◻◻◼◼◼",
	)

	got, err := vectorize.Polygons(m, identity)
	if err != nil {
		t.Fatal(err)
	}
	if area := planar.Area(got); area != float64(m.Valid) {
		t.Errorf("total area = %v, want %d valid pixels", area, m.Valid)
	}
}

func TestNorthUpOrientation(t *testing.T) {
	m := maskFromArt("◼")
	northUp := geotiff.Transform{OriginX: 100, OriginY: 50, ScaleX: 0.5, ScaleY: -0.5}

	got, err := vectorize.Polygons(m, northUp)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d parts, want 1", len(got))
	}
	if o := got[0][0].Orientation(); o != orb.CCW {
		t.Errorf("exterior winds %v, want counter-clockwise", o)
	}
	want := orb.Polygon{{{100, 49.5}, {100.5, 49.5}, {100.5, 50}, {100, 50}, {100, 49.5}}}
	if diff := cmp.Diff(want, canonPoly(got[0])); diff != "" {
		t.Errorf("unexpected geometry: %s", diff)
	}
}
