package rasterize_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"

	"github.com/harmonize-tools/mosaic-utils/internal/rasterize"
)

func TestSquareSpans(t *testing.T) {
	square := orb.Polygon{{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}}}

	for row := 0; row < 4; row++ {
		got := rasterize.RowSpans(square, row, 10)
		want := []rasterize.Span{{X0: 0, X1: 3}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("row %d: %s", row, diff)
		}
	}

	if got := rasterize.RowSpans(square, 4, 10); got != nil {
		t.Errorf("row below the square yields %v, want none", got)
	}
}

func TestOpenRingEqualsClosed(t *testing.T) {
	closed := orb.Polygon{{{1, 0}, {5, 0}, {5, 3}, {1, 3}, {1, 0}}}
	open := orb.Polygon{{{1, 0}, {5, 0}, {5, 3}, {1, 3}}}

	for row := 0; row < 3; row++ {
		a := rasterize.RowSpans(closed, row, 8)
		b := rasterize.RowSpans(open, row, 8)
		if diff := cmp.Diff(a, b); diff != "" {
			t.Errorf("row %d: open and closed rings disagree: %s", row, diff)
		}
	}
}

func TestTriangleBoundaryInclusive(t *testing.T) {
	tri := orb.Polygon{{{0, 0}, {4, 0}, {0, 4}, {0, 0}}}

	// at y=2.5 the hypotenuse crosses x=1.5, exactly on the center of
	// column 1, which must still be covered
	got := rasterize.RowSpans(tri, 2, 10)
	want := []rasterize.Span{{X0: 0, X1: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}
}

func TestHoleSplitsSpan(t *testing.T) {
	donut := orb.Polygon{
		{{0, 0}, {6, 0}, {6, 5}, {0, 5}, {0, 0}},
		{{2, 1}, {2, 4}, {4, 4}, {4, 1}, {2, 1}},
	}

	got := rasterize.RowSpans(donut, 2, 10)
	want := []rasterize.Span{{X0: 0, X1: 1}, {X0: 4, X1: 5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}

	// rows above the hole see one unbroken span
	got = rasterize.RowSpans(donut, 0, 10)
	want = []rasterize.Span{{X0: 0, X1: 5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}
}

func TestSpansClampToWidth(t *testing.T) {
	wide := orb.Polygon{{{-3, 0}, {12, 0}, {12, 2}, {-3, 2}, {-3, 0}}}

	got := rasterize.RowSpans(wide, 1, 8)
	want := []rasterize.Span{{X0: 0, X1: 7}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Error(diff)
	}
}

func TestDegenerateRingsIgnored(t *testing.T) {
	if got := rasterize.RowSpans(orb.Polygon{{{1, 1}, {2, 2}}}, 1, 8); got != nil {
		t.Errorf("two-point ring yields %v, want none", got)
	}
	if got := rasterize.RowSpans(orb.Polygon{}, 0, 8); got != nil {
		t.Errorf("empty polygon yields %v, want none", got)
	}
}
