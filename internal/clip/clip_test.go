package clip_test

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"

	"github.com/harmonize-tools/mosaic-utils/internal/clip"
	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
)

// gradientRaster builds a 10×10 uint8 raster anchored at (1000, 2000) with
// 1-unit pixels, where each sample encodes its own position.
func gradientRaster() *geotiff.Raster {
	r := geotiff.New(10, 10, 1, geotiff.Uint8)
	r.Transform = geotiff.Transform{OriginX: 1000, OriginY: 2000, ScaleX: 1, ScaleY: -1}
	r.CRS = geotiff.ProjectedCRS(32633)
	for row := 0; row < 10; row++ {
		for col := 0; col < 10; col++ {
			r.SetValue(col, row, 0, float64(10*row+col+1))
		}
	}
	return r
}

func TestClipWindow(t *testing.T) {
	r := gradientRaster()
	nd := 0.0
	// CRS square covering pixel columns 2..5, rows 3..6
	poly := orb.Polygon{{{1002, 1997}, {1006, 1997}, {1006, 1993}, {1002, 1993}, {1002, 1997}}}

	out, err := clip.Clip(r, poly, &nd)
	if err != nil {
		t.Fatal(err)
	}

	if out.Width != 4 || out.Height != 4 {
		t.Fatalf("window is %d×%d, want 4×4", out.Width, out.Height)
	}
	if out.Transform.OriginX != 1002 || out.Transform.OriginY != 1997 {
		t.Errorf("origin = (%v, %v), want (1002, 1997)",
			out.Transform.OriginX, out.Transform.OriginY)
	}
	if out.Transform.ScaleX != 1 || out.Transform.ScaleY != -1 {
		t.Errorf("pixel size changed: %+v", out.Transform)
	}
	if out.CRS.EPSG != 32633 {
		t.Errorf("CRS = %s", out.CRS)
	}
	if out.NoData == nil || *out.NoData != 0 {
		t.Errorf("nodata = %v, want 0", out.NoData)
	}

	// every output sample must equal the input sample at the same spot
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			want := r.Value(col+2, row+3, 0)
			if got := out.Value(col, row, 0); got != want {
				t.Errorf("sample (%d,%d) = %v, want %v", col, row, got, want)
			}
		}
	}
}

func TestClipFillsOutsidePolygon(t *testing.T) {
	r := gradientRaster()
	nd := 0.0
	// triangle over the top-left of the raster
	poly := orb.Polygon{{{1000, 2000}, {1006, 2000}, {1000, 1994}, {1000, 2000}}}

	out, err := clip.Clip(r, poly, &nd)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 6 || out.Height != 6 {
		t.Fatalf("window is %d×%d, want 6×6", out.Width, out.Height)
	}

	// the corner inside the triangle keeps data, the far corner is nodata
	if got := out.Value(0, 0, 0); got != r.Value(0, 0, 0) {
		t.Errorf("inside sample = %v, want %v", got, r.Value(0, 0, 0))
	}
	if got := out.Value(5, 5, 0); got != 0 {
		t.Errorf("outside sample = %v, want nodata 0", got)
	}
}

func TestClipClampsToExtent(t *testing.T) {
	r := gradientRaster()
	nd := 0.0
	// polygon hanging off the top-left corner of the raster
	poly := orb.Polygon{{{995, 2005}, {1003, 2005}, {1003, 1997}, {995, 1997}, {995, 2005}}}

	out, err := clip.Clip(r, poly, &nd)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 3 || out.Height != 3 {
		t.Fatalf("window is %d×%d, want 3×3", out.Width, out.Height)
	}
	if out.Transform.OriginX != 1000 || out.Transform.OriginY != 2000 {
		t.Errorf("origin = (%v, %v), want the raster corner (1000, 2000)",
			out.Transform.OriginX, out.Transform.OriginY)
	}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			if got := out.Value(col, row, 0); got != r.Value(col, row, 0) {
				t.Errorf("sample (%d,%d) = %v", col, row, got)
			}
		}
	}
}

func TestClipNoOverlap(t *testing.T) {
	r := gradientRaster()
	poly := orb.Polygon{{{900, 2000}, {905, 2000}, {905, 1995}, {900, 1995}, {900, 2000}}}

	if _, err := clip.Clip(r, poly, nil); !errors.Is(err, clip.ErrNoOverlap) {
		t.Fatalf("got %v, want ErrNoOverlap", err)
	}
}

func TestClipNoDataFallbacks(t *testing.T) {
	r := gradientRaster()
	tag := 200.0
	r.NoData = &tag
	poly := orb.Polygon{{{1000, 2000}, {1002, 2000}, {1000, 1998}, {1000, 2000}}}

	// nil override: the raster's own sentinel fills the gaps
	out, err := clip.Clip(r, poly, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.NoData == nil || *out.NoData != 200 {
		t.Errorf("nodata = %v, want the raster tag 200", out.NoData)
	}
	if got := out.Value(1, 1, 0); got != 200 {
		t.Errorf("outside sample = %v, want 200", got)
	}

	// neither override nor tag: zero fill, nodata stays unset
	r.NoData = nil
	out, err = clip.Clip(r, poly, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.NoData != nil {
		t.Errorf("nodata = %v, want unset", out.NoData)
	}
	if got := out.Value(1, 1, 0); got != 0 {
		t.Errorf("outside sample = %v, want 0", got)
	}
}

func TestClipMultiband(t *testing.T) {
	r := geotiff.New(6, 6, 3, geotiff.Float32)
	r.Transform = geotiff.Transform{OriginX: 0, OriginY: 6, ScaleX: 1, ScaleY: -1}
	for row := 0; row < 6; row++ {
		for col := 0; col < 6; col++ {
			for band := 0; band < 3; band++ {
				r.SetValue(col, row, band, float64(100*band+10*row+col))
			}
		}
	}
	nd := -1.0
	poly := orb.Polygon{{{1, 5}, {5, 5}, {5, 1}, {1, 1}, {1, 5}}}

	out, err := clip.Clip(r, poly, &nd)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 4 || out.Height != 4 || out.Bands != 3 {
		t.Fatalf("got %d×%d×%d, want 4×4×3", out.Width, out.Height, out.Bands)
	}
	if out.Type != geotiff.Float32 {
		t.Fatalf("type = %s, want float32", out.Type)
	}
	for band := 0; band < 3; band++ {
		if got, want := out.Value(0, 0, band), r.Value(1, 1, band); got != want {
			t.Errorf("band %d sample = %v, want %v", band, got, want)
		}
	}
}

func TestClipRotatedGrid(t *testing.T) {
	r := geotiff.New(8, 8, 1, geotiff.Uint8)
	r.Transform = geotiff.Transform{OriginX: 0, OriginY: 0, ScaleX: 1, ScaleY: 1, ShearX: 0.5}
	r.Fill(9)
	nd := 0.0

	// pixel rows shift right by half a unit each; clip the pixel-space
	// square cols 1..3, rows 1..3 via its CRS corners
	corner := func(c, f float64) orb.Point {
		x, y := r.Transform.Apply(c, f)
		return orb.Point{x, y}
	}
	poly := orb.Polygon{{corner(1, 1), corner(3, 1), corner(3, 3), corner(1, 3), corner(1, 1)}}

	out, err := clip.Clip(r, poly, &nd)
	if err != nil {
		t.Fatal(err)
	}
	if out.Width != 2 || out.Height != 2 {
		t.Fatalf("window is %d×%d, want 2×2", out.Width, out.Height)
	}
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			if got := out.Value(col, row, 0); got != 9 {
				t.Errorf("sample (%d,%d) = %v, want 9", col, row, got)
			}
		}
	}
}
