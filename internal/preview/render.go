package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
)

var outlineColor = color.NRGBA{R: 230, G: 57, B: 70, A: 255}

// render converts a raster into an 8-bit preview image. Rasters with three
// or more bands map their first three onto RGB, anything narrower comes out
// grey. Each band is stretched linearly to the full 8-bit range; nodata
// pixels stay transparent.
func render(r *geotiff.Raster) *image.NRGBA {
	bands := []int{0, 1, 2}
	if r.Bands < 3 {
		bands = []int{0, 0, 0}
	}

	lo, hi := stretchRange(r, bands)

	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			if isNoData(r, col, row) {
				continue
			}
			var rgb [3]uint8
			for i, b := range bands {
				rgb[i] = stretch(r.Value(col, row, b), lo[b], hi[b])
			}
			img.SetNRGBA(col, row, color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255})
		}
	}
	return img
}

// stretchRange finds the per-band value range of the valid pixels. 8-bit
// rasters skip the scan and use their native range.
func stretchRange(r *geotiff.Raster, bands []int) (lo, hi []float64) {
	lo = make([]float64, r.Bands)
	hi = make([]float64, r.Bands)
	if r.Type == geotiff.Uint8 {
		for i := range hi {
			hi[i] = 255
		}
		return lo, hi
	}

	for i := range lo {
		lo[i] = math.Inf(1)
		hi[i] = math.Inf(-1)
	}
	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			if isNoData(r, col, row) {
				continue
			}
			for _, b := range bands {
				v := r.Value(col, row, b)
				if v < lo[b] {
					lo[b] = v
				}
				if v > hi[b] {
					hi[b] = v
				}
			}
		}
	}
	return lo, hi
}

func stretch(v, lo, hi float64) uint8 {
	if hi <= lo || math.IsNaN(v) {
		return 0
	}
	s := math.Round((v - lo) / (hi - lo) * 255)
	if s < 0 {
		s = 0
	}
	if s > 255 {
		s = 255
	}
	return uint8(s)
}

// isNoData reports whether the pixel carries no imagery in any of the
// rendered bands. NaN always counts as nodata in float rasters.
func isNoData(r *geotiff.Raster, col, row int) bool {
	n := r.Bands
	if n > 3 {
		n = 3
	}
	for b := 0; b < n; b++ {
		v := r.Value(col, row, b)
		if math.IsNaN(v) {
			continue
		}
		if r.NoData == nil || v != *r.NoData {
			return false
		}
	}
	return true
}

// drawFootprint outlines every polygon of a GeoJSON file on the preview.
// Coordinates pass through the raster's geotransform into pixel space and
// are then scaled down to the preview resolution.
func drawFootprint(img *image.NRGBA, path string, tr geotiff.Transform, scale float64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	inv, err := tr.Invert()
	if err != nil {
		return err
	}

	for _, f := range fc.Features {
		for _, ring := range rings(f.Geometry) {
			drawRing(img, ring, inv, scale)
		}
	}
	return nil
}

func rings(g orb.Geometry) []orb.Ring {
	switch g := g.(type) {
	case orb.Polygon:
		return g
	case orb.MultiPolygon:
		var rs []orb.Ring
		for _, p := range g {
			rs = append(rs, p...)
		}
		return rs
	case orb.Ring:
		return []orb.Ring{g}
	case orb.LineString:
		return []orb.Ring{orb.Ring(g)}
	}
	return nil
}

func drawRing(img *image.NRGBA, ring orb.Ring, inv geotiff.Transform, scale float64) {
	for i := 0; i+1 < len(ring); i++ {
		c0, r0 := inv.Apply(ring[i][0], ring[i][1])
		c1, r1 := inv.Apply(ring[i+1][0], ring[i+1][1])
		drawLine(img,
			int(math.Round(c0*scale)), int(math.Round(r0*scale)),
			int(math.Round(c1*scale)), int(math.Round(r1*scale)))
	}
}

// drawLine draws a one-pixel Bresenham line. SetNRGBA drops pixels outside
// the image, so segments leaving the preview need no clipping here.
func drawLine(img *image.NRGBA, x0, y0, x1, y1 int) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetNRGBA(x0, y0, outlineColor)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	n := image.NewNRGBA(b)
	draw.Draw(n, b, img, b.Min, draw.Src)
	return n
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
