package geotiff

import "math"

// overviewMinSize is the size at which the pyramid stops: once both sides of
// a level fit within it, no further levels are built.
const overviewMinSize = 256

// BuildOverviews returns reduced-resolution copies of r, each half the size
// of the previous, until the longest side fits within 256 pixels. The base
// raster itself is not included.
func BuildOverviews(r *Raster) []*Raster {
	var levels []*Raster
	prev := r
	for prev.Width > overviewMinSize || prev.Height > overviewMinSize {
		prev = decimate(prev)
		levels = append(levels, prev)
	}
	return levels
}

// decimate averages 2×2 pixel blocks. Nodata samples are left out of the
// average; blocks with no valid sample stay nodata.
func decimate(src *Raster) *Raster {
	w := (src.Width + 1) / 2
	h := (src.Height + 1) / 2

	dst := New(w, h, src.Bands, src.Type)
	dst.CRS = src.CRS
	dst.NoData = src.NoData
	dst.Transform = Transform{
		OriginX: src.Transform.OriginX,
		OriginY: src.Transform.OriginY,
		ScaleX:  src.Transform.ScaleX * 2,
		ScaleY:  src.Transform.ScaleY * 2,
		ShearX:  src.Transform.ShearX * 2,
		ShearY:  src.Transform.ShearY * 2,
	}

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			for band := 0; band < src.Bands; band++ {
				var sum float64
				n := 0
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						sr, sc := row*2+dy, col*2+dx
						if sr >= src.Height || sc >= src.Width {
							continue
						}
						v := src.Value(sc, sr, band)
						if src.NoData != nil && sampleIsNoData(v, *src.NoData) {
							continue
						}
						sum += v
						n++
					}
				}
				switch {
				case n > 0:
					dst.SetValue(col, row, band, sum/float64(n))
				case src.NoData != nil:
					dst.SetValue(col, row, band, *src.NoData)
				}
			}
		}
	}
	return dst
}

func sampleIsNoData(v, nodata float64) bool {
	return v == nodata || (math.IsNaN(v) && math.IsNaN(nodata))
}
