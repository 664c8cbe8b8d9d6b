package geotiff

import (
	"fmt"
	"math"
)

// Transform is the affine transform mapping pixel coordinates to CRS
// coordinates, using the usual geotransform convention: column/row (0, 0)
// is the outer corner of the top-left pixel.
//
//	X = OriginX + col*ScaleX + row*ShearX
//	Y = OriginY + col*ShearY + row*ScaleY
//
// ScaleY is negative for north-up rasters.
type Transform struct {
	OriginX, OriginY float64
	ScaleX, ScaleY   float64
	ShearX, ShearY   float64
}

// Apply maps pixel coordinates to CRS coordinates.
func (t Transform) Apply(col, row float64) (x, y float64) {
	x = t.OriginX + col*t.ScaleX + row*t.ShearX
	y = t.OriginY + col*t.ShearY + row*t.ScaleY
	return x, y
}

// Invert returns the transform mapping CRS coordinates back to pixel
// coordinates. It fails if the transform is singular.
func (t Transform) Invert() (Transform, error) {
	det := t.ScaleX*t.ScaleY - t.ShearX*t.ShearY
	if det == 0 {
		return Transform{}, fmt.Errorf("geotransform is singular, cannot invert")
	}

	inv := Transform{
		ScaleX: t.ScaleY / det,
		ShearX: -t.ShearX / det,
		ShearY: -t.ShearY / det,
		ScaleY: t.ScaleX / det,
	}
	inv.OriginX = -(inv.ScaleX*t.OriginX + inv.ShearX*t.OriginY)
	inv.OriginY = -(inv.ShearY*t.OriginX + inv.ScaleY*t.OriginY)
	return inv, nil
}

// PixelArea returns the CRS-units area covered by one pixel.
func (t Transform) PixelArea() float64 {
	return math.Abs(t.ScaleX*t.ScaleY - t.ShearX*t.ShearY)
}

// PixelSize returns the length of one pixel step along the column axis.
// For square, unrotated pixels this is simply |ScaleX|.
func (t Transform) PixelSize() float64 {
	return math.Hypot(t.ScaleX, t.ShearY)
}

// Rectilinear reports whether the transform has no rotation/shear terms,
// i.e. pixel edges are parallel to the CRS axes.
func (t Transform) Rectilinear() bool {
	return t.ShearX == 0 && t.ShearY == 0
}
