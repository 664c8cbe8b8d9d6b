package crop

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
	"github.com/harmonize-tools/mosaic-utils/internal/mask"
	"github.com/harmonize-tools/mosaic-utils/internal/reduce"
)

// writeMosaic puts a 40×40 test mosaic on disk: a 20×20 block of data
// centered in a nodata margin, tagged nodata 0, 1-unit UTM pixels.
func writeMosaic(t *testing.T, path string) *geotiff.Raster {
	t.Helper()
	r := geotiff.New(40, 40, 1, geotiff.Uint8)
	r.Transform = geotiff.Transform{OriginX: 500000, OriginY: 4650000, ScaleX: 1, ScaleY: -1}
	r.CRS = geotiff.ProjectedCRS(32633)
	nd := 0.0
	r.NoData = &nd
	for row := 10; row < 30; row++ {
		for col := 10; col < 30; col++ {
			r.SetValue(col, row, 0, float64((col+row)%200+30))
		}
	}
	if err := geotiff.Write(path, r, geotiff.WriteOptions{}); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return r
}

func TestCropFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "mosaic.tif")
	output := filepath.Join(dir, "mosaic_cropped.tif")
	src := writeMosaic(t, input)

	// footprint area 400 px², threshold 0.0025 → buffer distance 1 unit:
	// the data block shrinks by one pixel on every side
	o := options{threshold: 0.0025}
	if err := cropFile(input, output, o, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(output + ".partial"); !os.IsNotExist(err) {
		t.Error("temporary .partial file left behind")
	}

	out, err := geotiff.Read(output)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if out.Width != 18 || out.Height != 18 {
		t.Fatalf("output is %d×%d, want 18×18", out.Width, out.Height)
	}
	if out.Transform.OriginX != 500011 || out.Transform.OriginY != 4649989 {
		t.Errorf("origin = (%v, %v), want (500011, 4649989)",
			out.Transform.OriginX, out.Transform.OriginY)
	}
	if out.CRS.EPSG != 32633 {
		t.Errorf("CRS = %s", out.CRS)
	}
	if out.Type != geotiff.Uint8 || out.Bands != 1 {
		t.Errorf("output is %d-band %s", out.Bands, out.Type)
	}
	if out.NoData == nil || *out.NoData != 0 {
		t.Errorf("nodata = %v, want 0", out.NoData)
	}

	// every surviving pixel keeps its value; none of them is nodata
	for row := 0; row < out.Height; row++ {
		for col := 0; col < out.Width; col++ {
			want := src.Value(col+11, row+11, 0)
			if got := out.Value(col, row, 0); got != want {
				t.Fatalf("sample (%d,%d) = %v, want %v", col, row, got, want)
			}
		}
	}
}

func TestCropRefinePass(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "mosaic.tif")
	output := filepath.Join(dir, "out.tif")
	writeMosaic(t, input)

	o := options{threshold: 0.0025, refine: true}
	if err := cropFile(input, output, o, false); err != nil {
		t.Fatal(err)
	}
	out, err := geotiff.Read(output)
	if err != nil {
		t.Fatal(err)
	}
	// the refinement threshold is small enough to leave a clean rectangle
	// untouched
	if out.Width != 18 || out.Height != 18 {
		t.Errorf("refined output is %d×%d, want 18×18", out.Width, out.Height)
	}
}

func TestCropAllNoData(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "empty.tif")
	output := filepath.Join(dir, "out.tif")

	r := geotiff.New(16, 16, 1, geotiff.Uint8)
	r.Transform = geotiff.Transform{OriginX: 0, OriginY: 16, ScaleX: 1, ScaleY: -1}
	r.CRS = geotiff.ProjectedCRS(32633)
	nd := 0.0
	r.NoData = &nd
	if err := geotiff.Write(input, r, geotiff.WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	err := cropFile(input, output, options{threshold: 0.1}, false)
	if !errors.Is(err, mask.ErrEmptyRaster) {
		t.Fatalf("got %v, want ErrEmptyRaster", err)
	}
	var stage *StageError
	if !errors.As(err, &stage) || stage.Stage != "mask extraction" {
		t.Errorf("error not labeled with the mask extraction stage: %v", err)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Error("failed crop left an output file")
	}
}

func TestCropBufferConsumesEverything(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "mosaic.tif")
	output := filepath.Join(dir, "out.tif")
	writeMosaic(t, input)

	// d = 0.9 × 400 = 360 units, far beyond the 10-unit inscribed radius
	err := cropFile(input, output, options{threshold: 0.9}, false)
	if !errors.Is(err, reduce.ErrEmptyBuffer) {
		t.Fatalf("got %v, want ErrEmptyBuffer", err)
	}
	var stage *StageError
	if !errors.As(err, &stage) || stage.Stage != "buffer reduction" {
		t.Errorf("error not labeled with the buffer reduction stage: %v", err)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Error("failed crop left an output file")
	}
	if _, err := os.Stat(output + ".partial"); !os.IsNotExist(err) {
		t.Error("failed crop left a .partial file")
	}
}

func TestCropGeographicWithoutReproject(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "deg.tif")

	r := geotiff.New(12, 12, 1, geotiff.Uint8)
	r.Transform = geotiff.Transform{OriginX: 15, OriginY: 47, ScaleX: 1e-5, ScaleY: -1e-5}
	r.CRS = geotiff.GeographicCRS(4326)
	nd := 0.0
	r.NoData = &nd
	for row := 2; row < 10; row++ {
		for col := 2; col < 10; col++ {
			r.SetValue(col, row, 0, 50)
		}
	}
	if err := geotiff.Write(input, r, geotiff.WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	err := cropFile(input, filepath.Join(dir, "out.tif"), options{threshold: 0.1}, false)
	if !errors.Is(err, reduce.ErrUnprojectedCRS) {
		t.Fatalf("got %v, want ErrUnprojectedCRS", err)
	}
}

func TestCropMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := cropFile(filepath.Join(dir, "absent.tif"), filepath.Join(dir, "out.tif"), options{threshold: 0.1}, false)
	var stage *StageError
	if !errors.As(err, &stage) || stage.Stage != "reading input" {
		t.Fatalf("got %v, want a reading input stage error", err)
	}
}

func TestStageError(t *testing.T) {
	cause := errors.New("boom")
	err := stageErr("clipping", cause)
	if err.Error() != "clipping: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("StageError does not unwrap to its cause")
	}
}
