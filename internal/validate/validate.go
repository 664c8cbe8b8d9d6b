package validate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/harmonize-tools/mosaic-utils/internal/utils"
)

// MosaicPath validates a --mosaic_image argument: an existing GeoTIFF file,
// or a directory of them for batch runs.
func MosaicPath(p string) error {
	if p == "" {
		return fmt.Errorf("no mosaic image given")
	}
	if utils.IsFile(p) || utils.IsDirectory(p) {
		return nil
	}
	return fmt.Errorf("%s does not exist", p)
}

// OutputRaster validates a --raster_output argument: the file name must end
// in .tif or .TIF and its directory must already exist.
func OutputRaster(p string) error {
	if !strings.HasSuffix(p, ".tif") && !strings.HasSuffix(p, ".TIF") {
		return fmt.Errorf("output raster %s must end in .tif or .TIF", p)
	}
	if dir := filepath.Dir(p); !utils.IsDirectory(dir) {
		return fmt.Errorf("output directory %s does not exist or is no directory", dir)
	}
	return nil
}

// Threshold validates a --threshold_area argument, a fraction strictly
// between 0 and 1.
func Threshold(t float64) error {
	if t <= 0 || t >= 1 {
		return fmt.Errorf("threshold_area must lie strictly between 0 and 1, got %v", t)
	}
	return nil
}

// CutlinePath validates a --cutline argument: an existing GeoJSON file.
func CutlinePath(p string) error {
	if p == "" {
		return fmt.Errorf("no cutline given")
	}
	if !utils.IsFile(p) {
		return fmt.Errorf("%s does not exist or is no file", p)
	}
	ext := filepath.Ext(p)
	if !strings.EqualFold(ext, ".json") && !strings.EqualFold(ext, ".geojson") {
		return fmt.Errorf("cutline %s must be a .json or .geojson file", p)
	}
	return nil
}
