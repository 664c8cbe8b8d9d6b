package utils

import (
	"path/filepath"
	"strings"
)

// DerivedPath builds an output path next to the input file, replacing its
// extension: DerivedPath("maps/field.tif", "_cropped", ".tif") yields
// "maps/field_cropped.tif".
func DerivedPath(input, suffix, ext string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(input), stem+suffix+ext)
}
