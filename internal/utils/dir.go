package utils

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IsFile tests whether given path exists and is a file
func IsFile(filePath string) bool {
	info, err := os.Stat(filePath)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// IsDirectory tests whether given path exists and is a directory
func IsDirectory(dirPath string) bool {
	info, err := os.Stat(dirPath)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// ListRasters returns the GeoTIFF files directly inside dir, sorted by name.
func ListRasters(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var rasters []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if strings.EqualFold(ext, ".tif") || strings.EqualFold(ext, ".tiff") {
			rasters = append(rasters, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(rasters)
	return rasters, nil
}
