package geotiff

import (
	"fmt"
	"strings"
)

// GeoKey IDs (GeoTIFF 1.1).
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyCitation       = 1026
	keyGeographicType = 2048
	keyGeogCitation   = 2049
	keyProjectedCS    = 3072
	keyPCSCitation    = 3073
)

// Model types for keyModelType.
const (
	ModelProjected  = 1
	ModelGeographic = 2
	ModelGeocentric = 3
)

const rasterPixelIsPoint = 2

// userDefined is the GeoTIFF sentinel for "not an EPSG code".
const userDefined = 32767

// CRS describes the coordinate reference system of a raster. The raw GeoTIFF
// key data is retained so that writing a raster back to disk preserves the
// CRS byte for byte.
type CRS struct {
	ModelType int
	EPSG      int
	Citation  string

	directory []uint16
	doubles   []float64
	ascii     string
}

// Defined reports whether the raster carried any CRS information at all.
func (c CRS) Defined() bool { return len(c.directory) > 0 }

// IsProjected reports whether coordinates are in a projected system with
// linear units.
func (c CRS) IsProjected() bool { return c.ModelType == ModelProjected }

// IsGeographic reports whether coordinates are geographic (degree) values.
func (c CRS) IsGeographic() bool { return c.ModelType == ModelGeographic }

func (c CRS) String() string {
	var kind string
	switch c.ModelType {
	case ModelProjected:
		kind = "projected"
	case ModelGeographic:
		kind = "geographic"
	case ModelGeocentric:
		kind = "geocentric"
	default:
		if !c.Defined() {
			return "undefined"
		}
		kind = "unknown"
	}

	s := kind
	if c.EPSG != 0 {
		s = fmt.Sprintf("%s EPSG:%d", kind, c.EPSG)
	}
	if c.Citation != "" {
		s = fmt.Sprintf("%s (%s)", s, c.Citation)
	}
	return s
}

// parseGeoKeys interprets a GeoKeyDirectory together with its double and
// ascii parameter arrays.
func parseGeoKeys(directory []uint16, doubles []float64, ascii string) (CRS, error) {
	crs := CRS{directory: directory, doubles: doubles, ascii: ascii}

	if len(directory) == 0 {
		return crs, nil
	}
	if len(directory) < 4 || len(directory)%4 != 0 {
		return crs, fmt.Errorf("GeoKeyDirectory length %d is not a multiple of 4", len(directory))
	}

	numKeys := int(directory[3])
	if len(directory) < 4+numKeys*4 {
		return crs, fmt.Errorf("GeoKeyDirectory announces %d keys but holds %d entries", numKeys, len(directory)/4-1)
	}

	var citation, geogCitation, pcsCitation string

	for i := 1; i <= numKeys; i++ {
		keyID := directory[i*4]
		location := directory[i*4+1]
		count := int(directory[i*4+2])
		value := directory[i*4+3]

		switch keyID {
		case keyModelType:
			crs.ModelType = int(value)
		case keyGeographicType:
			if crs.ModelType == ModelGeographic && value != userDefined {
				crs.EPSG = int(value)
			}
		case keyProjectedCS:
			if value != userDefined {
				crs.EPSG = int(value)
			}
		case keyCitation:
			citation = asciiKeyValue(ascii, location, int(value), count)
		case keyGeogCitation:
			geogCitation = asciiKeyValue(ascii, location, int(value), count)
		case keyPCSCitation:
			pcsCitation = asciiKeyValue(ascii, location, int(value), count)
		}
	}

	// GeographicTypeGeoKey may precede ModelTypeGeoKey in the directory, so
	// resolve it in a second pass when the first left the code unset.
	if crs.EPSG == 0 && crs.ModelType == ModelGeographic {
		for i := 1; i <= numKeys; i++ {
			if directory[i*4] == keyGeographicType && directory[i*4+3] != userDefined {
				crs.EPSG = int(directory[i*4+3])
			}
		}
	}

	switch {
	case pcsCitation != "":
		crs.Citation = pcsCitation
	case citation != "":
		crs.Citation = citation
	default:
		crs.Citation = geogCitation
	}

	return crs, nil
}

// asciiKeyValue extracts a key value stored in the GeoAsciiParams tag.
// Values are '|'-terminated per the GeoTIFF standard.
func asciiKeyValue(ascii string, location uint16, offset, count int) string {
	if location != tagGeoAsciiParams {
		return ""
	}
	if offset < 0 || offset >= len(ascii) {
		return ""
	}
	end := offset + count
	if end > len(ascii) {
		end = len(ascii)
	}
	return strings.TrimRight(ascii[offset:end], "|\x00 ")
}

// pixelIsPoint reports whether the raster-space convention of the key set is
// PixelIsPoint, in which case the tiepoint refers to the center of the
// top-left pixel rather than its outer corner.
func (c CRS) pixelIsPoint() bool {
	if len(c.directory) < 4 {
		return false
	}
	numKeys := int(c.directory[3])
	for i := 1; i <= numKeys && i*4+3 < len(c.directory); i++ {
		if c.directory[i*4] == keyRasterType {
			return c.directory[i*4+3] == rasterPixelIsPoint
		}
	}
	return false
}

// ProjectedCRS builds a minimal projected CRS for the given EPSG code.
func ProjectedCRS(epsg int) CRS {
	crs, _ := parseGeoKeys([]uint16{
		1, 1, 0, 3,
		keyModelType, 0, 1, ModelProjected,
		keyRasterType, 0, 1, 1,
		keyProjectedCS, 0, 1, uint16(epsg),
	}, nil, "")
	return crs
}

// GeographicCRS builds a minimal geographic CRS for the given EPSG code.
func GeographicCRS(epsg int) CRS {
	crs, _ := parseGeoKeys([]uint16{
		1, 1, 0, 3,
		keyModelType, 0, 1, ModelGeographic,
		keyRasterType, 0, 1, 1,
		keyGeographicType, 0, 1, uint16(epsg),
	}, nil, "")
	return crs
}
