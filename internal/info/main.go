package info

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"

	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
	"github.com/harmonize-tools/mosaic-utils/internal/utils"
)

// Run is the info command's entrypoint
func Run(flagSet *flag.FlagSet, args []string) {
	mosaicPtr := flagSet.String("mosaic_image", "", "Path to the mosaic GeoTIFF")

	flagSet.Parse(args)

	// make sure the required flags are present
	if *mosaicPtr == "" {
		flagSet.PrintDefaults()
		os.Exit(1)
	}
	if !utils.IsFile(*mosaicPtr) {
		log.Fatal(fmt.Errorf("%s is not a file", *mosaicPtr))
	}

	pages, err := geotiff.Inspect(*mosaicPtr)
	if err != nil {
		log.Fatal(err)
	}
	r := pages[0]

	fmt.Println("File:        " + *mosaicPtr)
	fmt.Printf("Size:        %d × %d pixels\n", r.Width, r.Height)
	fmt.Printf("Bands:       %d × %s\n", r.Bands, r.Type)
	fmt.Println("Compression: " + r.Compression)
	fmt.Println("CRS:         " + r.CRS.String())
	fmt.Printf("Origin:      %.6f, %.6f\n", r.Transform.OriginX, r.Transform.OriginY)
	fmt.Printf("Pixel size:  %.6f, %.6f\n", r.Transform.ScaleX, r.Transform.ScaleY)
	if !r.Transform.Rectilinear() {
		fmt.Printf("Shear:       %.6f, %.6f\n", r.Transform.ShearX, r.Transform.ShearY)
	}

	minX, minY, maxX, maxY := extent(r)
	fmt.Printf("Extent:      %.6f, %.6f to %.6f, %.6f\n", minX, minY, maxX, maxY)

	if r.NoData != nil {
		fmt.Println("Nodata:      " + strconv.FormatFloat(*r.NoData, 'g', -1, 64))
	} else {
		fmt.Println("Nodata:      not set")
	}

	if len(pages) > 1 {
		fmt.Print("Overviews:  ")
		for _, p := range pages[1:] {
			fmt.Printf(" %d×%d", p.Width, p.Height)
		}
		fmt.Println()
	}
}

// extent returns the CRS bounding box of the raster. All four corners are
// considered so rotated geotransforms come out right.
func extent(r *geotiff.Raster) (minX, minY, maxX, maxY float64) {
	w, h := float64(r.Width), float64(r.Height)
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, c := range [][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		x, y := r.Transform.Apply(c[0], c[1])
		minX = math.Min(minX, x)
		minY = math.Min(minY, y)
		maxX = math.Max(maxX, x)
		maxY = math.Max(maxY, y)
	}
	return minX, minY, maxX, maxY
}
