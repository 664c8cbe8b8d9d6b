package cut

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/harmonize-tools/mosaic-utils/internal/clip"
	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
	"github.com/harmonize-tools/mosaic-utils/internal/utils"
	"github.com/harmonize-tools/mosaic-utils/internal/validate"
)

// Run is the cut command's entrypoint
func Run(flagSet *flag.FlagSet, args []string) {
	start := time.Now()

	mosaicPtr := flagSet.String("mosaic_image", "", "Path to the input mosaic GeoTIFF")
	cutlinePtr := flagSet.String("cutline", "", "GeoJSON file with the cut polygon, in the raster's CRS")
	outputPtr := flagSet.String("raster_output", "", "Path of the cut GeoTIFF (default: <input>_cut.tif)")

	flagSet.Parse(args)

	if *mosaicPtr == "" || *cutlinePtr == "" {
		flagSet.PrintDefaults()
		os.Exit(1)
	}
	if !utils.IsFile(*mosaicPtr) {
		log.Fatal(fmt.Errorf("%s does not exist or is no file", *mosaicPtr))
	}
	if err := validate.CutlinePath(*cutlinePtr); err != nil {
		log.Fatal(err)
	}

	output := *outputPtr
	if output == "" {
		output = utils.DerivedPath(*mosaicPtr, "_cut", ".tif")
	}
	if err := validate.OutputRaster(output); err != nil {
		log.Fatal(err)
	}

	timer := time.Now()
	fmt.Println("▶️  Loading mosaic")
	r, err := geotiff.Read(*mosaicPtr)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("✔️  Loaded mosaic in", time.Now().Sub(timer).String())

	poly, err := readCutline(*cutlinePtr)
	if err != nil {
		log.Fatal(err)
	}

	timer = time.Now()
	fmt.Println("▶️  Cutting raster along polygon")
	out, err := clip.Clip(r, poly, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("✔️  Cut to %d×%d px in %s\n", out.Width, out.Height, time.Now().Sub(timer).String())

	tmp := output + ".partial"
	if err := geotiff.Write(tmp, out, geotiff.WriteOptions{}); err != nil {
		os.Remove(tmp)
		log.Fatal(err)
	}
	if err := os.Rename(tmp, output); err != nil {
		os.Remove(tmp)
		log.Fatal(err)
	}

	fmt.Println("Cut mosaic saved to:", output)
	fmt.Printf("\n    🎉  Finished in %s\n", time.Now().Sub(start).String())
}

// readCutline loads the first polygon of a GeoJSON feature collection.
func readCutline(path string) (orb.Polygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for _, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			return g, nil
		case orb.MultiPolygon:
			if len(g) > 0 {
				return g[0], nil
			}
		}
	}
	return nil, errors.New("cutline contains no polygon feature")
}
