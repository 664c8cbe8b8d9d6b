package footprint

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
	"github.com/harmonize-tools/mosaic-utils/internal/mask"
	"github.com/harmonize-tools/mosaic-utils/internal/reduce"
	"github.com/harmonize-tools/mosaic-utils/internal/utils"
	"github.com/harmonize-tools/mosaic-utils/internal/validate"
	"github.com/harmonize-tools/mosaic-utils/internal/vectorize"
)

// Run is the footprint command's entrypoint
func Run(flagSet *flag.FlagSet, args []string) {
	start := time.Now()

	mosaicPtr := flagSet.String("mosaic_image", "", "Path to the input mosaic GeoTIFF")
	outPtr := flagSet.String("out", "", "Path of the GeoJSON output (default: <input>_footprint.geojson)")
	thresholdPtr := flagSet.Float64("threshold_area", 0, "Also export the buffered convex hull for this threshold")
	simplifyPtr := flagSet.Float64("simplify", 0, "Douglas-Peucker tolerance in CRS units (0 = keep all vertices)")
	nodataPtr := flagSet.String("nodata", "", "Nodata value override")
	validBandsPtr := flagSet.String("valid_bands", "any", "Pixel validity across bands: any | all")
	maskBandsPtr := flagSet.Int("mask_bands", 0, "Mask on the first N bands only, 0 = all")

	flagSet.Parse(args)

	if *mosaicPtr == "" {
		flagSet.PrintDefaults()
		os.Exit(1)
	}
	if !utils.IsFile(*mosaicPtr) {
		log.Fatal(fmt.Errorf("%s does not exist or is no file", *mosaicPtr))
	}
	policy, err := mask.ParsePolicy(*validBandsPtr)
	if err != nil {
		log.Fatal(err)
	}

	opts := mask.Options{Policy: policy, Bands: *maskBandsPtr}
	if *nodataPtr != "" {
		v, err := strconv.ParseFloat(*nodataPtr, 64)
		if err != nil {
			log.Fatal(fmt.Errorf("invalid nodata value %q", *nodataPtr))
		}
		opts.NoData = &v
	}

	fmt.Println("▶️  Loading mosaic")
	r, err := geotiff.Read(*mosaicPtr)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("▶️  Tracing footprint")
	m, err := mask.FromRaster(r, opts)
	if err != nil {
		log.Fatal(err)
	}
	parts, err := vectorize.Polygons(m, r.Transform)
	if err != nil {
		log.Fatal(err)
	}

	var geom orb.Geometry = parts
	if len(parts) == 1 {
		geom = parts[0]
	}
	if *simplifyPtr > 0 {
		geom = simplify.DouglasPeucker(*simplifyPtr).Simplify(geom)
	}

	fc := geojson.NewFeatureCollection()
	foot := geojson.NewFeature(geom)
	foot.Properties = geojson.Properties{
		"kind":   "footprint",
		"area":   planar.Area(geom),
		"pixels": m.Valid,
		"parts":  len(parts),
		"nodata": m.NoData,
	}
	fc.Append(foot)

	if *thresholdPtr != 0 {
		if err := validate.Threshold(*thresholdPtr); err != nil {
			log.Fatal(err)
		}

		// hull of the largest part, like the crop pipeline uses
		best := parts[0]
		for _, p := range parts[1:] {
			if planar.Area(p) > planar.Area(best) {
				best = p
			}
		}

		fmt.Println("▶️  Reducing to buffered convex hull")
		red, err := reduce.Reduce(best, r.CRS, *thresholdPtr, reduce.Options{
			Resolution: r.Transform.PixelSize(),
		})
		if err != nil {
			log.Fatal(err)
		}
		hull := geojson.NewFeature(orb.Polygon{red.Hull})
		hull.Properties = geojson.Properties{
			"kind":            "hull",
			"area":            planar.Area(orb.Polygon{red.Hull}),
			"buffer_distance": red.Distance,
			"threshold_area":  *thresholdPtr,
		}
		fc.Append(hull)
	}

	out := *outPtr
	if out == "" {
		out = utils.DerivedPath(*mosaicPtr, "_footprint", ".geojson")
	}
	if err := write(out, fc); err != nil {
		log.Fatal(err)
	}

	fmt.Println("✔️  Footprint saved to:", out)
	fmt.Printf("\n    🎉  Finished in %s\n", time.Now().Sub(start).String())
}

func write(path string, fc *geojson.FeatureCollection) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	bytes, err := json.MarshalIndent(fc, "", "    ")
	if err != nil {
		return err
	}

	_, err = f.Write(bytes)
	if err != nil {
		return err
	}

	return f.Close()
}
