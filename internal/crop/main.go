package crop

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/harmonize-tools/mosaic-utils/internal/mask"
	"github.com/harmonize-tools/mosaic-utils/internal/reduce"
	"github.com/harmonize-tools/mosaic-utils/internal/utils"
	"github.com/harmonize-tools/mosaic-utils/internal/validate"
)

// Run is the crop command's entrypoint
func Run(flagSet *flag.FlagSet, args []string) {
	start := time.Now()

	mosaicPtr := flagSet.String("mosaic_image", "", "Path to the input mosaic GeoTIFF, or a directory of mosaics")
	thresholdPtr := flagSet.Float64("threshold_area", 0, "Fraction of the mapped area to buffer away from the edges, in (0, 1)")
	outputPtr := flagSet.String("raster_output", "", "Path of the cropped GeoTIFF (default: <input>_cropped.tif)")
	nodataPtr := flagSet.String("nodata", "", "Nodata value override (default: raster metadata, then the top-left pixel)")
	validBandsPtr := flagSet.String("valid_bands", "any", "Pixel validity across bands: any | all")
	maskBandsPtr := flagSet.Int("mask_bands", 0, "Mask on the first N bands only, 0 = all (3 skips an alpha band)")
	fillHolesPtr := flagSet.Bool("fill_holes", false, "Close interior holes of the footprint before buffering")
	formulaPtr := flagSet.String("buffer_formula", "area", "Buffer distance: area (d = t·A) | sqrt (d = √(t·A))")
	reprojectPtr := flagSet.Bool("reproject", false, "Buffer EPSG:4326 rasters in spherical Mercator instead of failing")
	refinePtr := flagSet.Bool("refine", false, "Run a second fine pass to clean up leftover serration")
	cogPtr := flagSet.Bool("cog", false, "Write a cloud-optimized GeoTIFF (tiled, with an overview pyramid)")
	overviewsPtr := flagSet.Bool("overviews", false, "Embed reduced-resolution overview pages")
	workersPtr := flagSet.Int("workers", 1, "Mosaics cropped in parallel in directory mode")

	flagSet.Parse(args)

	// make sure the required flags are present
	if *mosaicPtr == "" || *thresholdPtr == 0 {
		flagSet.PrintDefaults()
		os.Exit(1)
	}

	if err := validate.MosaicPath(*mosaicPtr); err != nil {
		log.Fatal(err)
	}
	if err := validate.Threshold(*thresholdPtr); err != nil {
		log.Fatal(err)
	}
	policy, err := mask.ParsePolicy(*validBandsPtr)
	if err != nil {
		log.Fatal(err)
	}
	formula, err := reduce.ParseFormula(*formulaPtr)
	if err != nil {
		log.Fatal(err)
	}

	o := options{
		threshold: *thresholdPtr,
		policy:    policy,
		maskBands: *maskBandsPtr,
		fillHoles: *fillHolesPtr,
		formula:   formula,
		reproject: *reprojectPtr,
		refine:    *refinePtr,
		cog:       *cogPtr,
		overviews: *overviewsPtr,
	}
	if *nodataPtr != "" {
		v, err := strconv.ParseFloat(*nodataPtr, 64)
		if err != nil {
			log.Fatal(fmt.Errorf("invalid nodata value %q", *nodataPtr))
		}
		o.noData = &v
	}

	if utils.IsDirectory(*mosaicPtr) {
		if *outputPtr != "" {
			log.Fatal(errors.New("--raster_output cannot be combined with a directory input"))
		}
		runBatch(*mosaicPtr, o, *workersPtr)
	} else {
		output := *outputPtr
		if output == "" {
			output = utils.DerivedPath(*mosaicPtr, "_cropped", ".tif")
		}
		if err := validate.OutputRaster(output); err != nil {
			log.Fatal(err)
		}
		if err := cropFile(*mosaicPtr, output, o, true); err != nil {
			log.Fatal(err)
		}
		fmt.Println("Cropped mosaic saved to:", output)
	}

	fmt.Printf("\n    🎉  Finished in %s\n", time.Now().Sub(start).String())
}

// runBatch crops every GeoTIFF in dir, a bounded number at a time. Files
// fail independently; the process exits non-zero if any did.
func runBatch(dir string, o options, workers int) {
	files, err := utils.ListRasters(dir)
	if err != nil {
		log.Fatal(err)
	}

	// don't re-crop outputs of earlier runs living in the same directory
	kept := files[:0]
	for _, f := range files {
		stem := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		if !strings.HasSuffix(stem, "_cropped") {
			kept = append(kept, f)
		}
	}
	files = kept

	if len(files) == 0 {
		log.Fatal(errors.New("no GeoTIFF files found in " + dir))
	}
	if workers < 1 {
		workers = 1
	}

	fmt.Printf("▶️  Cropping %d mosaics in %s\n", len(files), dir)

	sem := semaphore.NewWeighted(int64(workers))
	wg := sync.WaitGroup{}
	mu := sync.Mutex{}
	failed := 0

	for i, file := range files {
		wg.Add(1)
		go func(i int, file string) {
			defer wg.Done()
			sem.Acquire(context.Background(), 1)
			defer sem.Release(1)

			timer := time.Now()
			output := utils.DerivedPath(file, "_cropped", ".tif")
			if err := cropFile(file, output, o, false); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				fmt.Printf("    [%d/%d] %s failed: %v\n", i+1, len(files), filepath.Base(file), err)
				return
			}
			fmt.Printf("    ✔️  [%d/%d] Cropped mosaic saved to: %s (%s)\n",
				i+1, len(files), output, time.Now().Sub(timer).String())
		}(i, file)
	}
	wg.Wait()

	if failed > 0 {
		log.Fatal(fmt.Errorf("%d of %d mosaics failed", failed, len(files)))
	}
	fmt.Printf("✔️  Cropped %d mosaics\n", len(files))
}
