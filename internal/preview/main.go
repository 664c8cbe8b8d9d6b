package preview

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"time"

	"github.com/nfnt/resize"

	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
	"github.com/harmonize-tools/mosaic-utils/internal/utils"
)

// Run is the preview command's entrypoint
func Run(flagSet *flag.FlagSet, args []string) {
	var timer time.Time
	start := time.Now()

	mosaicPtr := flagSet.String("mosaic_image", "", "Path to the mosaic GeoTIFF")
	outPtr := flagSet.String("out", "", "Path of the preview PNG (default: <input>_preview.png)")
	sizePtr := flagSet.Int("size", 1024, "Length of the preview's long edge in pixels")
	footprintPtr := flagSet.String("footprint", "", "GeoJSON file whose outlines are drawn on the preview")

	flagSet.Parse(args)

	// make sure the required flags are present
	if *mosaicPtr == "" {
		flagSet.PrintDefaults()
		os.Exit(1)
	}
	if !utils.IsFile(*mosaicPtr) {
		log.Fatal(fmt.Errorf("%s is not a file", *mosaicPtr))
	}
	if *sizePtr < 1 {
		log.Fatal(errors.New("--size must be positive"))
	}
	if *footprintPtr != "" && !utils.IsFile(*footprintPtr) {
		log.Fatal(fmt.Errorf("%s is not a file", *footprintPtr))
	}

	output := *outPtr
	if output == "" {
		output = utils.DerivedPath(*mosaicPtr, "_preview", ".png")
	}

	timer = time.Now()
	fmt.Println("▶️  Loading mosaic")

	r, err := geotiff.Read(*mosaicPtr)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("✔️  Loaded mosaic in", time.Now().Sub(timer).String())

	timer = time.Now()
	fmt.Println("▶️  Rendering preview")

	var img image.Image = render(r)

	// shrink to the requested long edge, never enlarge
	long := r.Width
	if r.Height > long {
		long = r.Height
	}
	scale := 1.0
	if long > *sizePtr {
		scale = float64(*sizePtr) / float64(long)
		if r.Width >= r.Height {
			img = resize.Resize(uint(*sizePtr), 0, img, resize.MitchellNetravali)
		} else {
			img = resize.Resize(0, uint(*sizePtr), img, resize.MitchellNetravali)
		}
	}

	if *footprintPtr != "" {
		canvas := toNRGBA(img)
		if err := drawFootprint(canvas, *footprintPtr, r.Transform, scale); err != nil {
			log.Fatal(err)
		}
		img = canvas
	}

	fmt.Println("✔️  Rendered preview in", time.Now().Sub(timer).String())

	saveImage(output, img)
	fmt.Println("✔️  Preview saved to:", output)

	fmt.Printf("\n    🎉  Finished in %s\n", time.Now().Sub(start).String())
}

func saveImage(path string, img image.Image) {
	out, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	png.Encode(out, img)

	err = out.Close()
	if err != nil {
		log.Fatal(err)
	}
}
