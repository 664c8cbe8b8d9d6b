package crop

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"

	"github.com/harmonize-tools/mosaic-utils/internal/clip"
	"github.com/harmonize-tools/mosaic-utils/internal/geotiff"
	"github.com/harmonize-tools/mosaic-utils/internal/mask"
	"github.com/harmonize-tools/mosaic-utils/internal/reduce"
	"github.com/harmonize-tools/mosaic-utils/internal/vectorize"
)

// StageError labels a pipeline failure with the stage that caused it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error { return &StageError{Stage: stage, Err: err} }

// refineThreshold is the fixed fraction applied by the optional second pass,
// small enough to only shave off serration left along the first hull's edge.
const refineThreshold = 1e-5

// options bundles the crop settings shared by every file of a run.
type options struct {
	threshold float64
	noData    *float64
	policy    mask.Policy
	maskBands int
	fillHoles bool
	formula   reduce.Formula
	reproject bool
	refine    bool
	cog       bool
	overviews bool
}

// cropFile runs the whole pipeline for one mosaic and writes the result to
// output. Nothing is left behind on failure: the raster goes to a temporary
// sibling file first and is renamed into place once fully written.
func cropFile(input, output string, o options, verbose bool) error {
	r, err := geotiff.Read(input)
	if err != nil {
		return stageErr("reading input", err)
	}
	if verbose {
		fmt.Printf("ℹ️  %d×%d px, %d band(s), %s, CRS: %s\n", r.Width, r.Height, r.Bands, r.Type, r.CRS)
	}

	out, err := process(r, o, verbose)
	if err != nil {
		return err
	}
	return writeOutput(output, out, o)
}

// process applies mask → footprint → buffer+hull → clip, twice when a
// refinement pass is requested.
func process(r *geotiff.Raster, o options, verbose bool) (*geotiff.Raster, error) {
	out, err := singlePass(r, o.threshold, o, verbose)
	if err != nil {
		return nil, err
	}
	if o.refine {
		if verbose {
			fmt.Println("▶️  Refining edges with a second pass")
		}
		out, err = singlePass(out, refineThreshold, o, false)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func singlePass(r *geotiff.Raster, threshold float64, o options, verbose bool) (*geotiff.Raster, error) {
	timer := time.Now()
	if verbose {
		fmt.Println("▶️  Extracting occupancy mask")
	}
	m, err := mask.FromRaster(r, mask.Options{NoData: o.noData, Policy: o.policy, Bands: o.maskBands})
	if err != nil {
		return nil, stageErr("mask extraction", err)
	}
	if verbose {
		if m.NoDataSource == mask.SourceTopLeft {
			fmt.Printf("ℹ️  No nodata value given or tagged, assuming %v (%s)\n", m.NoData, m.NoDataSource)
		}
		fmt.Printf("✔️  Masked %d valid pixels in %s\n", m.Valid, time.Now().Sub(timer).String())
	}

	timer = time.Now()
	if verbose {
		fmt.Println("▶️  Tracing footprint")
	}
	foot, err := vectorize.Footprint(m, r.Transform)
	if err != nil {
		return nil, stageErr("polygonization", err)
	}
	if o.fillHoles && len(foot) > 1 {
		foot = orb.Polygon{foot[0]}
	}
	if verbose {
		fmt.Printf("✔️  Traced footprint (%d ring(s)) in %s\n", len(foot), time.Now().Sub(timer).String())
	}

	timer = time.Now()
	if verbose {
		fmt.Println("▶️  Buffering inward and reducing to convex hull")
	}
	red, err := reduce.Reduce(foot, r.CRS, threshold, reduce.Options{
		Formula:    o.formula,
		Reproject:  o.reproject,
		Resolution: bufferResolution(r, o.reproject && r.CRS.IsGeographic()),
	})
	if err != nil {
		return nil, stageErr("buffer reduction", err)
	}
	if verbose {
		if red.Projected {
			fmt.Println("ℹ️  Geographic CRS, buffering in spherical Mercator meters")
		}
		fmt.Printf("✔️  Mapped area %.1f, buffer distance %.2f, hull with %d vertices in %s\n",
			red.Area, red.Distance, len(red.Hull)-1, time.Now().Sub(timer).String())
	}

	timer = time.Now()
	if verbose {
		fmt.Println("▶️  Clipping raster to hull")
	}
	nd := m.NoData
	out, err := clip.Clip(r, orb.Polygon{red.Hull}, &nd)
	if err != nil {
		return nil, stageErr("clipping", err)
	}
	if verbose {
		fmt.Printf("✔️  Clipped to %d×%d px in %s\n", out.Width, out.Height, time.Now().Sub(timer).String())
	}
	return out, nil
}

// bufferResolution is the erosion grid cell size: the raster's pixel size,
// measured in Mercator meters when the buffer runs in the projected plane.
func bufferResolution(r *geotiff.Raster, projected bool) float64 {
	if !projected {
		return math.Sqrt(r.Transform.PixelArea())
	}
	a := project.WGS84.ToMercator(r.PixelCenter(r.Width/2, r.Height/2))
	b := project.WGS84.ToMercator(r.PixelCenter(r.Width/2+1, r.Height/2))
	return planar.Distance(a, b)
}

func writeOutput(output string, r *geotiff.Raster, o options) error {
	tmp := output + ".partial"
	opts := geotiff.WriteOptions{Overviews: o.overviews}

	var err error
	if o.cog {
		err = geotiff.WriteCOG(tmp, r, opts)
	} else {
		err = geotiff.Write(tmp, r, opts)
	}
	if err != nil {
		os.Remove(tmp)
		return stageErr("writing output", err)
	}
	if err := os.Rename(tmp, output); err != nil {
		os.Remove(tmp)
		return stageErr("writing output", err)
	}
	return nil
}
