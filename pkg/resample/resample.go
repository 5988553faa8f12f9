// Package resample brings volumes onto an isotropic voxel grid.
package resample

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"pancreasprep/internal/logging"
	"pancreasprep/internal/models"
	"pancreasprep/pkg/dataerr"
	"pancreasprep/pkg/volume"
)

// DefaultSpacing is the isotropic voxel side length in millimetres.
const DefaultSpacing = 0.5

// Options configures File.
type Options struct {
	// Spacing is the target voxel side length; 0 means DefaultSpacing.
	Spacing float64
	// Workers bounds the goroutines used; 0 means GOMAXPROCS.
	Workers int
	Logger  *logging.Logger
}

// Size returns the grid size that covers dims at spacing with voxels of
// side target. Partial voxels are dropped.
func Size(dims [3]int, spacing [3]float64, target float64) [3]int {
	var out [3]int
	for i := range dims {
		out[i] = int(float64(dims[i]) * spacing[i] / target)
	}
	return out
}

// Isotropic resamples img onto a grid with spacing target on every axis. The
// new grid keeps the origin and direction of img, so voxel 0 stays in place.
// Values are interpolated trilinearly; points that fall outside the source
// grid are 0.
func Isotropic(img *models.Image, target float64, workers int) (*models.Image, error) {
	if target <= 0 || math.IsNaN(target) {
		return nil, dataerr.NewConsistency("target spacing must be positive, got %g", target)
	}
	src := img.Volume
	if err := src.Validate(); err != nil {
		return nil, err
	}
	for i, s := range img.Geometry.Spacing {
		if s <= 0 {
			return nil, dataerr.NewConsistency("source spacing %d is %g", i, s)
		}
	}

	size := Size(src.Dims, img.Geometry.Spacing, target)
	if size[0] == 0 || size[1] == 0 || size[2] == 0 {
		return nil, dataerr.NewConsistency("volume %v at spacing %v is smaller than one %g mm voxel", src.Dims, img.Geometry.Spacing, target)
	}

	// output index i sits at input continuous index i*scale on each axis
	var scale [3]float64
	for i := range scale {
		scale[i] = target / img.Geometry.Spacing[i]
	}

	out := models.NewVolume(src.Name, size[0], size[1], size[2])
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for x := 0; x < size[0]; x++ {
		g.Go(func() error {
			cx := float64(x) * scale[0]
			for y := 0; y < size[1]; y++ {
				cy := float64(y) * scale[1]
				for z := 0; z < size[2]; z++ {
					out.Set(x, y, z, Trilinear(src, [3]float64{cx, cy, float64(z) * scale[2]}))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	geom := img.Geometry
	geom.Spacing = [3]float64{target, target, target}
	return &models.Image{Geometry: geom, Volume: out}, nil
}

// Trilinear samples vol at continuous index c. A point is inside the grid
// when every coordinate lies in [-0.5, n-0.5); neighbours past the edge are
// clamped. Points outside are 0.
func Trilinear(vol *models.Volume, c [3]float64) float64 {
	var lo, hi [3]int
	var frac [3]float64
	for i := range c {
		n := vol.Dims[i]
		if c[i] < -0.5 || c[i] >= float64(n)-0.5 {
			return 0
		}
		f := math.Floor(c[i])
		frac[i] = c[i] - f
		lo[i] = clamp(int(f), n)
		hi[i] = clamp(int(f)+1, n)
	}

	var sum float64
	for corner := 0; corner < 8; corner++ {
		w := 1.0
		var idx [3]int
		for i := 0; i < 3; i++ {
			if corner&(1<<i) != 0 {
				idx[i] = hi[i]
				w *= frac[i]
			} else {
				idx[i] = lo[i]
				w *= 1 - frac[i]
			}
		}
		if w != 0 {
			sum += w * vol.At(idx[0], idx[1], idx[2])
		}
	}
	return sum
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// File resamples the volume at in and writes it to out.
func File(in, out string, opts Options) error {
	target := opts.Spacing
	if target == 0 {
		target = DefaultSpacing
	}
	logger := logging.OrNoop(opts.Logger)

	img, _, err := volume.NewDecoder(logger).Decode(in)
	if err != nil {
		return err
	}
	res, err := Isotropic(img, target, opts.Workers)
	if err != nil {
		return err
	}
	logger.Info("resampled",
		"from", img.Volume.Dims,
		"to", res.Volume.Dims,
		"spacing", target,
	)
	res.Volume.Name = out
	return volume.WriteLogged(out, res, logger)
}
