package distfield

import (
	"context"
	"math"
	"path/filepath"

	"pancreasprep/internal/logging"
	"pancreasprep/internal/models"
	"pancreasprep/pkg/dataerr"
	"pancreasprep/pkg/landmarks"
	"pancreasprep/pkg/volume"
)

// File names used inside a case directory.
const (
	SegmentationName = "Segmentation-Segment_1-label.nii.gz"
	LandmarkName     = "F.mrk.json"
	PositiveName     = "Segmentation_distance_field.nii.gz"
	NegativeName     = "Segmentation_negative_distance_field.nii.gz"
	SignedName       = "Segmentation_signed_distance_field.nii.gz"
	GeodesicName     = "Segmentation_fast_marching.nii.gz"
)

// Options controls the offline distance field computations.
type Options struct {
	PositiveName string
	NegativeName string
	SignedName   string

	// SeedIndex selects the landmark the geodesic front starts from.
	SeedIndex int
	// SnapSeed moves a seed that falls on the background to the nearest
	// foreground voxel.
	SnapSeed bool
	// StoppingTime bounds the front; later arrivals are replaced by
	// OutsideValue.
	StoppingTime float64
	OutsideValue float64

	Logger *logging.Logger
}

// DefaultOptions returns the standard output names, seed F-1, stopping
// time 1000 and outside value -1.
func DefaultOptions() Options {
	return Options{
		PositiveName: PositiveName,
		NegativeName: NegativeName,
		SignedName:   SignedName,
		SeedIndex:    0,
		StoppingTime: 1000,
		OutsideValue: -1,
	}
}

// ComputeEuclidean reads the segmentation at segPath and writes its
// positive, negative and signed distance fields into outDir with the
// geometry of the segmentation. It returns the written paths in that order.
func ComputeEuclidean(segPath, outDir string, opts Options) ([]string, error) {
	logger := logging.OrNoop(opts.Logger)
	img, mask, err := volume.NewDecoder(logger).Decode(segPath)
	if err != nil {
		return nil, err
	}
	logger.Info("segmentation loaded", "path", segPath, "dims", mask.Dims)

	fields := EuclideanFields(mask)
	outputs := []struct {
		name string
		vol  *models.Volume
	}{
		{opts.PositiveName, fields.Positive},
		{opts.NegativeName, fields.Negative},
		{opts.SignedName, fields.Signed},
	}

	paths := make([]string, 0, len(outputs))
	for _, o := range outputs {
		if o.name == "" {
			return nil, dataerr.NewMissingInput("", "empty output name", nil)
		}
		path := filepath.Join(outDir, o.name)
		o.vol.Name = path
		if err := volume.WriteLogged(path, volume.Derive(img, o.vol), logger); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ComputeGeodesic grows a fast marching front through the segmentation at
// segPath, using the segmentation values as speed, from the landmark
// opts.SeedIndex of landmarkPath. Arrival times above opts.StoppingTime and
// unreached voxels get opts.OutsideValue. The result is written to outPath.
func ComputeGeodesic(segPath, landmarkPath, outPath string, opts Options) error {
	logger := logging.OrNoop(opts.Logger)
	points, err := landmarks.Read(landmarkPath)
	if err != nil {
		return err
	}
	if opts.SeedIndex < 0 || opts.SeedIndex >= len(points) {
		return dataerr.NewConsistency("%s has %d landmarks, seed %d requested", landmarkPath, len(points), opts.SeedIndex)
	}

	img, mask, err := volume.NewDecoder(logger).Decode(segPath)
	if err != nil {
		return err
	}

	seed, err := SeedIndex(img, points[opts.SeedIndex])
	if err != nil {
		return dataerr.NewConsistency("landmark %d of %s", opts.SeedIndex, landmarkPath).Wrap(err)
	}
	if opts.SnapSeed && mask.At(seed[0], seed[1], seed[2]) <= 0 {
		snapper := NewSeedSnapper(mask, img.Geometry.Spacing)
		if snapper == nil {
			return dataerr.NewConsistency("%s has no foreground to snap the seed to", segPath)
		}
		snapped, dist := snapper.Snap(seed)
		logger.Info("seed snapped to foreground", "from", seed, "to", snapped, "mm", dist)
		seed = snapped
	}

	stop := opts.StoppingTime
	if stop <= 0 {
		stop = math.Inf(1)
	}
	arrival := FastMarching(mask, img.Geometry.Spacing, seed, stop)
	out := Threshold(arrival, 0, stop, opts.OutsideValue)
	out.Name = outPath

	logger.InfoContext(context.Background(), "geodesic field computed", "seed", seed, "reached", reached(arrival))
	return volume.WriteLogged(outPath, volume.Derive(img, out), logger)
}

// SeedIndex maps a physical landmark to the voxel holding it. A point
// outside the image is a ConsistencyError.
func SeedIndex(img *models.Image, p models.Point3D) ([3]int, error) {
	idx, err := img.Geometry.PhysicalToIndex(p)
	if err != nil {
		return idx, err
	}
	if !img.Volume.Contains(idx[0], idx[1], idx[2]) {
		return idx, dataerr.NewConsistency("point (%g, %g, %g) maps to index %v outside %v", p.X, p.Y, p.Z, idx, img.Volume.Dims)
	}
	return idx, nil
}

func reached(v *models.Volume) int {
	n := 0
	for _, t := range v.Data {
		if !math.IsInf(t, 1) {
			n++
		}
	}
	return n
}
