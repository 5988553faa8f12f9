package dicomconv

import (
	"fmt"
	"math"
	"sort"

	"pancreasprep/internal/models"
	"pancreasprep/pkg/dataerr"
)

// orientationTolerance bounds the difference of direction cosines between
// slices of one volume.
const orientationTolerance = 1e-4

// Assemble stacks the slices of the largest series into a volume in patient
// (LPS) space. Slices are ordered along the slice normal by the projection of
// their position; voxel values are rescaled to modality units. The volume
// axes follow the acquisition: columns, rows, slices.
func Assemble(slices []*Slice) (*models.Image, error) {
	series := dominantSeries(slices)
	if len(series) == 0 {
		return nil, dataerr.NewDecode("", "no usable slices", nil)
	}

	ref := series[0]
	for _, s := range series[1:] {
		if s.Rows != ref.Rows || s.Cols != ref.Cols {
			return nil, dataerr.NewDecode(s.Path, fmt.Sprintf("slice is %dx%d, series is %dx%d", s.Rows, s.Cols, ref.Rows, ref.Cols), nil)
		}
		for i := range s.Orientation {
			if math.Abs(s.Orientation[i]-ref.Orientation[i]) > orientationTolerance {
				return nil, dataerr.NewDecode(s.Path, "slice orientation differs from the series", nil)
			}
		}
	}
	for _, s := range series {
		if len(s.Pixels) != s.Rows*s.Cols {
			return nil, dataerr.NewDecode(s.Path, fmt.Sprintf("%d pixels, want %d", len(s.Pixels), s.Rows*s.Cols), nil)
		}
	}

	row := [3]float64{ref.Orientation[0], ref.Orientation[1], ref.Orientation[2]}
	col := [3]float64{ref.Orientation[3], ref.Orientation[4], ref.Orientation[5]}
	normal := cross(row, col)
	if norm(normal) < 0.5 {
		return nil, dataerr.NewDecode(ref.Path, "degenerate ImageOrientationPatient", nil)
	}

	sort.SliceStable(series, func(i, j int) bool {
		return dot(series[i].Position, normal) < dot(series[j].Position, normal)
	})

	dz := ref.Thickness
	if len(series) > 1 {
		first := dot(series[0].Position, normal)
		last := dot(series[len(series)-1].Position, normal)
		dz = (last - first) / float64(len(series)-1)
		for i := 1; i < len(series); i++ {
			if dot(series[i].Position, normal)-dot(series[i-1].Position, normal) < 1e-6 {
				return nil, dataerr.NewDecode(series[i].Path, "two slices share a position", nil)
			}
		}
	}
	if dz <= 0 {
		dz = 1
	}

	nx, ny, nz := ref.Cols, ref.Rows, len(series)
	vol := models.NewVolume("", nx, ny, nz)
	for z, s := range series {
		for j, px := range s.Pixels {
			vol.Set(j%nx, j/nx, z, float64(px)*s.Slope+s.Intercept)
		}
	}

	geom := models.Geometry{
		Origin:  series[0].Position,
		Spacing: [3]float64{ref.PixelSpacing[1], ref.PixelSpacing[0], dz},
		Direction: [9]float64{
			row[0], col[0], normal[0],
			row[1], col[1], normal[1],
			row[2], col[2], normal[2],
		},
	}
	return &models.Image{Geometry: geom, Volume: vol}, nil
}

// dominantSeries returns the slices of the series with the most slices; ties
// go to the smallest UID.
func dominantSeries(slices []*Slice) []*Slice {
	bySeries := map[string][]*Slice{}
	for _, s := range slices {
		if s != nil {
			bySeries[s.SeriesUID] = append(bySeries[s.SeriesUID], s)
		}
	}
	var best string
	found := false
	for uid, ss := range bySeries {
		if !found || len(ss) > len(bySeries[best]) || (len(ss) == len(bySeries[best]) && uid < best) {
			best, found = uid, true
		}
	}
	return bySeries[best]
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func norm(a [3]float64) float64 {
	return math.Sqrt(dot(a, a))
}
