package dicomconv

import (
	"math"

	"pancreasprep/internal/models"
)

// axisPermutations lists every assignment of source axes to output axes.
var axisPermutations = [6][3]int{
	{0, 1, 2}, {0, 2, 1},
	{1, 0, 2}, {1, 2, 0},
	{2, 0, 1}, {2, 1, 0},
}

// Reorient permutes and flips the axes of img so that output axis k runs
// along patient axis k in the positive direction: the direction matrix
// becomes diagonal-dominant with a positive diagonal. The physical position
// of every voxel is unchanged.
func Reorient(img *models.Image) *models.Image {
	g := img.Geometry
	dir := func(row, axis int) float64 { return g.Column(axis)[row] }

	perm := axisPermutations[0]
	best := -1.0
	for _, p := range axisPermutations {
		score := 0.0
		for k := 0; k < 3; k++ {
			score += math.Abs(dir(k, p[k]))
		}
		if score > best+1e-12 {
			best, perm = score, p
		}
	}

	var flip [3]bool
	for k := 0; k < 3; k++ {
		flip[k] = dir(k, perm[k]) < 0
	}

	src := img.Volume
	var dims [3]int
	var out models.Geometry
	for k := 0; k < 3; k++ {
		dims[k] = src.Dims[perm[k]]
		out.Spacing[k] = g.Spacing[perm[k]]
		sign := 1.0
		if flip[k] {
			sign = -1
		}
		for row := 0; row < 3; row++ {
			out.Direction[3*row+k] = sign * dir(row, perm[k])
		}
	}

	// source index of output index i
	source := func(i [3]int) [3]int {
		var s [3]int
		for k := 0; k < 3; k++ {
			v := i[k]
			if flip[k] {
				v = dims[k] - 1 - v
			}
			s[perm[k]] = v
		}
		return s
	}

	zero := source([3]int{0, 0, 0})
	origin := g.IndexToPhysical([3]float64{float64(zero[0]), float64(zero[1]), float64(zero[2])})
	out.Origin = origin.Array()

	vol := models.NewVolume(src.Name, dims[0], dims[1], dims[2])
	for x := 0; x < dims[0]; x++ {
		for y := 0; y < dims[1]; y++ {
			for z := 0; z < dims[2]; z++ {
				s := source([3]int{x, y, z})
				vol.Set(x, y, z, src.At(s[0], s[1], s[2]))
			}
		}
	}
	return &models.Image{Geometry: out, Volume: vol}
}
