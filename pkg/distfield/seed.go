package distfield

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"pancreasprep/internal/models"
)

// voxel is a foreground voxel placed in millimetres so that anisotropic
// spacing is respected by the nearest neighbour search.
type voxel struct {
	X, Y, Z float64
	index   [3]int
}

// Compare implements the kdtree.Comparable interface
func (p voxel) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(voxel)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

func (p voxel) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two voxels
func (p voxel) Distance(c kdtree.Comparable) float64 {
	q := c.(voxel)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// voxels satisfies kdtree.Interface
type voxels []voxel

func (p voxels) Index(i int) kdtree.Comparable         { return p[i] }
func (p voxels) Len() int                              { return len(p) }
func (p voxels) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p voxels) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(voxelPlane{voxels: p, Dim: d}, kdtree.MedianOfRandoms(voxelPlane{voxels: p, Dim: d}, 100))
}

// voxelPlane implements sort.Interface and kdtree.SortSlicer for voxels
type voxelPlane struct {
	voxels
	kdtree.Dim
}

func (p voxelPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.voxels[i].X < p.voxels[j].X
	case 1:
		return p.voxels[i].Y < p.voxels[j].Y
	case 2:
		return p.voxels[i].Z < p.voxels[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p voxelPlane) Slice(start, end int) kdtree.SortSlicer {
	return voxelPlane{voxels: p.voxels[start:end], Dim: p.Dim}
}

func (p voxelPlane) Swap(i, j int) {
	p.voxels[i], p.voxels[j] = p.voxels[j], p.voxels[i]
}

// SeedSnapper finds the foreground voxel closest to a seed.
type SeedSnapper struct {
	spacing [3]float64
	tree    *kdtree.Tree
}

// NewSeedSnapper indexes every non-zero voxel of mask. It returns nil when
// the mask is empty.
func NewSeedSnapper(mask *models.Volume, spacing [3]float64) *SeedSnapper {
	var pts voxels
	for x := 0; x < mask.Dims[0]; x++ {
		for y := 0; y < mask.Dims[1]; y++ {
			for z := 0; z < mask.Dims[2]; z++ {
				if mask.At(x, y, z) != 0 {
					pts = append(pts, newVoxel([3]int{x, y, z}, spacing))
				}
			}
		}
	}
	if len(pts) == 0 {
		return nil
	}
	return &SeedSnapper{spacing: spacing, tree: kdtree.New(pts, true)}
}

func newVoxel(idx [3]int, spacing [3]float64) voxel {
	return voxel{
		X:     float64(idx[0]) * spacing[0],
		Y:     float64(idx[1]) * spacing[1],
		Z:     float64(idx[2]) * spacing[2],
		index: idx,
	}
}

// Snap returns the foreground voxel nearest to seed and the distance to it
// in millimetres. A seed already on the foreground is returned unchanged.
func (s *SeedSnapper) Snap(seed [3]int) ([3]int, float64) {
	got, d2 := s.tree.Nearest(newVoxel(seed, s.spacing))
	if got == nil {
		return seed, 0
	}
	return got.(voxel).index, math.Sqrt(d2)
}
