package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Geometry is the physical placement of a voxel grid, in LPS space.
//
// A continuous index i maps to the physical point origin + D * S * i where D
// is the 3x3 direction matrix (row-major, columns are the axis directions)
// and S = diag(spacing).
type Geometry struct {
	Origin    [3]float64
	Spacing   [3]float64
	Direction [9]float64
}

// IdentityGeometry returns a unit-spaced grid at the origin.
func IdentityGeometry() Geometry {
	return Geometry{
		Spacing:   [3]float64{1, 1, 1},
		Direction: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
}

// indexToPhysical returns D * S as a dense matrix.
func (g Geometry) indexToPhysical() *mat.Dense {
	d := mat.NewDense(3, 3, append([]float64(nil), g.Direction[:]...))
	s := mat.NewDiagDense(3, g.Spacing[:])
	var m mat.Dense
	m.Mul(d, s)
	return &m
}

// IndexToPhysical maps a continuous index to a physical point.
func (g Geometry) IndexToPhysical(index [3]float64) Point3D {
	m := g.indexToPhysical()
	var p mat.VecDense
	p.MulVec(m, mat.NewVecDense(3, index[:]))
	return Point3D{
		X: g.Origin[0] + p.AtVec(0),
		Y: g.Origin[1] + p.AtVec(1),
		Z: g.Origin[2] + p.AtVec(2),
	}
}

// PhysicalToContinuousIndex maps a physical point to a continuous index.
func (g Geometry) PhysicalToContinuousIndex(p Point3D) ([3]float64, error) {
	var inv mat.Dense
	if err := inv.Inverse(g.indexToPhysical()); err != nil {
		return [3]float64{}, fmt.Errorf("geometry is not invertible: %w", err)
	}
	delta := mat.NewVecDense(3, []float64{p.X - g.Origin[0], p.Y - g.Origin[1], p.Z - g.Origin[2]})
	var idx mat.VecDense
	idx.MulVec(&inv, delta)
	return [3]float64{idx.AtVec(0), idx.AtVec(1), idx.AtVec(2)}, nil
}

// PhysicalToIndex maps a physical point to the nearest voxel index, rounding
// half-integers up.
func (g Geometry) PhysicalToIndex(p Point3D) ([3]int, error) {
	c, err := g.PhysicalToContinuousIndex(p)
	if err != nil {
		return [3]int{}, err
	}
	var out [3]int
	for i := range c {
		out[i] = int(math.Floor(c[i] + 0.5))
	}
	return out, nil
}

// Column returns the unit direction of grid axis i.
func (g Geometry) Column(i int) [3]float64 {
	return [3]float64{g.Direction[i], g.Direction[3+i], g.Direction[6+i]}
}
