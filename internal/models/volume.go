package models

import (
	"fmt"
)

// Point3D is a physical coordinate in millimetres.
type Point3D struct {
	X, Y, Z float64
}

// Array returns the point as an [x, y, z] array.
func (p Point3D) Array() [3]float64 {
	return [3]float64{p.X, p.Y, p.Z}
}

// Volume is a decoded 3D image: its source name, its shape and its voxels.
//
// Data is stored in canonical x-major order, so the voxel at (x, y, z) is
// Data[(x*Dims[1]+y)*Dims[2]+z]. Physical metadata (origin, spacing,
// direction) lives on the Geometry of the image the volume was decoded from
// and is not duplicated here.
type Volume struct {
	// Name is the source path the volume was decoded from
	Name string

	// Dims holds the number of voxels along X, Y and Z
	Dims [3]int

	// Data holds Dims[0]*Dims[1]*Dims[2] voxel values
	Data []float64
}

// NewVolume allocates a zero-filled volume of the given shape.
func NewVolume(name string, nx, ny, nz int) *Volume {
	return &Volume{
		Name: name,
		Dims: [3]int{nx, ny, nz},
		Data: make([]float64, nx*ny*nz),
	}
}

// Shape returns the voxel counts along X, Y and Z.
func (v *Volume) Shape() [3]int {
	return v.Dims
}

// Len returns the total number of voxels.
func (v *Volume) Len() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// Index returns the offset of (x, y, z) in Data.
func (v *Volume) Index(x, y, z int) int {
	return (x*v.Dims[1]+y)*v.Dims[2] + z
}

// Contains reports whether (x, y, z) lies inside the volume.
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Dims[0] && y < v.Dims[1] && z < v.Dims[2]
}

// At returns the voxel at (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores value at (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Clone returns a deep copy of the volume under a new name.
func (v *Volume) Clone(name string) *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{Name: name, Dims: v.Dims, Data: data}
}

// Validate checks that the voxel slice matches the declared shape.
func (v *Volume) Validate() error {
	for i, n := range v.Dims {
		if n <= 0 {
			return fmt.Errorf("volume %s: dimension %d is %d", v.Name, i, n)
		}
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("volume %s: %d voxels for shape %v", v.Name, len(v.Data), v.Dims)
	}
	return nil
}

// Image couples a decoded volume with the geometry it was stored with.
// Offline steps write images back so the spatial metadata survives.
type Image struct {
	Geometry Geometry
	Volume   *Volume
}

// Sample is one step of the training-sample generator.
type Sample struct {
	// Index is the manifest row the sample was built from
	Index int

	// Images holds one entry per agent; all entries share one decoded volume
	Images []*Volume

	// EDT and GDT are the distance fields of the case, nil when landmarks
	// were not requested
	EDT *Volume
	GDT *Volume

	// Landmarks holds the case's control points, nil when not requested
	Landmarks []Point3D

	// Filenames holds one entry per agent: the image path without its
	// trailing extension
	Filenames []string

	// Spacing is the voxel size of the image in mm
	Spacing [3]float64
}
