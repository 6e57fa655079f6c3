// Package volume provides the in-memory representation of 3D medical image
// volumes along with synthetic data generation and file storage in NIfTI-1
// format. A volume pairs a flat voxel buffer with its shape and a 4x4 affine
// transform mapping voxel indices to physical coordinates.
package volume

import (
	"fmt"
)

// Volume represents a 3D image or label volume. Voxels are stored in a flat
// float64 slice in row-major order over the shape, so the last (Z) dimension
// varies fastest: index = (x*Y + y)*Z + z for rank-3 volumes, with the
// channel as the slowest dimension for rank-4 volumes (shape [C, X, Y, Z]).
// This matches the tensor package's layout, so tensor conversion is a plain
// copy.
type Volume struct {
	Data   []float64
	Shape  []int
	Affine [4][4]float64
}

// IdentityAffine returns the identity voxel-to-world transform.
func IdentityAffine() [4][4]float64 {
	return [4][4]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// New creates a zero-filled volume with the given shape and identity affine.
func New(shape ...int) (*Volume, error) {
	if len(shape) != 3 && len(shape) != 4 {
		return nil, fmt.Errorf("volume must be rank 3 or 4, got rank %d", len(shape))
	}
	n := 1
	for i, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
		n *= dim
	}
	return &Volume{
		Data:   make([]float64, n),
		Shape:  append([]int(nil), shape...),
		Affine: IdentityAffine(),
	}, nil
}

// Rank returns the number of dimensions.
func (v *Volume) Rank() int {
	return len(v.Shape)
}

// SpatialShape returns the trailing three (X, Y, Z) dimensions.
func (v *Volume) SpatialShape() []int {
	return v.Shape[len(v.Shape)-3:]
}

// Channels returns the channel count, or 1 for an unchannelled volume.
func (v *Volume) Channels() int {
	if len(v.Shape) == 4 {
		return v.Shape[0]
	}
	return 1
}

// NumVoxels returns the total element count.
func (v *Volume) NumVoxels() int {
	return len(v.Data)
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{
		Data:   data,
		Shape:  append([]int(nil), v.Shape...),
		Affine: v.Affine,
	}
}

// At returns the voxel at (x, y, z) in a rank-3 volume.
func (v *Volume) At(x, y, z int) float64 {
	s := v.SpatialShape()
	return v.Data[(x*s[1]+y)*s[2]+z]
}

// Set stores a voxel value at (x, y, z) in a rank-3 volume.
func (v *Volume) Set(x, y, z int, value float64) {
	s := v.SpatialShape()
	v.Data[(x*s[1]+y)*s[2]+z] = value
}

func (v *Volume) String() string {
	return fmt.Sprintf("Volume(shape=%v, voxels=%d)", v.Shape, len(v.Data))
}

// SameSpatialShape reports whether two volumes share identical spatial
// dimensions. Image and label volumes of one sample must agree before any
// cropping or resizing is applied.
func SameSpatialShape(a, b *Volume) bool {
	as, bs := a.SpatialShape(), b.SpatialShape()
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
