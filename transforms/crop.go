package transforms

import (
	"fmt"
	"math/rand"

	"voxseg/volume"
)

// RandSpatialCrop extracts a fixed-size sub-volume at a uniformly random
// offset that keeps the crop fully inside the input. For paired image/label
// samples the same offset must be applied to both volumes; the paired dataset
// owns that invariant and uses SampleOffset plus CropAt directly.
type RandSpatialCrop struct {
	Size []int
	rng  *rand.Rand
}

// NewRandSpatialCrop creates a random crop to the given (X, Y, Z) size.
func NewRandSpatialCrop(size []int, rng *rand.Rand) (*RandSpatialCrop, error) {
	if len(size) != 3 {
		return nil, fmt.Errorf("crop size must have 3 dimensions, got %v", size)
	}
	for i, dim := range size {
		if dim <= 0 {
			return nil, fmt.Errorf("crop size dimension %d is %d, must be positive", i, dim)
		}
	}
	return &RandSpatialCrop{Size: append([]int(nil), size...), rng: rng}, nil
}

// SampleOffset draws a uniformly random crop offset valid for the given
// spatial shape.
func (c *RandSpatialCrop) SampleOffset(spatial []int) ([]int, error) {
	offset := make([]int, 3)
	for i := 0; i < 3; i++ {
		if c.Size[i] > spatial[i] {
			return nil, fmt.Errorf("crop size %v exceeds input spatial shape %v in dimension %d", c.Size, spatial, i)
		}
		if room := spatial[i] - c.Size[i]; room > 0 {
			offset[i] = c.rng.Intn(room + 1)
		}
	}
	return offset, nil
}

// CropAt extracts the sub-volume of the configured size at the given offset.
// Channel dimensions are preserved.
func (c *RandSpatialCrop) CropAt(v *volume.Volume, offset []int) (*volume.Volume, error) {
	spatial := v.SpatialShape()
	for i := 0; i < 3; i++ {
		if offset[i] < 0 || offset[i]+c.Size[i] > spatial[i] {
			return nil, fmt.Errorf("crop offset %v with size %v escapes input spatial shape %v", offset, c.Size, spatial)
		}
	}

	outShape := append([]int(nil), c.Size...)
	channels := 1
	if v.Rank() == 4 {
		channels = v.Shape[0]
		outShape = append([]int{channels}, outShape...)
	}
	out, err := volume.New(outShape...)
	if err != nil {
		return nil, err
	}
	out.Affine = v.Affine

	sy, sz := spatial[1], spatial[2]
	cx, cy, cz := c.Size[0], c.Size[1], c.Size[2]
	chanStrideIn := spatial[0] * sy * sz
	chanStrideOut := cx * cy * cz
	for ch := 0; ch < channels; ch++ {
		for x := 0; x < cx; x++ {
			for y := 0; y < cy; y++ {
				srcRow := ch*chanStrideIn + ((x+offset[0])*sy+(y+offset[1]))*sz + offset[2]
				dstRow := ch*chanStrideOut + (x*cy+y)*cz
				copy(out.Data[dstRow:dstRow+cz], v.Data[srcRow:srcRow+cz])
			}
		}
	}
	return out, nil
}

// Apply samples a fresh offset and crops. Paired samples should not use this
// entry point directly since each call draws its own offset.
func (c *RandSpatialCrop) Apply(v *volume.Volume) (*volume.Volume, error) {
	offset, err := c.SampleOffset(v.SpatialShape())
	if err != nil {
		return nil, err
	}
	return c.CropAt(v, offset)
}
