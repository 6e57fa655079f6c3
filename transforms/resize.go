package transforms

import (
	"fmt"
	"math"

	"voxseg/volume"
)

// Resize interpolates a volume to an exact target spatial shape using
// trilinear interpolation. It is fully deterministic, which keeps validation
// results reproducible run to run for a fixed model.
type Resize struct {
	Size []int
}

// NewResize creates a deterministic resize to the given (X, Y, Z) shape.
func NewResize(size []int) (*Resize, error) {
	if len(size) != 3 {
		return nil, fmt.Errorf("resize target must have 3 dimensions, got %v", size)
	}
	for i, dim := range size {
		if dim <= 0 {
			return nil, fmt.Errorf("resize target dimension %d is %d, must be positive", i, dim)
		}
	}
	return &Resize{Size: append([]int(nil), size...)}, nil
}

// Apply resamples the volume to the target shape.
func (r *Resize) Apply(v *volume.Volume) (*volume.Volume, error) {
	spatial := v.SpatialShape()
	outShape := append([]int(nil), r.Size...)
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

	sx, sy, sz := spatial[0], spatial[1], spatial[2]
	tx, ty, tz := r.Size[0], r.Size[1], r.Size[2]
	chanStrideIn := sx * sy * sz
	chanStrideOut := tx * ty * tz

	scaleX := scaleFactor(sx, tx)
	scaleY := scaleFactor(sy, ty)
	scaleZ := scaleFactor(sz, tz)

	for ch := 0; ch < channels; ch++ {
		src := v.Data[ch*chanStrideIn : (ch+1)*chanStrideIn]
		dst := out.Data[ch*chanStrideOut : (ch+1)*chanStrideOut]
		for x := 0; x < tx; x++ {
			fx := float64(x) * scaleX
			x0, x1, wx := lerpCoords(fx, sx)
			for y := 0; y < ty; y++ {
				fy := float64(y) * scaleY
				y0, y1, wy := lerpCoords(fy, sy)
				for z := 0; z < tz; z++ {
					fz := float64(z) * scaleZ
					z0, z1, wz := lerpCoords(fz, sz)

					c000 := src[(x0*sy+y0)*sz+z0]
					c100 := src[(x1*sy+y0)*sz+z0]
					c010 := src[(x0*sy+y1)*sz+z0]
					c110 := src[(x1*sy+y1)*sz+z0]
					c001 := src[(x0*sy+y0)*sz+z1]
					c101 := src[(x1*sy+y0)*sz+z1]
					c011 := src[(x0*sy+y1)*sz+z1]
					c111 := src[(x1*sy+y1)*sz+z1]

					c00 := c000*(1-wx) + c100*wx
					c10 := c010*(1-wx) + c110*wx
					c01 := c001*(1-wx) + c101*wx
					c11 := c011*(1-wx) + c111*wx
					c0 := c00*(1-wy) + c10*wy
					c1 := c01*(1-wy) + c11*wy
					dst[(x*ty+y)*tz+z] = c0*(1-wz) + c1*wz
				}
			}
		}
	}
	return out, nil
}

func scaleFactor(src, dst int) float64 {
	if dst <= 1 {
		return 0
	}
	return float64(src-1) / float64(dst-1)
}

func lerpCoords(f float64, size int) (lo, hi int, w float64) {
	lo = int(math.Floor(f))
	if lo >= size-1 {
		return size - 1, size - 1, 0
	}
	return lo, lo + 1, f - float64(lo)
}
