package volume

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// GeneratorConfig controls synthetic segmentation pair generation.
type GeneratorConfig struct {
	NumObjects int     // number of spheres placed in the label volume
	MinRadius  int     // minimum sphere radius in voxels
	MaxRadius  int     // maximum sphere radius in voxels
	NoiseMax   float64 // amplitude of uniform background noise added to the image
	NumClasses int     // number of segmentation classes (label values 1..NumClasses)
}

// DefaultGeneratorConfig returns generation parameters suitable for small
// demo volumes.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		NumObjects: 12,
		MinRadius:  3,
		MaxRadius:  6,
		NoiseMax:   0.2,
		NumClasses: 1,
	}
}

// GenerateSegmentationPair produces a paired image and label volume of shape
// (x, y, z). The label volume contains randomly placed spheres with values in
// 1..NumClasses; the image volume contains the same spheres with per-voxel
// intensity variation plus background noise, rescaled to [0, 1]. Each call is
// independent and draws only from rng.
func GenerateSegmentationPair(x, y, z int, cfg GeneratorConfig, rng *rand.Rand) (*Volume, *Volume, error) {
	if x <= 0 || y <= 0 || z <= 0 {
		return nil, nil, fmt.Errorf("invalid volume dimensions (%d, %d, %d): all must be positive", x, y, z)
	}
	if cfg.MinRadius <= 0 || cfg.MaxRadius < cfg.MinRadius {
		return nil, nil, fmt.Errorf("invalid radius range [%d, %d]", cfg.MinRadius, cfg.MaxRadius)
	}
	if cfg.NumClasses <= 0 {
		return nil, nil, fmt.Errorf("number of classes must be positive, got %d", cfg.NumClasses)
	}

	label, err := New(x, y, z)
	if err != nil {
		return nil, nil, err
	}
	image, err := New(x, y, z)
	if err != nil {
		return nil, nil, err
	}

	for obj := 0; obj < cfg.NumObjects; obj++ {
		radius := cfg.MinRadius
		if cfg.MaxRadius > cfg.MinRadius {
			radius += rng.Intn(cfg.MaxRadius - cfg.MinRadius + 1)
		}
		// Keep the whole sphere inside the volume when it fits; degrade to a
		// centered placement for volumes smaller than the sphere.
		cx := placeCenter(x, radius, rng)
		cy := placeCenter(y, radius, rng)
		cz := placeCenter(z, radius, rng)
		class := float64(1 + rng.Intn(cfg.NumClasses))
		foreground := 0.5 + 0.5*rng.Float64()

		r2 := float64(radius * radius)
		for zz := max(0, cz-radius); zz <= min(z-1, cz+radius); zz++ {
			for yy := max(0, cy-radius); yy <= min(y-1, cy+radius); yy++ {
				for xx := max(0, cx-radius); xx <= min(x-1, cx+radius); xx++ {
					dx, dy, dz := float64(xx-cx), float64(yy-cy), float64(zz-cz)
					if dx*dx+dy*dy+dz*dz <= r2 {
						label.Set(xx, yy, zz, class)
						image.Set(xx, yy, zz, foreground)
					}
				}
			}
		}
	}

	// Background noise over the whole image, then rescale to [0, 1].
	for i := range image.Data {
		image.Data[i] += cfg.NoiseMax * rng.Float64()
	}
	lo := floats.Min(image.Data)
	hi := floats.Max(image.Data)
	if span := hi - lo; span > 0 {
		floats.AddConst(-lo, image.Data)
		floats.Scale(1/span, image.Data)
	}

	return image, label, nil
}

func placeCenter(dim, radius int, rng *rand.Rand) int {
	lo, hi := radius, dim-1-radius
	if hi <= lo {
		return dim / 2
	}
	return lo + rng.Intn(hi-lo+1)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Binarize returns a copy of the volume with every non-zero voxel set to one.
// Useful for single-class training targets generated with NumClasses > 1.
func Binarize(v *Volume) *Volume {
	out := v.Clone()
	for i, val := range out.Data {
		if math.Abs(val) > 0 {
			out.Data[i] = 1
		}
	}
	return out
}
