// Package transforms provides the per-sample volume transform pipeline:
// intensity scaling, channel insertion, random cropping, deterministic
// resizing and tensor conversion. Transforms are pure volume-to-volume
// functions except where explicitly stochastic; shape mismatches fail fast
// and are never silently padded or truncated.
package transforms

import (
	"fmt"

	"voxseg/volume"
)

// Transform is a unary volume operation producing a new volume. Inputs are
// never modified in place.
type Transform interface {
	Apply(v *volume.Volume) (*volume.Volume, error)
}

// Compose applies a sequence of transforms left to right.
type Compose struct {
	transforms []Transform
}

// NewCompose builds a pipeline from the given transforms.
func NewCompose(transforms ...Transform) *Compose {
	return &Compose{transforms: transforms}
}

// Apply runs every transform in order, stopping at the first error.
func (c *Compose) Apply(v *volume.Volume) (*volume.Volume, error) {
	out := v
	var err error
	for i, tf := range c.transforms {
		out, err = tf.Apply(out)
		if err != nil {
			return nil, fmt.Errorf("transform %d failed: %v", i, err)
		}
	}
	return out, nil
}
