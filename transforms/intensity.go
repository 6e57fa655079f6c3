package transforms

import (
	"voxseg/volume"

	"gonum.org/v1/gonum/floats"
)

// ScaleIntensity linearly rescales voxel values to [Min, Max] based on the
// input's own range. A constant volume maps to Min everywhere; there is no
// division by zero.
type ScaleIntensity struct {
	Min float64
	Max float64
}

// NewScaleIntensity creates an intensity rescale to [0, 1].
func NewScaleIntensity() *ScaleIntensity {
	return &ScaleIntensity{Min: 0, Max: 1}
}

// Apply rescales the volume into the configured range.
func (s *ScaleIntensity) Apply(v *volume.Volume) (*volume.Volume, error) {
	out := v.Clone()
	lo := floats.Min(out.Data)
	hi := floats.Max(out.Data)
	span := hi - lo
	if span == 0 {
		for i := range out.Data {
			out.Data[i] = s.Min
		}
		return out, nil
	}
	floats.AddConst(-lo, out.Data)
	floats.Scale((s.Max-s.Min)/span, out.Data)
	if s.Min != 0 {
		floats.AddConst(s.Min, out.Data)
	}
	return out, nil
}
