package transforms

import (
	"voxseg/tensor"
	"voxseg/volume"
)

// ToTensor adapts a volume's float64 voxel buffer to the float32 tensor
// representation the model consumes. Values are converted, never reordered or
// rescaled.
func ToTensor(v *volume.Volume) (*tensor.Tensor, error) {
	data := make([]float32, len(v.Data))
	for i, val := range v.Data {
		data[i] = float32(val)
	}
	return tensor.New(v.Shape, data)
}
