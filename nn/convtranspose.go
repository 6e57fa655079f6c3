package nn

import (
	"fmt"
	"math"

	"voxseg/tensor"
)

// ConvTranspose3D is a 3D transposed convolution used for decoder
// upsampling. Kernel equals stride with no padding, so each output spatial
// dimension is exactly the input dimension times the stride. Weight layout is
// [inC, outC, k, k, k].
type ConvTranspose3D struct {
	InChannels  int
	OutChannels int
	Stride      int

	weight *tensor.Tensor
	bias   *tensor.Tensor

	lastInput *tensor.Tensor
}

// NewConvTranspose3D creates an upsampling layer with Xavier-uniform weights.
func NewConvTranspose3D(inChannels, outChannels, stride int) (*ConvTranspose3D, error) {
	if inChannels <= 0 || outChannels <= 0 {
		return nil, fmt.Errorf("channel counts must be positive, got in=%d out=%d", inChannels, outChannels)
	}
	if stride <= 0 {
		return nil, fmt.Errorf("stride must be positive, got %d", stride)
	}

	k := stride
	fanIn := inChannels * k * k * k
	fanOut := outChannels * k * k * k
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	weightData := make([]float32, inChannels*outChannels*k*k*k)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}
	weight, err := tensor.New([]int{inChannels, outChannels, k, k, k}, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create transposed conv weight: %v", err)
	}
	weight.SetRequiresGrad(true)

	bias, err := tensor.Zeros([]int{outChannels})
	if err != nil {
		return nil, fmt.Errorf("failed to create transposed conv bias: %v", err)
	}
	bias.SetRequiresGrad(true)

	return &ConvTranspose3D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		Stride:      stride,
		weight:      weight,
		bias:        bias,
	}, nil
}

// Forward scatters each input voxel through the kernel into a stride-scaled
// output. Input must be [N, InChannels, X, Y, Z].
func (c *ConvTranspose3D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 5 {
		return nil, fmt.Errorf("transposed conv3d expects 5D input [N, C, X, Y, Z], got shape %v", input.Shape)
	}
	if input.Shape[1] != c.InChannels {
		return nil, fmt.Errorf("transposed conv3d channel mismatch: expected %d, got %d", c.InChannels, input.Shape[1])
	}

	n := input.Shape[0]
	ix, iy, iz := input.Shape[2], input.Shape[3], input.Shape[4]
	k := c.Stride
	ox, oy, oz := ix*k, iy*k, iz*k

	output, err := tensor.Zeros([]int{n, c.OutChannels, ox, oy, oz})
	if err != nil {
		return nil, err
	}

	w := c.weight.Data
	b := c.bias.Data
	in := input.Data
	out := output.Data

	inChanStride := ix * iy * iz
	inSampleStride := c.InChannels * inChanStride
	outChanStride := ox * oy * oz
	outSampleStride := c.OutChannels * outChanStride
	wInStride := c.OutChannels * k * k * k

	for s := 0; s < n; s++ {
		for oc := 0; oc < c.OutChannels; oc++ {
			outBase := s*outSampleStride + oc*outChanStride
			for i := 0; i < outChanStride; i++ {
				out[outBase+i] = b[oc]
			}
		}
		for ic := 0; ic < c.InChannels; ic++ {
			inBase := s*inSampleStride + ic*inChanStride
			for x := 0; x < ix; x++ {
				for y := 0; y < iy; y++ {
					for z := 0; z < iz; z++ {
						val := in[inBase+(x*iy+y)*iz+z]
						if val == 0 {
							continue
						}
						for oc := 0; oc < c.OutChannels; oc++ {
							outBase := s*outSampleStride + oc*outChanStride
							wBase := ic*wInStride + oc*k*k*k
							for kx := 0; kx < k; kx++ {
								for ky := 0; ky < k; ky++ {
									for kz := 0; kz < k; kz++ {
										outIdx := outBase + ((x*k+kx)*oy+(y*k+ky))*oz + (z*k + kz)
										out[outIdx] += val * w[wBase+(kx*k+ky)*k+kz]
									}
								}
							}
						}
					}
				}
			}
		}
	}

	c.lastInput = input
	return output, nil
}

// Backward accumulates parameter gradients and returns the input gradient.
func (c *ConvTranspose3D) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if c.lastInput == nil {
		return nil, fmt.Errorf("transposed conv3d backward called before forward")
	}
	input := c.lastInput

	n := input.Shape[0]
	ix, iy, iz := input.Shape[2], input.Shape[3], input.Shape[4]
	k := c.Stride
	ox, oy, oz := ix*k, iy*k, iz*k
	wantShape := []int{n, c.OutChannels, ox, oy, oz}
	if !tensor.ShapesEqual(gradOutput.Shape, wantShape) {
		return nil, fmt.Errorf("transposed conv3d backward shape mismatch: expected %v, got %v", wantShape, gradOutput.Shape)
	}

	gradInput, err := tensor.Zeros(input.Shape)
	if err != nil {
		return nil, err
	}

	w := c.weight.Data
	gw := c.weight.Grad
	gb := c.bias.Grad
	in := input.Data
	gin := gradInput.Data
	gout := gradOutput.Data

	inChanStride := ix * iy * iz
	inSampleStride := c.InChannels * inChanStride
	outChanStride := ox * oy * oz
	outSampleStride := c.OutChannels * outChanStride
	wInStride := c.OutChannels * k * k * k

	for s := 0; s < n; s++ {
		for oc := 0; oc < c.OutChannels; oc++ {
			outBase := s*outSampleStride + oc*outChanStride
			for i := 0; i < outChanStride; i++ {
				gb[oc] += gout[outBase+i]
			}
		}
		for ic := 0; ic < c.InChannels; ic++ {
			inBase := s*inSampleStride + ic*inChanStride
			for x := 0; x < ix; x++ {
				for y := 0; y < iy; y++ {
					for z := 0; z < iz; z++ {
						inIdx := inBase + (x*iy+y)*iz + z
						val := in[inIdx]
						var acc float32
						for oc := 0; oc < c.OutChannels; oc++ {
							outBase := s*outSampleStride + oc*outChanStride
							wBase := ic*wInStride + oc*k*k*k
							for kx := 0; kx < k; kx++ {
								for ky := 0; ky < k; ky++ {
									for kz := 0; kz < k; kz++ {
										outIdx := outBase + ((x*k+kx)*oy+(y*k+ky))*oz + (z*k + kz)
										g := gout[outIdx]
										wIdx := wBase + (kx*k+ky)*k + kz
										acc += g * w[wIdx]
										gw[wIdx] += g * val
									}
								}
							}
						}
						gin[inIdx] = acc
					}
				}
			}
		}
	}

	return gradInput, nil
}

// Parameters returns the weight and bias tensors.
func (c *ConvTranspose3D) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{c.weight, c.bias}
}
