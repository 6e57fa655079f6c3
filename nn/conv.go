package nn

import (
	"fmt"
	"math"

	"voxseg/tensor"
)

// Conv3D is a 3D convolution over [N, C, X, Y, Z] input with cubic kernels,
// uniform stride and symmetric zero padding. Weight layout is
// [outC, inC, k, k, k].
type Conv3D struct {
	InChannels  int
	OutChannels int
	Kernel      int
	Stride      int
	Padding     int

	weight *tensor.Tensor
	bias   *tensor.Tensor

	lastInput *tensor.Tensor
}

// NewConv3D creates a convolution layer with Xavier-uniform weights and zero
// bias.
func NewConv3D(inChannels, outChannels, kernel, stride, padding int) (*Conv3D, error) {
	if inChannels <= 0 || outChannels <= 0 {
		return nil, fmt.Errorf("channel counts must be positive, got in=%d out=%d", inChannels, outChannels)
	}
	if kernel <= 0 || stride <= 0 || padding < 0 {
		return nil, fmt.Errorf("invalid conv config: kernel=%d stride=%d padding=%d", kernel, stride, padding)
	}

	fanIn := inChannels * kernel * kernel * kernel
	fanOut := outChannels * kernel * kernel * kernel
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	weightData := make([]float32, outChannels*fanIn)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}
	weight, err := tensor.New([]int{outChannels, inChannels, kernel, kernel, kernel}, weightData)
	if err != nil {
		return nil, fmt.Errorf("failed to create conv weight: %v", err)
	}
	weight.SetRequiresGrad(true)

	bias, err := tensor.Zeros([]int{outChannels})
	if err != nil {
		return nil, fmt.Errorf("failed to create conv bias: %v", err)
	}
	bias.SetRequiresGrad(true)

	return &Conv3D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		Kernel:      kernel,
		Stride:      stride,
		Padding:     padding,
		weight:      weight,
		bias:        bias,
	}, nil
}

func (c *Conv3D) outDim(in int) int {
	return (in+2*c.Padding-c.Kernel)/c.Stride + 1
}

// Forward computes the convolution. Input must be [N, InChannels, X, Y, Z].
func (c *Conv3D) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 5 {
		return nil, fmt.Errorf("conv3d expects 5D input [N, C, X, Y, Z], got shape %v", input.Shape)
	}
	if input.Shape[1] != c.InChannels {
		return nil, fmt.Errorf("conv3d channel mismatch: expected %d, got %d", c.InChannels, input.Shape[1])
	}

	n := input.Shape[0]
	ix, iy, iz := input.Shape[2], input.Shape[3], input.Shape[4]
	ox, oy, oz := c.outDim(ix), c.outDim(iy), c.outDim(iz)
	if ox <= 0 || oy <= 0 || oz <= 0 {
		return nil, fmt.Errorf("conv3d output would be empty for input spatial shape (%d, %d, %d)", ix, iy, iz)
	}

	output, err := tensor.Zeros([]int{n, c.OutChannels, ox, oy, oz})
	if err != nil {
		return nil, err
	}

	w := c.weight.Data
	b := c.bias.Data
	in := input.Data
	out := output.Data
	k := c.Kernel

	inChanStride := ix * iy * iz
	inSampleStride := c.InChannels * inChanStride
	outChanStride := ox * oy * oz
	outSampleStride := c.OutChannels * outChanStride
	wOutStride := c.InChannels * k * k * k

	for s := 0; s < n; s++ {
		for oc := 0; oc < c.OutChannels; oc++ {
			wOut := oc * wOutStride
			outBase := s*outSampleStride + oc*outChanStride
			for x := 0; x < ox; x++ {
				for y := 0; y < oy; y++ {
					for z := 0; z < oz; z++ {
						sum := b[oc]
						x0 := x*c.Stride - c.Padding
						y0 := y*c.Stride - c.Padding
						z0 := z*c.Stride - c.Padding
						for ic := 0; ic < c.InChannels; ic++ {
							inBase := s*inSampleStride + ic*inChanStride
							wBase := wOut + ic*k*k*k
							for kx := 0; kx < k; kx++ {
								px := x0 + kx
								if px < 0 || px >= ix {
									continue
								}
								for ky := 0; ky < k; ky++ {
									py := y0 + ky
									if py < 0 || py >= iy {
										continue
									}
									for kz := 0; kz < k; kz++ {
										pz := z0 + kz
										if pz < 0 || pz >= iz {
											continue
										}
										sum += in[inBase+(px*iy+py)*iz+pz] * w[wBase+(kx*k+ky)*k+kz]
									}
								}
							}
						}
						out[outBase+(x*oy+y)*oz+z] = sum
					}
				}
			}
		}
	}

	c.lastInput = input
	return output, nil
}

// Backward accumulates weight and bias gradients and returns the gradient
// with respect to the cached input.
func (c *Conv3D) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if c.lastInput == nil {
		return nil, fmt.Errorf("conv3d backward called before forward")
	}
	input := c.lastInput

	n := input.Shape[0]
	ix, iy, iz := input.Shape[2], input.Shape[3], input.Shape[4]
	ox, oy, oz := c.outDim(ix), c.outDim(iy), c.outDim(iz)
	wantShape := []int{n, c.OutChannels, ox, oy, oz}
	if !tensor.ShapesEqual(gradOutput.Shape, wantShape) {
		return nil, fmt.Errorf("conv3d backward shape mismatch: expected %v, got %v", wantShape, gradOutput.Shape)
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
	k := c.Kernel

	inChanStride := ix * iy * iz
	inSampleStride := c.InChannels * inChanStride
	outChanStride := ox * oy * oz
	outSampleStride := c.OutChannels * outChanStride
	wOutStride := c.InChannels * k * k * k

	for s := 0; s < n; s++ {
		for oc := 0; oc < c.OutChannels; oc++ {
			wOut := oc * wOutStride
			outBase := s*outSampleStride + oc*outChanStride
			for x := 0; x < ox; x++ {
				for y := 0; y < oy; y++ {
					for z := 0; z < oz; z++ {
						g := gout[outBase+(x*oy+y)*oz+z]
						if g == 0 {
							continue
						}
						gb[oc] += g
						x0 := x*c.Stride - c.Padding
						y0 := y*c.Stride - c.Padding
						z0 := z*c.Stride - c.Padding
						for ic := 0; ic < c.InChannels; ic++ {
							inBase := s*inSampleStride + ic*inChanStride
							wBase := wOut + ic*k*k*k
							for kx := 0; kx < k; kx++ {
								px := x0 + kx
								if px < 0 || px >= ix {
									continue
								}
								for ky := 0; ky < k; ky++ {
									py := y0 + ky
									if py < 0 || py >= iy {
										continue
									}
									for kz := 0; kz < k; kz++ {
										pz := z0 + kz
										if pz < 0 || pz >= iz {
											continue
										}
										inIdx := inBase + (px*iy+py)*iz + pz
										wIdx := wBase + (kx*k+ky)*k + kz
										gw[wIdx] += g * in[inIdx]
										gin[inIdx] += g * w[wIdx]
									}
								}
							}
						}
					}
				}
			}
		}
	}

	return gradInput, nil
}

// Parameters returns the weight and bias tensors.
func (c *Conv3D) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{c.weight, c.bias}
}
