package nn

import (
	"fmt"

	"voxseg/tensor"
)

// ResidualUnit is two 3x3x3 convolutions with PReLU activations and a
// residual connection. When the channel counts differ the shortcut is a
// 1x1x1 projection convolution; otherwise it is the identity.
type ResidualUnit struct {
	conv1 *Conv3D
	act1  *PReLU
	conv2 *Conv3D
	actOut *PReLU
	proj  *Conv3D // nil for identity shortcut

	lastInput *tensor.Tensor
}

// NewResidualUnit creates a shape-preserving residual block mapping
// inChannels to outChannels.
func NewResidualUnit(inChannels, outChannels int) (*ResidualUnit, error) {
	conv1, err := NewConv3D(inChannels, outChannels, 3, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("residual unit conv1: %v", err)
	}
	conv2, err := NewConv3D(outChannels, outChannels, 3, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("residual unit conv2: %v", err)
	}
	unit := &ResidualUnit{
		conv1:  conv1,
		act1:   NewPReLU(),
		conv2:  conv2,
		actOut: NewPReLU(),
	}
	if inChannels != outChannels {
		proj, err := NewConv3D(inChannels, outChannels, 1, 1, 0)
		if err != nil {
			return nil, fmt.Errorf("residual unit projection: %v", err)
		}
		unit.proj = proj
	}
	return unit, nil
}

// Forward computes actOut(conv2(act1(conv1(x))) + shortcut(x)).
func (r *ResidualUnit) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := r.conv1.Forward(input)
	if err != nil {
		return nil, err
	}
	h, err = r.act1.Forward(h)
	if err != nil {
		return nil, err
	}
	h, err = r.conv2.Forward(h)
	if err != nil {
		return nil, err
	}

	shortcut := input
	if r.proj != nil {
		shortcut, err = r.proj.Forward(input)
		if err != nil {
			return nil, err
		}
	}
	if !tensor.ShapesEqual(h.Shape, shortcut.Shape) {
		return nil, fmt.Errorf("residual shape mismatch: main path %v, shortcut %v", h.Shape, shortcut.Shape)
	}
	sum := h.Clone()
	for i, v := range shortcut.Data {
		sum.Data[i] += v
	}

	r.lastInput = input
	return r.actOut.Forward(sum)
}

// Backward propagates through both branches and sums the input gradients.
func (r *ResidualUnit) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if r.lastInput == nil {
		return nil, fmt.Errorf("residual unit backward called before forward")
	}
	gradSum, err := r.actOut.Backward(gradOutput)
	if err != nil {
		return nil, err
	}

	gradMain, err := r.conv2.Backward(gradSum)
	if err != nil {
		return nil, err
	}
	gradMain, err = r.act1.Backward(gradMain)
	if err != nil {
		return nil, err
	}
	gradMain, err = r.conv1.Backward(gradMain)
	if err != nil {
		return nil, err
	}

	gradShort := gradSum
	if r.proj != nil {
		gradShort, err = r.proj.Backward(gradSum)
		if err != nil {
			return nil, err
		}
	}

	gradInput := gradMain.Clone()
	for i, v := range gradShort.Data {
		gradInput.Data[i] += v
	}
	return gradInput, nil
}

// Parameters returns all trainable tensors of the unit.
func (r *ResidualUnit) Parameters() []*tensor.Tensor {
	params := append([]*tensor.Tensor{}, r.conv1.Parameters()...)
	params = append(params, r.act1.Parameters()...)
	params = append(params, r.conv2.Parameters()...)
	params = append(params, r.actOut.Parameters()...)
	if r.proj != nil {
		params = append(params, r.proj.Parameters()...)
	}
	return params
}
