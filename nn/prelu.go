package nn

import (
	"fmt"

	"voxseg/tensor"
)

// PReLU is a parametric rectified linear activation with a single learnable
// negative slope shared across all channels.
type PReLU struct {
	alpha *tensor.Tensor

	lastInput *tensor.Tensor
}

// NewPReLU creates the activation with the conventional initial slope 0.25.
func NewPReLU() *PReLU {
	alpha, _ := tensor.New([]int{1}, []float32{0.25})
	alpha.SetRequiresGrad(true)
	return &PReLU{alpha: alpha}
}

// Forward applies max(0, x) + alpha*min(0, x) elementwise.
func (p *PReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	a := p.alpha.Data[0]
	out, err := tensor.Zeros(input.Shape)
	if err != nil {
		return nil, err
	}
	for i, x := range input.Data {
		if x > 0 {
			out.Data[i] = x
		} else {
			out.Data[i] = a * x
		}
	}
	p.lastInput = input
	return out, nil
}

// Backward routes the gradient through the activation and accumulates the
// slope gradient.
func (p *PReLU) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if p.lastInput == nil {
		return nil, fmt.Errorf("prelu backward called before forward")
	}
	if !tensor.ShapesEqual(gradOutput.Shape, p.lastInput.Shape) {
		return nil, fmt.Errorf("prelu backward shape mismatch: expected %v, got %v",
			p.lastInput.Shape, gradOutput.Shape)
	}
	a := p.alpha.Data[0]
	gradInput, err := tensor.Zeros(p.lastInput.Shape)
	if err != nil {
		return nil, err
	}
	var gradAlpha float32
	for i, x := range p.lastInput.Data {
		g := gradOutput.Data[i]
		if x > 0 {
			gradInput.Data[i] = g
		} else {
			gradInput.Data[i] = a * g
			gradAlpha += g * x
		}
	}
	p.alpha.Grad[0] += gradAlpha
	return gradInput, nil
}

// Parameters returns the learnable slope.
func (p *PReLU) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{p.alpha}
}
