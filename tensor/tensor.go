// Package tensor provides the CPU float32 tensor underlying model inputs,
// activations and parameters. Gradients live alongside the data buffer and
// are filled in by explicit per-layer backward passes.
package tensor

import (
	"fmt"
)

// Tensor is a dense row-major float32 array. Grad, when allocated, always has
// the same length as Data.
type Tensor struct {
	Shape        []int
	Strides      []int
	Data         []float32
	Grad         []float32
	NumElems     int
	requiresGrad bool
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("shape must have at least one dimension")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

// New creates a tensor with the given shape backed by data. The data length
// must match the shape's element count exactly.
func New(shape []int, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: n,
	}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := calculateNumElements(shape)
	return New(shape, make([]float32, n))
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

// RequiresGrad reports whether this tensor participates in gradient updates.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad marks the tensor as a trainable parameter and allocates its
// gradient buffer.
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
	if requires && t.Grad == nil {
		t.Grad = make([]float32, t.NumElems)
	}
}

// ZeroGrad clears the gradient buffer if one is allocated.
func (t *Tensor) ZeroGrad() {
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// Clone returns a deep copy of the tensor's data. Gradients are not copied.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	out, _ := New(t.Shape, data)
	return out
}

// Reshape returns a view-copy of the tensor with a new shape holding the same
// number of elements.
func (t *Tensor) Reshape(shape []int) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if calculateNumElements(shape) != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.Shape, t.NumElems, shape)
	}
	return New(shape, t.Data)
}

// Item returns the single element of a scalar tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a scalar tensor, got shape %v", t.Shape)
	}
	return t.Data[0], nil
}

// ShapesEqual reports whether two shapes are identical.
func ShapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Stack concatenates tensors of identical shape along a new leading
// dimension, producing a batch.
func Stack(tensors []*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("cannot stack zero tensors")
	}
	base := tensors[0].Shape
	for i, t := range tensors[1:] {
		if !ShapesEqual(t.Shape, base) {
			return nil, fmt.Errorf("stack shape mismatch: tensor 0 is %v, tensor %d is %v", base, i+1, t.Shape)
		}
	}
	outShape := append([]int{len(tensors)}, base...)
	data := make([]float32, len(tensors)*tensors[0].NumElems)
	for i, t := range tensors {
		copy(data[i*t.NumElems:(i+1)*t.NumElems], t.Data)
	}
	return New(outShape, data)
}
