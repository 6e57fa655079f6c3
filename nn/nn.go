// Package nn implements the segmentation model: 3D convolution layers with
// hand-written backward passes, residual units and the multi-resolution
// encoder-decoder (UNet) assembling them. All compute is plain CPU float32.
package nn

import (
	"math/rand"

	"voxseg/tensor"
)

// Global random source for deterministic weight initialization.
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight
// initialization.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// Layer is one differentiable stage of the network. Forward caches whatever
// the matching Backward call needs; Backward consumes the gradient with
// respect to the layer's output, accumulates parameter gradients and returns
// the gradient with respect to the input. Layers are used by a single engine
// at a time, never concurrently.
type Layer interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
}

// Model is the contract the training and evaluation engines drive: a forward
// pass producing raw logits, the mirrored backward pass, and access to
// trainable parameters.
type Model interface {
	Layer
	NamedParameters() []NamedParameter
}

// NamedParameter pairs a parameter tensor with a stable name used by
// checkpoint serialization.
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}
