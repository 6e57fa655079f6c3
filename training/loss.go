package training

import (
	"fmt"
	"math"

	"voxseg/tensor"
)

// Loss scores model output against targets and produces the gradient with
// respect to the raw logits.
type Loss interface {
	// Forward computes the scalar loss for a batch of logits and targets.
	Forward(logits, targets *tensor.Tensor) (float64, error)

	// Backward returns the gradient of the last Forward with respect to
	// the logits.
	Backward() (*tensor.Tensor, error)
}

// DiceLoss is the soft Dice loss over sigmoid probabilities, averaged across
// the batch. Each sample contributes
//
//	1 - (2*sum(p*t) + smooth) / (sum(p) + sum(t) + smooth)
//
// with sums taken over all channels and voxels of the sample.
type DiceLoss struct {
	Smooth float64

	probs   []float64
	targets []float64
	shape   []int
}

// NewDiceLoss creates the loss with the conventional smoothing term.
func NewDiceLoss() *DiceLoss {
	return &DiceLoss{Smooth: 1e-5}
}

// Forward computes the batch-mean soft Dice loss. Logits and targets must
// share a [N, C, X, Y, Z] shape; targets are expected in [0, 1].
func (d *DiceLoss) Forward(logits, targets *tensor.Tensor) (float64, error) {
	if len(logits.Shape) != 5 {
		return 0, fmt.Errorf("dice loss expects 5D logits [N, C, X, Y, Z], got shape %v", logits.Shape)
	}
	if !tensor.ShapesEqual(logits.Shape, targets.Shape) {
		return 0, fmt.Errorf("dice loss shape mismatch: logits %v, targets %v", logits.Shape, targets.Shape)
	}

	n := logits.Shape[0]
	perSample := logits.NumElems / n

	d.shape = logits.Shape
	d.probs = make([]float64, logits.NumElems)
	d.targets = make([]float64, logits.NumElems)
	for i, v := range logits.Data {
		d.probs[i] = sigmoid(float64(v))
		d.targets[i] = float64(targets.Data[i])
	}

	var total float64
	for s := 0; s < n; s++ {
		base := s * perSample
		var intersection, sumP, sumT float64
		for i := base; i < base+perSample; i++ {
			intersection += d.probs[i] * d.targets[i]
			sumP += d.probs[i]
			sumT += d.targets[i]
		}
		total += 1 - (2*intersection+d.Smooth)/(sumP+sumT+d.Smooth)
	}
	return total / float64(n), nil
}

// Backward returns the gradient of the batch-mean loss with respect to the
// logits cached by the last Forward.
func (d *DiceLoss) Backward() (*tensor.Tensor, error) {
	if d.probs == nil {
		return nil, fmt.Errorf("dice loss backward called before forward")
	}

	grad, err := tensor.Zeros(d.shape)
	if err != nil {
		return nil, err
	}

	n := d.shape[0]
	perSample := len(d.probs) / n
	for s := 0; s < n; s++ {
		base := s * perSample
		var intersection, sumP, sumT float64
		for i := base; i < base+perSample; i++ {
			intersection += d.probs[i] * d.targets[i]
			sumP += d.probs[i]
			sumT += d.targets[i]
		}
		denom := sumP + sumT + d.Smooth
		numer := 2*intersection + d.Smooth

		for i := base; i < base+perSample; i++ {
			p := d.probs[i]
			t := d.targets[i]
			// d(loss_s)/dp, then chained through the sigmoid and the
			// batch mean.
			dLdp := (numer - 2*t*denom) / (denom * denom)
			grad.Data[i] = float32(dLdp * p * (1 - p) / float64(n))
		}
	}
	return grad, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
