package training

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"voxseg/tensor"
)

// Metric accumulates a score over evaluation batches.
type Metric interface {
	// Update folds one batch of logits and targets into the running score.
	Update(logits, targets *tensor.Tensor) error

	// Compute returns the aggregate score over everything seen since the
	// last Reset.
	Compute() (float64, error)

	// Reset clears the accumulated state.
	Reset()
}

// MeanDice is the mean per-sample Dice overlap of thresholded predictions
// against binary targets.
type MeanDice struct {
	Threshold float64

	scores []float64
}

// NewMeanDice creates the metric with the standard 0.5 sigmoid threshold.
func NewMeanDice() *MeanDice {
	return &MeanDice{Threshold: 0.5}
}

// Update binarizes the sigmoid probabilities at the threshold and records one
// Dice score per sample. A sample where prediction and target are both empty
// scores 1.
func (m *MeanDice) Update(logits, targets *tensor.Tensor) error {
	if len(logits.Shape) != 5 {
		return fmt.Errorf("mean dice expects 5D logits [N, C, X, Y, Z], got shape %v", logits.Shape)
	}
	if !tensor.ShapesEqual(logits.Shape, targets.Shape) {
		return fmt.Errorf("mean dice shape mismatch: logits %v, targets %v", logits.Shape, targets.Shape)
	}

	n := logits.Shape[0]
	perSample := logits.NumElems / n
	for s := 0; s < n; s++ {
		base := s * perSample
		var intersection, sumP, sumT float64
		for i := base; i < base+perSample; i++ {
			p := 0.0
			if sigmoid(float64(logits.Data[i])) >= m.Threshold {
				p = 1.0
			}
			t := 0.0
			if targets.Data[i] >= 0.5 {
				t = 1.0
			}
			intersection += p * t
			sumP += p
			sumT += t
		}
		if sumP+sumT == 0 {
			m.scores = append(m.scores, 1.0)
		} else {
			m.scores = append(m.scores, 2*intersection/(sumP+sumT))
		}
	}
	return nil
}

// Compute returns the mean of all per-sample scores.
func (m *MeanDice) Compute() (float64, error) {
	if len(m.scores) == 0 {
		return 0, fmt.Errorf("mean dice computed with no accumulated samples")
	}
	return stat.Mean(m.scores, nil), nil
}

// Reset clears the accumulated scores.
func (m *MeanDice) Reset() {
	m.scores = m.scores[:0]
}
