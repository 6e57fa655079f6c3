package training

import (
	"math"
	"testing"

	"voxseg/tensor"
)

func logitsFor(t *testing.T, targets []float32, magnitude float32) *tensor.Tensor {
	t.Helper()
	data := make([]float32, len(targets))
	for i, v := range targets {
		if v >= 0.5 {
			data[i] = magnitude
		} else {
			data[i] = -magnitude
		}
	}
	logits, err := tensor.New([]int{1, 1, 2, 2, 2}, data)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	return logits
}

func TestDiceLossPerfectPredictionNearZero(t *testing.T) {
	targetData := []float32{1, 0, 1, 0, 1, 0, 0, 1}
	targets, _ := tensor.New([]int{1, 1, 2, 2, 2}, targetData)
	logits := logitsFor(t, targetData, 20)

	loss := NewDiceLoss()
	val, err := loss.Forward(logits, targets)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if val > 0.01 {
		t.Errorf("expected near-zero loss for perfect prediction, got %.4f", val)
	}
}

func TestDiceLossDisjointPredictionNearOne(t *testing.T) {
	targetData := []float32{1, 1, 1, 1, 0, 0, 0, 0}
	inverted := []float32{0, 0, 0, 0, 1, 1, 1, 1}
	targets, _ := tensor.New([]int{1, 1, 2, 2, 2}, targetData)
	logits := logitsFor(t, inverted, 20)

	loss := NewDiceLoss()
	val, err := loss.Forward(logits, targets)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if val < 0.99 {
		t.Errorf("expected near-one loss for disjoint prediction, got %.4f", val)
	}
}

func TestDiceLossShapeMismatch(t *testing.T) {
	logits, _ := tensor.Zeros([]int{1, 1, 2, 2, 2})
	targets, _ := tensor.Zeros([]int{1, 1, 2, 2, 4})
	loss := NewDiceLoss()
	if _, err := loss.Forward(logits, targets); err == nil {
		t.Error("expected error for shape mismatch, got nil")
	}
}

func TestDiceLossBackwardBeforeForward(t *testing.T) {
	loss := NewDiceLoss()
	if _, err := loss.Backward(); err == nil {
		t.Error("expected error for backward before forward, got nil")
	}
}

func TestDiceLossGradientMatchesFiniteDifference(t *testing.T) {
	logitData := []float32{0.5, -0.3, 1.2, -0.8, 0.1, 0.9, -1.5, 0.4}
	targetData := []float32{1, 0, 1, 0, 0, 1, 0, 1}
	logits, _ := tensor.New([]int{1, 1, 2, 2, 2}, logitData)
	targets, _ := tensor.New([]int{1, 1, 2, 2, 2}, targetData)

	loss := NewDiceLoss()
	if _, err := loss.Forward(logits, targets); err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	grad, err := loss.Backward()
	if err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	const eps = 1e-3
	for idx := range logitData {
		orig := logits.Data[idx]
		logits.Data[idx] = orig + eps
		plus, err := loss.Forward(logits, targets)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		logits.Data[idx] = orig - eps
		minus, err := loss.Forward(logits, targets)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		logits.Data[idx] = orig

		numeric := (plus - minus) / (2 * eps)
		if math.Abs(numeric-float64(grad.Data[idx])) > 1e-4 {
			t.Errorf("grad %d: numeric %.6f, analytic %.6f", idx, numeric, grad.Data[idx])
		}
	}
}

func TestMeanDiceScores(t *testing.T) {
	targetData := []float32{1, 0, 1, 0, 1, 0, 0, 1}
	targets, _ := tensor.New([]int{1, 1, 2, 2, 2}, targetData)

	metric := NewMeanDice()
	if err := metric.Update(logitsFor(t, targetData, 20), targets); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	score, err := metric.Compute()
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if math.Abs(score-1) > 1e-9 {
		t.Errorf("expected dice 1 for perfect prediction, got %.4f", score)
	}

	metric.Reset()
	inverted := []float32{0, 1, 0, 1, 0, 1, 1, 0}
	if err := metric.Update(logitsFor(t, inverted, 20), targets); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	score, err = metric.Compute()
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if score != 0 {
		t.Errorf("expected dice 0 for disjoint prediction, got %.4f", score)
	}
}

func TestMeanDiceEmptyPredictionAndTarget(t *testing.T) {
	zeros := []float32{0, 0, 0, 0, 0, 0, 0, 0}
	targets, _ := tensor.New([]int{1, 1, 2, 2, 2}, zeros)

	metric := NewMeanDice()
	if err := metric.Update(logitsFor(t, zeros, 20), targets); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	score, err := metric.Compute()
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if score != 1 {
		t.Errorf("expected dice 1 when both prediction and target are empty, got %.4f", score)
	}
}

func TestMeanDiceComputeWithoutSamples(t *testing.T) {
	metric := NewMeanDice()
	if _, err := metric.Compute(); err == nil {
		t.Error("expected error computing with no samples, got nil")
	}
}
