package tensor

import (
	"testing"
)

func TestNewValidation(t *testing.T) {
	if _, err := New([]int{2, 3}, make([]float32, 5)); err == nil {
		t.Error("expected error for mismatched data length")
	}
	if _, err := New([]int{2, 0}, nil); err == nil {
		t.Error("expected error for zero dimension")
	}
	if _, err := New([]int{}, nil); err == nil {
		t.Error("expected error for empty shape")
	}

	tt, err := New([]int{2, 3, 4}, make([]float32, 24))
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	if tt.NumElems != 24 {
		t.Errorf("expected 24 elements, got %d", tt.NumElems)
	}
	wantStrides := []int{12, 4, 1}
	if !ShapesEqual(tt.Strides, wantStrides) {
		t.Errorf("expected strides %v, got %v", wantStrides, tt.Strides)
	}
}

func TestReshape(t *testing.T) {
	tt, err := New([]int{2, 6}, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	r, err := tt.Reshape([]int{3, 4})
	if err != nil {
		t.Fatalf("reshape failed: %v", err)
	}
	if r.Data[7] != 7 {
		t.Errorf("reshape must preserve element order, got %g at index 7", r.Data[7])
	}
	if _, err := tt.Reshape([]int{5, 5}); err == nil {
		t.Error("expected error reshaping to incompatible element count")
	}
}

func TestRequiresGradAllocatesBuffer(t *testing.T) {
	tt, err := Zeros([]int{3})
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	if tt.Grad != nil {
		t.Error("grad buffer should not exist before SetRequiresGrad")
	}
	tt.SetRequiresGrad(true)
	if len(tt.Grad) != 3 {
		t.Fatalf("expected grad buffer of length 3, got %d", len(tt.Grad))
	}
	tt.Grad[1] = 2
	tt.ZeroGrad()
	if tt.Grad[1] != 0 {
		t.Error("ZeroGrad did not clear gradient buffer")
	}
}

func TestStack(t *testing.T) {
	a, _ := New([]int{2, 2}, []float32{1, 2, 3, 4})
	b, _ := New([]int{2, 2}, []float32{5, 6, 7, 8})
	batch, err := Stack([]*Tensor{a, b})
	if err != nil {
		t.Fatalf("stack failed: %v", err)
	}
	if !ShapesEqual(batch.Shape, []int{2, 2, 2}) {
		t.Fatalf("expected shape [2 2 2], got %v", batch.Shape)
	}
	if batch.Data[4] != 5 {
		t.Errorf("expected second sample to start with 5, got %g", batch.Data[4])
	}

	c, _ := New([]int{3}, []float32{0, 0, 0})
	if _, err := Stack([]*Tensor{a, c}); err == nil {
		t.Error("expected error stacking mismatched shapes")
	}
}
